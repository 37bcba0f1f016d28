package belief

import (
	"errors"
	"math"
	"testing"

	"github.com/san-kum/mcpilco/internal/dynamo"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
)

func TestNewGaussian(t *testing.T) {
	tests := []struct {
		name    string
		mean    []float64
		cov     [][]float64
		wantErr error
	}{
		{"valid", []float64{0, 1}, [][]float64{{1, 0.1}, {0.1, 2}}, nil},
		{"empty", nil, nil, dynamo.ErrConfiguration},
		{"rows", []float64{0, 1}, [][]float64{{1, 0}}, dynamo.ErrShapeMismatch},
		{"ragged", []float64{0, 1}, [][]float64{{1, 0}, {0}}, dynamo.ErrShapeMismatch},
		{"asymmetric", []float64{0, 1}, [][]float64{{1, 0.5}, {0.1, 1}}, dynamo.ErrConfiguration},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := NewGaussian(tt.mean, tt.cov)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if g.Dim() != len(tt.mean) {
				t.Errorf("Dim() = %d, want %d", g.Dim(), len(tt.mean))
			}
		})
	}
}

func TestEmpirical(t *testing.T) {
	x := mat.NewDense(4, 2, []float64{
		1, 2,
		3, 2,
		1, 4,
		3, 4,
	})
	m, s := Empirical(x)
	if m.AtVec(0) != 2 || m.AtVec(1) != 3 {
		t.Errorf("mean = %v, want [2 3]", mat.Formatted(m.T()))
	}
	if math.Abs(s.At(0, 0)-1) > 1e-12 || math.Abs(s.At(1, 1)-1) > 1e-12 || math.Abs(s.At(0, 1)) > 1e-12 {
		t.Errorf("cov = %v, want identity", mat.Formatted(s))
	}
}

func TestWhitenAndSample(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	n, d := 50, 3
	z := mat.NewDense(n, d, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < d; j++ {
			z.Set(i, j, rng.NormFloat64())
		}
	}
	if !Whiten(z) {
		t.Fatal("Whiten failed on a full-rank sample")
	}

	g, err := NewGaussian([]float64{1, -2, 0.5}, [][]float64{
		{2.0, 0.3, 0.1},
		{0.3, 1.0, -0.2},
		{0.1, -0.2, 0.5},
	})
	if err != nil {
		t.Fatal(err)
	}
	l, ok := Cholesky(g.Cov)
	if !ok {
		t.Fatal("covariance should be positive definite")
	}
	x, err := Sample(g.Mean, l, z)
	if err != nil {
		t.Fatal(err)
	}
	m, s := Empirical(x)
	for i := 0; i < d; i++ {
		if math.Abs(m.AtVec(i)-g.Mean.AtVec(i)) > 1e-9 {
			t.Errorf("mean[%d] = %v, want %v", i, m.AtVec(i), g.Mean.AtVec(i))
		}
		for j := 0; j < d; j++ {
			if math.Abs(s.At(i, j)-g.Cov.At(i, j)) > 1e-9 {
				t.Errorf("cov[%d][%d] = %v, want %v", i, j, s.At(i, j), g.Cov.At(i, j))
			}
		}
	}
}

func TestWhiten_TooFewRows(t *testing.T) {
	z := mat.NewDense(2, 3, []float64{1, 2, 3, 4, 5, 6})
	before := mat.DenseCopyOf(z)
	if Whiten(z) {
		t.Fatal("Whiten should refuse n <= d")
	}
	if !mat.Equal(z, before) {
		t.Error("Whiten modified z on failure")
	}
}

func TestJitterCholesky(t *testing.T) {
	singular := mat.NewSymDense(2, []float64{1, 1, 1, 1})
	if _, ok := Cholesky(singular); ok {
		t.Fatal("expected strict Cholesky to reject a singular matrix")
	}
	if _, err := JitterCholesky(singular); err != nil {
		t.Errorf("JitterCholesky failed on singular PSD matrix: %v", err)
	}

	indefinite := mat.NewSymDense(2, []float64{1, 0, 0, -5})
	if _, err := JitterCholesky(indefinite); !errors.Is(err, dynamo.ErrNumericalDegeneracy) {
		t.Errorf("err = %v, want ErrNumericalDegeneracy", err)
	}
}

func TestValidateAngleDims(t *testing.T) {
	tests := []struct {
		dims  []int
		valid bool
	}{
		{nil, true},
		{[]int{3}, true},
		{[]int{0, 3}, true},
		{[]int{4}, false},
		{[]int{-1}, false},
		{[]int{1, 1}, false},
	}
	for _, tt := range tests {
		err := ValidateAngleDims(tt.dims, 4)
		if (err == nil) != tt.valid {
			t.Errorf("ValidateAngleDims(%v) = %v, valid=%v", tt.dims, err, tt.valid)
		}
		if err != nil && !errors.Is(err, dynamo.ErrConfiguration) {
			t.Errorf("ValidateAngleDims(%v) returned %v, want ErrConfiguration", tt.dims, err)
		}
	}
}

func TestAugmentParticles(t *testing.T) {
	x := mat.NewDense(2, 4, []float64{
		0.5, 1.0, 2.0, 0.0,
		-1.0, 0.0, 0.0, math.Pi / 2,
	})
	xa := AugmentParticles(x, []int{3})
	r, c := xa.Dims()
	if r != 2 || c != 5 {
		t.Fatalf("dims = %dx%d, want 2x5", r, c)
	}
	want := [][]float64{
		{0.5, 1.0, 2.0, 0, 1},
		{-1.0, 0.0, 0.0, 1, 0},
	}
	for i := range want {
		for j := range want[i] {
			if math.Abs(xa.At(i, j)-want[i][j]) > 1e-12 {
				t.Errorf("xa[%d][%d] = %v, want %v", i, j, xa.At(i, j), want[i][j])
			}
		}
	}

	back := RestoreAngles(xa.RawRowView(1), 4, []int{3})
	if math.Abs(back[3]-math.Pi/2) > 1e-12 || back[0] != -1 {
		t.Errorf("RestoreAngles = %v", back)
	}
}

func TestAugmentGaussian_ZeroCovariance(t *testing.T) {
	m := mat.NewVecDense(3, []float64{0.3, 1.2, -0.7})
	s := mat.NewSymDense(3, nil)
	ma, sa, _ := AugmentGaussian(m, s, []int{0, 2})
	pa := AugmentPoint(m, []int{0, 2})
	for i := 0; i < ma.Len(); i++ {
		if math.Abs(ma.AtVec(i)-pa.AtVec(i)) > 1e-12 {
			t.Errorf("mean[%d] = %v, want %v", i, ma.AtVec(i), pa.AtVec(i))
		}
		for j := 0; j < ma.Len(); j++ {
			if math.Abs(sa.At(i, j)) > 1e-12 {
				t.Errorf("cov[%d][%d] = %v, want 0", i, j, sa.At(i, j))
			}
		}
	}
}

func TestAugmentGaussian_MonteCarlo(t *testing.T) {
	g, err := NewGaussian([]float64{0.2, 0.8, -0.4}, [][]float64{
		{0.3, 0.05, 0.1},
		{0.05, 0.2, -0.04},
		{0.1, -0.04, 0.5},
	})
	if err != nil {
		t.Fatal(err)
	}
	angles := []int{1, 2}
	ma, sa, _ := AugmentGaussian(g.Mean, g.Cov, angles)

	l, _ := Cholesky(g.Cov)
	rng := rand.New(rand.NewSource(11))
	n := 200000
	z := mat.NewDense(n, 3, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < 3; j++ {
			z.Set(i, j, rng.NormFloat64())
		}
	}
	x, err := Sample(g.Mean, l, z)
	if err != nil {
		t.Fatal(err)
	}
	em, es := Empirical(AugmentParticles(x, angles))

	for i := 0; i < ma.Len(); i++ {
		if math.Abs(em.AtVec(i)-ma.AtVec(i)) > 0.01 {
			t.Errorf("mean[%d]: closed form %v, sampled %v", i, ma.AtVec(i), em.AtVec(i))
		}
		for j := 0; j < ma.Len(); j++ {
			if math.Abs(es.At(i, j)-sa.At(i, j)) > 0.01 {
				t.Errorf("cov[%d][%d]: closed form %v, sampled %v", i, j, sa.At(i, j), es.At(i, j))
			}
		}
	}
}
