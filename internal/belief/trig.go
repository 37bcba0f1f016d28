package belief

import (
	"math"

	"github.com/san-kum/mcpilco/internal/dynamo"
	"gonum.org/v1/gonum/mat"
)

// ValidateAngleDims checks that every angle index is a distinct index of a
// d-dimensional state.
func ValidateAngleDims(angleDims []int, d int) error {
	seen := make(map[int]bool, len(angleDims))
	for _, i := range angleDims {
		if i < 0 || i >= d {
			return dynamo.Configf("angle index %d outside state of dimension %d", i, d)
		}
		if seen[i] {
			return dynamo.Configf("angle index %d repeated", i)
		}
		seen[i] = true
	}
	return nil
}

// AugmentedDim is the dimension of a d-dimensional state after angle augmentation.
func AugmentedDim(d int, angleDims []int) int {
	return d + len(angleDims)
}

func nonAngleDims(d int, angleDims []int) []int {
	isAngle := make(map[int]bool, len(angleDims))
	for _, i := range angleDims {
		isAngle[i] = true
	}
	dims := make([]int, 0, d-len(angleDims))
	for i := 0; i < d; i++ {
		if !isAngle[i] {
			dims = append(dims, i)
		}
	}
	return dims
}

// AugmentParticles removes the angle columns of x and appends their
// (sin, cos) pairs, in the order given by angleDims.
func AugmentParticles(x mat.Matrix, angleDims []int) *mat.Dense {
	n, d := x.Dims()
	plain := nonAngleDims(d, angleDims)
	xa := mat.NewDense(n, AugmentedDim(d, angleDims), nil)
	for r := 0; r < n; r++ {
		for k, j := range plain {
			xa.Set(r, k, x.At(r, j))
		}
		off := len(plain)
		for a, i := range angleDims {
			sin, cos := math.Sincos(x.At(r, i))
			xa.Set(r, off+2*a, sin)
			xa.Set(r, off+2*a+1, cos)
		}
	}
	return xa
}

// AugmentPoint is AugmentParticles for a single state vector.
func AugmentPoint(x mat.Vector, angleDims []int) *mat.VecDense {
	row := mat.NewDense(1, x.Len(), nil)
	for j := 0; j < x.Len(); j++ {
		row.Set(0, j, x.AtVec(j))
	}
	xa := AugmentParticles(row, angleDims)
	return mat.NewVecDense(xa.RawMatrix().Cols, xa.RawRowView(0))
}

// RestoreAngles inverts AugmentParticles for one augmented state, recovering
// each angle with atan2 from its (sin, cos) pair.
func RestoreAngles(xa []float64, d int, angleDims []int) dynamo.State {
	plain := nonAngleDims(d, angleDims)
	x := make(dynamo.State, d)
	for k, j := range plain {
		x[j] = xa[k]
	}
	off := len(plain)
	for a, i := range angleDims {
		x[i] = math.Atan2(xa[off+2*a], xa[off+2*a+1])
	}
	return x
}

// AugmentGaussian returns the moments of the angle-augmented state when x ~
// N(m, s), together with the D×Da matrix C such that Cov(x, xa) = s·C.
func AugmentGaussian(m mat.Vector, s mat.Symmetric, angleDims []int) (*mat.VecDense, *mat.SymDense, *mat.Dense) {
	d := m.Len()
	plain := nonAngleDims(d, angleDims)
	off := len(plain)
	da := AugmentedDim(d, angleDims)

	ma := mat.NewVecDense(da, nil)
	c := mat.NewDense(d, da, nil)
	for k, j := range plain {
		ma.SetVec(k, m.AtVec(j))
		c.Set(j, k, 1)
	}
	for a, i := range angleDims {
		e := math.Exp(-s.At(i, i) / 2)
		sin, cos := math.Sincos(m.AtVec(i))
		ma.SetVec(off+2*a, e*sin)
		ma.SetVec(off+2*a+1, e*cos)
		c.Set(i, off+2*a, e*cos)
		c.Set(i, off+2*a+1, -e*sin)
	}

	var cross mat.Dense
	cross.Mul(s, c)

	sa := mat.NewSymDense(da, nil)
	for p, i := range plain {
		for q := 0; q <= p; q++ {
			sa.SetSym(p, q, s.At(i, plain[q]))
		}
		for q := off; q < da; q++ {
			sa.SetSym(p, q, cross.At(i, q))
		}
	}
	for a, i := range angleDims {
		for b := 0; b <= a; b++ {
			j := angleDims[b]
			vij := s.At(i, j)
			lq := -(s.At(i, i) + s.At(j, j)) / 2
			q := math.Exp(lq)
			plus := math.Exp(lq+vij) - q
			minus := math.Exp(lq-vij) - q
			mi, mj := m.AtVec(i), m.AtVec(j)

			sinSin := (plus*math.Cos(mi-mj) - minus*math.Cos(mi+mj)) / 2
			cosCos := (plus*math.Cos(mi-mj) + minus*math.Cos(mi+mj)) / 2
			sinCos := (plus*math.Sin(mi-mj) + minus*math.Sin(mi+mj)) / 2
			cosSin := (plus*math.Sin(mj-mi) + minus*math.Sin(mi+mj)) / 2

			si, ci := off+2*a, off+2*a+1
			sj, cj := off+2*b, off+2*b+1
			sa.SetSym(si, sj, sinSin)
			sa.SetSym(ci, cj, cosCos)
			sa.SetSym(si, cj, sinCos)
			if a != b {
				sa.SetSym(ci, sj, cosSin)
			}
		}
	}
	return ma, sa, c
}
