package mcpilco_test

import (
	"errors"
	"math"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/san-kum/mcpilco/internal/belief"
	"github.com/san-kum/mcpilco/internal/dynamo"
	"github.com/san-kum/mcpilco/internal/mcpilco"
	"gonum.org/v1/gonum/mat"
)

var _ = Describe("PropagateParticles", func() {
	It("adds the predicted delta to every particle", func() {
		x := constantEnsemble(3, 1, 2)
		next, noise, err := mcpilco.PropagateParticles(x,
			&identityPolicy{dim: 2},
			&constDynamics{in: 4, out: 2, delta: []float64{0.5, -1}},
			2, nil, mcpilco.EvalOptions{})
		Expect(err).NotTo(HaveOccurred())
		Expect(noise).NotTo(BeNil())
		for i := 0; i < 3; i++ {
			Expect(next.RawRowView(i)).To(Equal([]float64{1.5, 1}))
		}
		Expect(x.At(0, 0)).To(Equal(1.0))
	})

	It("feeds the policy with angle-augmented states", func() {
		x := constantEnsemble(2, 3, math.Pi/2)
		next, _, err := mcpilco.PropagateParticles(x,
			&biasPolicy{dim: 3, theta: 0.25},
			&constDynamics{in: 4, out: 2, delta: []float64{0, 0}, controlled: true},
			2, []int{1}, mcpilco.EvalOptions{})
		Expect(err).NotTo(HaveOccurred())
		Expect(next.At(1, 0)).To(BeNumerically("~", 3.25, 1e-12))
		Expect(next.At(1, 1)).To(BeNumerically("~", math.Pi/2, 1e-12))
	})

	It("rejects deltas of the wrong width", func() {
		_, _, err := mcpilco.PropagateParticles(constantEnsemble(2, 0, 0),
			&identityPolicy{dim: 2},
			&constDynamics{in: 4, out: 3, delta: []float64{0, 0, 0}},
			2, nil, mcpilco.EvalOptions{})
		Expect(errors.Is(err, dynamo.ErrShapeMismatch)).To(BeTrue())
	})
})

var _ = Describe("Rollout", func() {
	var model mcpilco.Model

	BeforeEach(func() {
		model = mcpilco.Model{
			Policy:   &identityPolicy{dim: 2},
			Dynamics: &constDynamics{in: 4, out: 2, delta: []float64{1, 0}},
			Cost:     firstCoordinate(2),
			D:        2,
		}
	})

	It("scales step t by gamma^(t+1)", func() {
		g := 0.9
		out, _, err := mcpilco.Rollout(constantEnsemble(4, 0, 0), 3, g, model, nil, mcpilco.RolloutOptions{})
		Expect(err).NotTo(HaveOccurred())
		Expect(out.MeanCosts).To(HaveLen(3))
		for t := 0; t < 3; t++ {
			raw := float64(t + 1)
			Expect(out.MeanCosts[t]).To(BeNumerically("~", math.Pow(g, float64(t+1))*raw, 1e-12))
			for i := 0; i < 4; i++ {
				Expect(out.Costs.At(i, t)).To(BeNumerically("~", math.Pow(g, float64(t+1))*raw, 1e-12))
			}
		}
	})

	It("stores outputs by particle then step", func() {
		out, _, err := mcpilco.Rollout(constantEnsemble(4, 0, 0), 5, 1, model, nil, mcpilco.RolloutOptions{})
		Expect(err).NotTo(HaveOccurred())
		r, c := out.Costs.Dims()
		Expect([]int{r, c}).To(Equal([]int{4, 5}))
		Expect(out.Trajectories).To(HaveLen(4))
		for _, tr := range out.Trajectories {
			r, c := tr.Dims()
			Expect([]int{r, c}).To(Equal([]int{5, 2}))
			Expect(tr.At(4, 0)).To(Equal(5.0))
		}
	})

	It("requires a noise slice per step when resampling", func() {
		_, _, err := mcpilco.Rollout(constantEnsemble(4, 0, 0), 3, 1, model, nil, mcpilco.RolloutOptions{Resample: true})
		Expect(errors.Is(err, dynamo.ErrShapeMismatch)).To(BeTrue())
	})

	It("fails with the step of a degenerate resample", func() {
		model.Dynamics = &nanDynamics{in: 4, out: 2}
		model.Cost = quadratic(2, 0, 0)
		z := []*mat.Dense{mat.NewDense(4, 2, nil), mat.NewDense(4, 2, nil)}
		out, updates, err := mcpilco.Rollout(constantEnsemble(4, 0, 0), 2, 1, model, z, mcpilco.RolloutOptions{Resample: true})
		Expect(errors.Is(err, dynamo.ErrNumericalDegeneracy)).To(BeTrue())
		var be *dynamo.BuildError
		Expect(errors.As(err, &be)).To(BeTrue())
		Expect(be.Step).To(Equal(0))
		Expect(out).To(BeNil())
		Expect(updates).To(BeEmpty())
	})

	It("returns the pending updates of deferred components", func() {
		dyn := &pendingDynamics{constDynamics: constDynamics{in: 4, out: 2, delta: []float64{0, 0}}}
		model.Dynamics = dyn
		_, updates, err := mcpilco.Rollout(constantEnsemble(2, 0, 0), 2, 1, model, nil, mcpilco.RolloutOptions{})
		Expect(err).NotTo(HaveOccurred())
		Expect(updates).To(HaveLen(1))
		Expect(dyn.committed).To(Equal(0))
		updates[0].Apply()
		Expect(dyn.committed).To(Equal(1))
	})

	It("records component diagnostics on request", func() {
		model.Policy = &biasPolicy{dim: 2, theta: 0.5}
		model.Dynamics = &constDynamics{in: 3, out: 2, delta: []float64{0, 0}}
		out, _, err := mcpilco.Rollout(constantEnsemble(2, 0, 0), 2, 1, model, nil, mcpilco.RolloutOptions{Intermediate: true})
		Expect(err).NotTo(HaveOccurred())
		Expect(out.Intermediates).To(HaveLen(2))
		Expect(out.Intermediates[1]).To(HaveKey("policy/theta"))
		Expect(out.Intermediates[1]["policy/theta"].At(0, 0)).To(Equal(0.5))
	})

	It("reproduces the propagated moments after resampling", func() {
		a := mat.NewDense(2, 2, []float64{
			0.1, 0.2,
			0, -0.3,
		})
		model.Dynamics = &linearDynamics{in: 4, a: a}
		model.Cost = quadratic(2, 0, 0)

		mx0 := mat.NewVecDense(2, []float64{1, -1})
		sx0 := mat.NewSymDense(2, []float64{0.5, 0.1, 0.1, 0.2})
		l0, ok := belief.Cholesky(sx0)
		Expect(ok).To(BeTrue())

		buf := mcpilco.NewBuffer(3, 30, 2, newSource(7))
		z, grown := buf.Slices(3)
		Expect(grown).To(BeNil())
		x0, err := belief.Sample(mx0, l0, z[0])
		Expect(err).NotTo(HaveOccurred())

		out, _, err := mcpilco.Rollout(x0, 3, 1, model, z, mcpilco.RolloutOptions{Resample: true})
		Expect(err).NotTo(HaveOccurred())

		var b mat.Dense
		b.Add(eye(2), a)
		var m mat.VecDense
		m.CloneFromVec(mx0)
		s := mat.DenseCopyOf(sx0)
		for t := 0; t < 3; t++ {
			var bm mat.VecDense
			bm.MulVec(&b, &m)
			m = bm
			var bs, bsb mat.Dense
			bs.Mul(&b, s)
			bsb.Mul(&bs, b.T())
			s = &bsb

			Expect(mat.EqualApprox(out.Means[t], &m, 1e-9)).To(BeTrue())
			Expect(mat.EqualApprox(out.Covs[t], s, 1e-9)).To(BeTrue())

			step := mat.NewDense(30, 2, nil)
			for i, tr := range out.Trajectories {
				step.SetRow(i, tr.RawRowView(t))
			}
			em, es := belief.Empirical(step)
			Expect(mat.EqualApprox(em, &m, 1e-9)).To(BeTrue())
			Expect(mat.EqualApprox(es, s, 1e-9)).To(BeTrue())
		}
	})
})

func eye(d int) *mat.Dense {
	m := mat.NewDense(d, d, nil)
	for i := 0; i < d; i++ {
		m.Set(i, i, 1)
	}
	return m
}
