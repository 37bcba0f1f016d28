package mcpilco_test

import (
	"errors"
	"math"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/san-kum/mcpilco/internal/dynamo"
	"github.com/san-kum/mcpilco/internal/mcpilco"
	"gonum.org/v1/gonum/mat"
)

var _ = Describe("GetLoss", func() {
	var opts mcpilco.LossOptions

	BeforeEach(func() {
		opts = mcpilco.DefaultLossOptions()
		opts.NSamples = 5
	})

	DescribeTable("rejects inconsistent shapes at construction",
		func(pol mcpilco.Policy, dyn mcpilco.Dynamics, angles []int, want error) {
			_, err := mcpilco.GetLoss(pol, dyn, quadratic(2, 0, 0), 2, angles, opts)
			Expect(errors.Is(err, want)).To(BeTrue(), "got %v", err)
			var be *dynamo.BuildError
			Expect(errors.As(err, &be)).To(BeTrue())
			Expect(be.Op).To(Equal("get loss"))
		},
		Entry("policy input", &identityPolicy{dim: 3}, &constDynamics{in: 6, out: 2}, nil, dynamo.ErrShapeMismatch),
		Entry("policy input ignores angles", &identityPolicy{dim: 2}, &constDynamics{in: 4, out: 2}, []int{1}, dynamo.ErrShapeMismatch),
		Entry("dynamics input", &identityPolicy{dim: 2}, &constDynamics{in: 3, out: 2}, nil, dynamo.ErrShapeMismatch),
		Entry("dynamics output", &identityPolicy{dim: 2}, &constDynamics{in: 4, out: 1}, nil, dynamo.ErrShapeMismatch),
		Entry("angle index", &identityPolicy{dim: 3}, &constDynamics{in: 6, out: 2}, []int{2}, dynamo.ErrConfiguration),
	)

	It("resizes components to the particle count", func() {
		dyn := &constDynamics{in: 4, out: 2, delta: []float64{0, 0}}
		_, err := mcpilco.GetLoss(&identityPolicy{dim: 2}, dyn, quadratic(2, 0, 0), 2, nil, opts)
		Expect(err).NotTo(HaveOccurred())
		Expect(dyn.resized).To(Equal(5))
	})

	It("rejects an empty ensemble", func() {
		opts.NSamples = 0
		_, err := mcpilco.GetLoss(&identityPolicy{dim: 2}, &constDynamics{in: 4, out: 2}, quadratic(2, 0, 0), 2, nil, opts)
		Expect(errors.Is(err, dynamo.ErrConfiguration)).To(BeTrue())
	})
})

var _ = Describe("Loss", func() {
	var (
		opts mcpilco.LossOptions
		in   mcpilco.Inputs
	)

	zeroDelta := func() (*identityPolicy, *constDynamics) {
		return &identityPolicy{dim: 2}, &constDynamics{in: 4, out: 2, delta: []float64{0, 0}}
	}

	BeforeEach(func() {
		opts = mcpilco.DefaultLossOptions()
		opts.NSamples = 5
		opts.IntermediateOutputs = true
		opts.ResampleParticles = false
		in = mcpilco.Inputs{
			Mx0:   mat.NewVecDense(2, []float64{0.5, -0.3}),
			Sx0:   diag(0.1, 0.2),
			H:     3,
			Gamma: 0.8,
		}
	})

	It("keeps a zero-delta ensemble at x0 and discounts its costs", func() {
		pol, dyn := zeroDelta()
		l, err := mcpilco.GetLoss(pol, dyn, quadratic(2, 0, 0), 2, nil, opts)
		Expect(err).NotTo(HaveOccurred())

		res, err := l.Evaluate(in)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Trajectories).To(HaveLen(5))

		g := in.Gamma
		for i, tr := range res.Trajectories {
			x0 := tr.RawRowView(0)
			raw := x0[0]*x0[0] + x0[1]*x0[1]
			for t := 0; t < 3; t++ {
				Expect(tr.RawRowView(t)).To(Equal(x0))
				Expect(res.Costs.At(i, t)).To(BeNumerically("~", math.Pow(g, float64(t+1))*raw, 1e-12))
			}
		}

		// whitened draws give the ensemble exactly the initial moments
		c0 := 0.1 + 0.2 + 0.25 + 0.09
		want := c0 * (g + g*g + g*g*g) / 3
		Expect(res.Loss).To(BeNumerically("~", want, 1e-9))
	})

	It("sums instead of averaging on request", func() {
		pol, dyn := zeroDelta()
		l, _ := mcpilco.GetLoss(pol, dyn, quadratic(2, 0, 0), 2, nil, opts)
		avg, err := l.Evaluate(in)
		Expect(err).NotTo(HaveOccurred())

		opts.Average = false
		l, _ = mcpilco.GetLoss(pol, dyn, quadratic(2, 0, 0), 2, nil, opts)
		sum, err := l.Evaluate(in)
		Expect(err).NotTo(HaveOccurred())
		Expect(sum.Loss).To(BeNumerically("~", 3*avg.Loss, 1e-12))
	})

	It("omits per-particle outputs unless requested", func() {
		opts.IntermediateOutputs = false
		pol, dyn := zeroDelta()
		l, _ := mcpilco.GetLoss(pol, dyn, quadratic(2, 0, 0), 2, nil, opts)
		res, err := l.Evaluate(in)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Costs).To(BeNil())
		Expect(res.Trajectories).To(BeNil())
	})

	It("draws identical initial particles for builds with the same seed", func() {
		opts.ResampleParticles = true
		build := func(seed uint64) *mcpilco.Result {
			pol, dyn := zeroDelta()
			opts.Seed = seed
			l, err := mcpilco.GetLoss(pol, dyn, quadratic(2, 0, 0), 2, nil, opts)
			Expect(err).NotTo(HaveOccurred())
			res, err := l.Evaluate(in)
			Expect(err).NotTo(HaveOccurred())
			return res
		}
		a, b, c := build(42), build(42), build(43)
		Expect(a.Loss).To(Equal(b.Loss))
		for i := range a.Trajectories {
			Expect(mat.Equal(a.Trajectories[i], b.Trajectories[i])).To(BeTrue())
		}
		Expect(mat.Equal(a.Trajectories[0], c.Trajectories[0])).To(BeFalse())
	})

	It("repeats itself under CRN and draws fresh noise without it", func() {
		pol, dyn := zeroDelta()
		l, _ := mcpilco.GetLoss(pol, dyn, quadratic(2, 0, 0), 2, nil, opts)
		first, _ := l.Evaluate(in)
		second, _ := l.Evaluate(in)
		Expect(mat.Equal(first.Costs, second.Costs)).To(BeTrue())

		opts.CRN = false
		l, _ = mcpilco.GetLoss(pol, dyn, quadratic(2, 0, 0), 2, nil, opts)
		Expect(l.Buffer()).To(BeNil())
		first, _ = l.Evaluate(in)
		second, _ = l.Evaluate(in)
		Expect(mat.Equal(first.Costs, second.Costs)).To(BeFalse())
	})

	It("grows the buffer only when an evaluation succeeds", func() {
		opts.Capacity = 2
		opts.ResampleParticles = true
		l, err := mcpilco.GetLoss(&identityPolicy{dim: 2}, &nanDynamics{in: 4, out: 2}, quadratic(2, 0, 0), 2, nil, opts)
		Expect(err).NotTo(HaveOccurred())
		in.H = 5
		_, err = l.Evaluate(in)
		Expect(errors.Is(err, dynamo.ErrNumericalDegeneracy)).To(BeTrue())
		Expect(l.Buffer().Len()).To(Equal(2))

		pol, dyn := zeroDelta()
		l, _ = mcpilco.GetLoss(pol, dyn, quadratic(2, 0, 0), 2, nil, opts)
		res, err := l.Evaluate(in)
		Expect(err).NotTo(HaveOccurred())
		Expect(l.Buffer().Len()).To(Equal(6))
		_, c := res.Costs.Dims()
		Expect(c).To(Equal(5))
	})

	It("commits deferred updates after a successful evaluation", func() {
		dyn := &pendingDynamics{constDynamics: constDynamics{in: 4, out: 2, delta: []float64{0, 0}}}
		l, _ := mcpilco.GetLoss(&identityPolicy{dim: 2}, dyn, quadratic(2, 0, 0), 2, nil, opts)
		_, err := l.Evaluate(in)
		Expect(err).NotTo(HaveOccurred())
		Expect(dyn.committed).To(Equal(1))

		in.Sx0 = diag(0.1, -0.2)
		_, err = l.Evaluate(in)
		Expect(err).To(HaveOccurred())
		Expect(dyn.committed).To(Equal(1))
	})

	DescribeTable("rejects bad inputs",
		func(mutate func(*mcpilco.Inputs), want error) {
			pol, dyn := zeroDelta()
			l, _ := mcpilco.GetLoss(pol, dyn, quadratic(2, 0, 0), 2, nil, opts)
			mutate(&in)
			_, err := l.Evaluate(in)
			Expect(errors.Is(err, want)).To(BeTrue(), "got %v", err)
		},
		Entry("indefinite covariance", func(in *mcpilco.Inputs) { in.Sx0 = diag(1, 0) }, dynamo.ErrConfiguration),
		Entry("zero horizon", func(in *mcpilco.Inputs) { in.H = 0 }, dynamo.ErrConfiguration),
		Entry("mean length", func(in *mcpilco.Inputs) { in.Mx0 = mat.NewVecDense(3, nil) }, dynamo.ErrShapeMismatch),
		Entry("missing covariance", func(in *mcpilco.Inputs) { in.Sx0 = nil }, dynamo.ErrConfiguration),
	)
})

var _ = Describe("BuildRollout", func() {
	It("accepts plain slices and returns the per-particle outputs", func() {
		opts := mcpilco.DefaultLossOptions()
		opts.NSamples = 4
		rollout, err := mcpilco.BuildRollout(&identityPolicy{dim: 2},
			&constDynamics{in: 4, out: 2, delta: []float64{0.1, 0}},
			quadratic(2, 0, 0), 2, nil, opts)
		Expect(err).NotTo(HaveOccurred())

		loss, costs, trajectories, err := rollout([]float64{0, 0}, [][]float64{{1, 0}, {0, 1}}, 6, 1)
		Expect(err).NotTo(HaveOccurred())
		Expect(loss).To(BeNumerically(">", 0))
		r, c := costs.Dims()
		Expect([]int{r, c}).To(Equal([]int{4, 6}))
		Expect(trajectories).To(HaveLen(4))
	})

	It("rejects malformed slices", func() {
		rollout, err := mcpilco.BuildRollout(&identityPolicy{dim: 2},
			&constDynamics{in: 4, out: 2, delta: []float64{0, 0}},
			quadratic(2, 0, 0), 2, nil, mcpilco.DefaultLossOptions())
		Expect(err).NotTo(HaveOccurred())
		_, _, _, err = rollout([]float64{0, 0}, [][]float64{{1, 0.5}, {0, 1}}, 2, 1)
		Expect(errors.Is(err, dynamo.ErrConfiguration)).To(BeTrue())
		_, _, _, err = rollout([]float64{0, 0}, [][]float64{{1, 0}}, 2, 1)
		Expect(errors.Is(err, dynamo.ErrShapeMismatch)).To(BeTrue())
	})
})
