package mcpilco_test

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/san-kum/mcpilco/internal/dynamo"
	"github.com/san-kum/mcpilco/internal/mcpilco"
	"gonum.org/v1/gonum/mat"
)

var _ = Describe("Optimize", func() {
	var (
		pol *biasPolicy
		l   *mcpilco.Loss
		in  mcpilco.Inputs
	)

	// One step of x' = x + θ under a quadratic cost: the loss is
	// 0.5 + (2 + θ)², minimised at θ = -2.
	BeforeEach(func() {
		pol = &biasPolicy{dim: 1}
		dyn := &constDynamics{in: 2, out: 1, delta: []float64{0}, controlled: true}
		opts := mcpilco.DefaultLossOptions()
		opts.NSamples = 20
		var err error
		l, err = mcpilco.GetLoss(pol, dyn, quadratic(1, 0), 1, nil, opts)
		Expect(err).NotTo(HaveOccurred())
		in = mcpilco.Inputs{Mx0: mat.NewVecDense(1, []float64{2}), Sx0: diag(0.5), H: 1, Gamma: 1}
	})

	It("evaluates a deterministic objective with an accurate gradient", func() {
		obj, err := l.Objective(in)
		Expect(err).NotTo(HaveOccurred())
		Expect(obj.Value([]float64{1})).To(BeNumerically("~", 9.5, 1e-9))
		Expect(obj.Value([]float64{1})).To(Equal(obj.Value([]float64{1})))

		grad := make([]float64, 1)
		obj.Gradient(grad, []float64{1})
		Expect(grad[0]).To(BeNumerically("~", 6, 1e-5))
		Expect(obj.Err()).NotTo(HaveOccurred())
	})

	It("finds the minimising parameters with BFGS", func() {
		res, err := mcpilco.Optimize(context.Background(), l, in, mcpilco.OptimizeOptions{
			MaxIterations:     50,
			GradientThreshold: 1e-6,
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Params[0]).To(BeNumerically("~", -2, 1e-4))
		Expect(res.Loss).To(BeNumerically("~", 0.5, 1e-6))
		Expect(res.Initial).To(BeNumerically("~", 4.5, 1e-9))
		Expect(pol.theta).To(Equal(res.Params[0]))
	})

	It("supports Nelder-Mead", func() {
		res, err := mcpilco.Optimize(context.Background(), l, in, mcpilco.OptimizeOptions{
			Method:         mcpilco.MethodNelderMead,
			MaxEvaluations: 500,
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Params[0]).To(BeNumerically("~", -2, 1e-2))
		Expect(res.Loss).To(BeNumerically("<", res.Initial))
	})

	It("rejects an unknown method", func() {
		_, err := mcpilco.Optimize(context.Background(), l, in, mcpilco.OptimizeOptions{Method: "sgd"})
		Expect(errors.Is(err, dynamo.ErrConfiguration)).To(BeTrue())
	})

	It("needs a parametric policy", func() {
		l, err := mcpilco.GetLoss(&identityPolicy{dim: 1}, &constDynamics{in: 2, out: 1, delta: []float64{0}}, quadratic(1, 0), 1, nil, mcpilco.DefaultLossOptions())
		Expect(err).NotTo(HaveOccurred())
		_, err = l.Objective(in)
		Expect(errors.Is(err, dynamo.ErrConfiguration)).To(BeTrue())
	})

	It("reports a failing initial evaluation", func() {
		in.Sx0 = diag(-1)
		_, err := mcpilco.Optimize(context.Background(), l, in, mcpilco.OptimizeOptions{})
		Expect(errors.Is(err, dynamo.ErrConfiguration)).To(BeTrue())
	})
})

var _ = Describe("Objective gradient", func() {
	// x' = x + θ0 + θ1·x under a quadratic cost. With the sampled initial
	// ensemble fixed, x' has mean (1+θ1)m + θ0 and variance (1+θ1)²s, so
	//   dL/dθ0 = 2·mean
	//   dL/dθ1 = 2(1+θ1)s + 2·mean·m
	It("matches the analytic gradient of a two-parameter policy", func() {
		pol := &affinePolicy{}
		dyn := &constDynamics{in: 2, out: 1, delta: []float64{0}, controlled: true}
		opts := mcpilco.DefaultLossOptions()
		opts.NSamples = 30
		opts.IntermediateOutputs = true
		l, err := mcpilco.GetLoss(pol, dyn, quadratic(1, 0), 1, nil, opts)
		Expect(err).NotTo(HaveOccurred())
		in := mcpilco.Inputs{Mx0: mat.NewVecDense(1, []float64{1.5}), Sx0: diag(0.4), H: 1, Gamma: 1}

		// θ = 0 leaves the sampled ensemble untouched.
		res, err := l.Evaluate(in)
		Expect(err).NotTo(HaveOccurred())
		m := res.Rollout.Means[0].AtVec(0)
		s := res.Rollout.Covs[0].At(0, 0)
		Expect(s).To(BeNumerically(">", 0))

		theta := []float64{0.5, -0.3}
		a := 1 + theta[1]
		mean := a*m + theta[0]

		obj, err := l.Objective(in)
		Expect(err).NotTo(HaveOccurred())
		Expect(obj.Value(theta)).To(BeNumerically("~", a*a*s+mean*mean, 1e-9))

		grad := make([]float64, 2)
		obj.Gradient(grad, theta)
		Expect(obj.Err()).NotTo(HaveOccurred())
		Expect(grad[0]).To(BeNumerically("~", 2*mean, 1e-5))
		Expect(grad[1]).To(BeNumerically("~", 2*a*s+2*mean*m, 1e-5))
		Expect(obj.Evaluations()).To(Equal(1 + 2*len(theta)))
	})
})
