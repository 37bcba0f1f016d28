// Package belief represents Gaussian beliefs over continuous state and the
// particle ensembles that approximate them.
//
// Means are *mat.VecDense, covariances *mat.SymDense and particle ensembles
// *mat.Dense with one particle per row. The package also provides the angle
// augmentation used by costs and dynamics models: each angular coordinate is
// removed and its (sin, cos) pair appended, either exactly for particles or in
// closed form for Gaussians.
package belief
