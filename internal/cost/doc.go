// Package cost evaluates control costs over Gaussian state beliefs.
//
// Every loss shape maps a mean and covariance to the expected cost and its
// variance in closed form, without drawing samples. A nil covariance means
// the state is known exactly, which is how per-particle costs are computed:
//
//	f, _ := cost.Generic(cost.QuadraticSaturatingLoss, p, []int{3}, 4)
//	m, s, err := f(mx, sx)          // moments under N(mx, sx)
//	c, err := cost.Batch(f, particles) // one point cost per row
package cost
