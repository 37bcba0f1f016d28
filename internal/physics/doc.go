// Package physics provides the continuous-time plants that policies are
// learned on.
//
// Each model implements [dynamo.System] and [dynamo.Configurable]. States
// put the angle last so that angle augmentation appends its (sin, cos) pair
// where the cost expects it:
//
//   - [CartPole]: [x, dx, dtheta, theta], force on the cart
//   - [Pendulum]: [dtheta, theta], torque at the pivot
//
// theta = 0 is hanging down and theta = π is upright.
package physics
