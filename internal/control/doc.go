// Package control provides the controllers applied to a plant during an
// episode.
//
// Controllers implement the [dynamo.Controller] interface:
//
//   - [None]: zero control
//   - [Random]: uniform exploration inside the actuator limits
//   - [LQR]: linear state feedback around a target, with angle wrapping
//   - [Policy]: adapter running a learned policy on a single state
//
// # Usage
//
//	ctrl := control.NewRandom([]float64{10}, rand.NewSource(1))
//	ep, err := plant.RunEpisode(ctx, p, ctrl, 40)
//
// Controllers implementing [dynamo.Configurable] support live tuning.
package control
