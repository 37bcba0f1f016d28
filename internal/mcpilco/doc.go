// Package mcpilco implements Monte-Carlo policy evaluation over learned
// dynamics.
//
// A particle ensemble is propagated through a policy and a probabilistic
// one-step dynamics model for a fixed horizon. At every step the empirical
// moments of the ensemble are scored by a cost over Gaussian beliefs and,
// optionally, the ensemble is re-projected onto the Gaussian with the same
// first two moments using pre-drawn standard-normal slices. With common
// random numbers the resulting objective is a deterministic function of the
// policy parameters, so it can be differentiated numerically and minimised.
//
// The entry point is GetLoss, which validates every dimension once and
// returns a Loss that evaluates the unrolled horizon.
package mcpilco
