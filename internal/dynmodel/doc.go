// Package dynmodel provides the one-step dynamics models used inside
// particle rollouts: a Bayesian linear-Gaussian regression fitted on
// collected experience, and a model backed by a known physical system.
//
// Both predict state deltas for batches of [xa, u] rows, where xa is the
// angle-augmented state.
package dynmodel
