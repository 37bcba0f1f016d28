// Package policy provides parametric controllers that act on batches of
// angle-augmented states.
//
// Every policy flattens its parameters into one vector for optimisation and
// declares a snapshot schema so its state can be stored between runs.
package policy
