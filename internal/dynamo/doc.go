// Package dynamo provides the shared primitives of the toolkit.
//
// The package defines the value types and interfaces used on the plant side
// (ODE systems, integrators, controllers, metrics) and the error taxonomy
// shared by the rollout core:
//
//   - [State]: vector representing a plant state
//   - [System]: interface for ODE systems (dX/dt = f(X, u, t))
//   - [Integrator]: numerical integrator interface
//   - [Controller]: feedback controller interface
//   - [BuildError]: construction failure with operation and step context
//
// # Errors
//
// Rollout construction fails with one of three sentinels, wrapped in a
// [BuildError]:
//
//	if errors.Is(err, dynamo.ErrShapeMismatch) { ... }
//	if errors.Is(err, dynamo.ErrNumericalDegeneracy) { ... }
//	if errors.Is(err, dynamo.ErrConfiguration) { ... }
package dynamo
