// Package metrics scores plant episodes. Every metric implements
// [dynamo.Metric] and is fed one (state, control, time) sample per control
// period by plant.RunEpisode.
package metrics
