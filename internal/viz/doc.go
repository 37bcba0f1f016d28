// Package viz draws a plant in the terminal while a controller runs on it.
//
// A [Stream] runs the episode in its own goroutine and sends one [Frame]
// per control period; a [Model] is the Bubble Tea program that renders the
// frames on a braille [Canvas] next to a cost chart.
//
// # Key Bindings
//
//	Space - Pause/Resume the view (the plant waits)
//	Q     - Quit
package viz
