/*
Package trace provides the phase-transition tracer used to make a fleet
run's progress observable. Every host workflow records a Transition each
time it finishes a phase (spec §4.5); the CLI subscribes to render live
progress, and tests read the recorded history to assert phase ordering and that cancellation stops new phases promptly (spec §8,
Testable Properties 4, 6, 7) without reaching into workflow internals.
*/
package trace
