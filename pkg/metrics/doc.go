// Package metrics defines and registers every Prometheus metric emitted by
// the fleet orchestrator: fleet-level gauges (hosts by final state,
// concurrent hosts in flight), host workflow phase timings and outcomes,
// guest upgrade counters, and Proxmox API / SSH session counters.
//
// All metrics are package-level variables registered against the default
// Prometheus registry at init time, exposed via Handler for a CLI command
// to serve on an operator-chosen listen address. Nothing in this package
// reads configuration or starts a server itself.
package metrics
