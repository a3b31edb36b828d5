// Package fleet implements the Fleet Scheduler (spec §4.7): given a
// Manifest and a host filter, it resolves secrets, dispatches one Host
// Workflow per selected host through a bounded worker pool, and
// aggregates their Run Outcomes into a single scheduler exit code.
package fleet
