/*
Package types defines the data model for a fleet maintenance run: the
manifest entities parsed from the configuration file, the effective,
inheritance-resolved view of a single host that the workflow engine
consumes, the runtime descriptors discovered from the Proxmox API, and
the outcome recorded for each host once its maintenance run finishes.

# Lifecycle

Manifest entities (Defaults, HostEntry, GuestInventoryEntry) are parsed
once per run and treated as immutable. EffectiveHostView values are
derived once per host at scheduler dispatch by resolving inheritance
against Defaults. GuestDescriptor values are discovered from the Proxmox
API at workflow start and refreshed only at explicit checkpoints.
RunOutcome accumulates as a workflow executes and is emitted at the end.

# Ownership

The fleet scheduler owns the Manifest and every EffectiveHostView for the
duration of a run. Each host workflow owns its own GuestDescriptor set and
RunOutcome exclusively; nothing here is shared or mutated across workflows.
*/
package types
