/*
Package proxmox wraps github.com/luthermonson/go-proxmox with the typed,
retrying operations a host workflow needs: guest enumeration, status
lookup, and lifecycle transitions (start/stop) with task-handle polling.

Transient transport failures are retried with capped exponential backoff
(base 500ms, factor 2, cap 8s, 4 attempts max); authentication failures
and other domain 4xx errors are never retried. Stopping a guest always
follows the same shutdown-ordering policy: request a graceful shutdown,
wait up to a deadline, escalate to a forced stop if the guest is still
running when the deadline elapses.
*/
package proxmox
