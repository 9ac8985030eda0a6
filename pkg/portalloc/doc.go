/*
Package portalloc allocates host ports for Container Instances out of a
fixed range, keyed in memory behind a single mutex and mirrored to durable
PortLease records via pkg/storage so a restarted orchestrator reconstructs
its free set instead of double-allocating a port still in use.

Reserve always picks the lowest free port in range; this keeps allocation
deterministic and keeps the free set compact rather than scattering leases
across the whole range.

Usage:

	alloc, err := portalloc.New(store, 8000, 9000)
	ports, err := alloc.Reserve(environmentID, 2)
	...
	err = alloc.Release(environmentID)
*/
package portalloc
