/*
Package resourceguard samples host CPU, memory, and disk utilization on a
timer and exposes a cheap Admit check the Orchestrator calls before placing
a new Environment, so admission never blocks on a live syscall.

Usage:

	guard, err := resourceguard.New(resourceguard.Config{
		CPUCapPct: 80, MemCapPct: 80, DiskCapPct: 85,
	})
	go guard.Run(ctx)

	if err := guard.Admit(tmpl.MemoryMiB); err != nil {
		return err // errdefs.KindInsufficientResources
	}
*/
package resourceguard
