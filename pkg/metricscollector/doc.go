/*
Package metricscollector polls resource usage on a fixed interval: ambient
host CPU/memory/disk from pkg/resourceguard's cached Snapshot, and per-
container CPU/memory from pkg/containerdriver for every RUNNING Environment.
Every sample is persisted through pkg/storage (an append-only record a
reaper scan later prunes); per-container samples are also forwarded to a
Notifier, keyed by the owning Environment's owner id, so subscribed clients
see near-live numbers without polling the repository themselves.

The collector runs its tick synchronously inside the same loop that waits
on the ticker, the same shape pkg/metrics.Collector uses for its Prometheus
gauges: a tick that takes longer than the interval to persist simply delays
the next collection rather than starting a second one concurrently or
queuing ticks unboundedly.

Usage:

	mc := metricscollector.New(store, guard, driver, notifier, 0)
	mc.Start()
	defer mc.Stop()
*/
package metricscollector
