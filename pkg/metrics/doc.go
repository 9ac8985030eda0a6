/*
Package metrics defines and registers the orchestration core's Prometheus
metrics: environment/template/container/archive gauges, host utilization
gauges fed by pkg/resourceguard, admission-rejection and IaaS-failure
counters, and lifecycle-operation histograms.

All metrics are registered with the default Prometheus registry at package
init; Handler exposes them for scraping. Collector re-derives the gauge
values from pkg/storage on a timer rather than requiring every call site to
push an update, so a gauge never drifts from the repository it describes.

Usage:

	http.Handle("/metrics", metrics.Handler())

	collector := metrics.NewCollector(store)
	collector.Start()
	defer collector.Stop()

	timer := metrics.NewTimer()
	err := orchestrator.CreateEnvironment(ctx, req)
	timer.ObserveDuration(metrics.EnvironmentCreateDuration)
*/
package metrics
