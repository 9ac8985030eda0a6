/*
Package health provides the health check mechanisms the orchestrator uses to
watch Container Instances: HTTP, TCP, and Exec checkers behind a common
Checker interface, plus Status bookkeeping for consecutive pass/fail counts.

A Status starts healthy and flips to unhealthy once ConsecutiveFailures
reaches the configured Retries; it flips back to healthy on the very next
success. InStartPeriod lets a container finish booting before its first
check counts against it.

Usage:

	checker := health.NewHTTPChecker("http://127.0.0.1:8080/health")
	status := health.NewStatus()
	cfg := health.DefaultConfig()

	for {
		result := checker.Check(ctx)
		status.Update(result, cfg)
		if !status.Healthy {
			// reaper or container driver reacts
		}
		time.Sleep(cfg.Interval)
	}
*/
package health
