/*
Package log provides structured logging for envforge using zerolog.

The global Logger is initialized once via Init and then narrowed per
component or per entity with the With* helpers, which attach a field (e.g.
environment_id) to every subsequent log line from that child logger.

Usage:

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true, Output: os.Stdout})

	orchLog := log.WithComponent("orchestrator")
	orchLog.Info().Msg("orchestrator started")

	envLog := log.WithEnvironmentID(env.ID)
	envLog.Warn().Str("status", string(env.Status)).Msg("transition rejected")

Console output (JSONOutput: false) is meant for local development; production
deployments should set JSONOutput so the orchestrator's logs can be shipped
to a log aggregator unmodified.
*/
package log
