/*
Package log provides structured logging for stackd built on zerolog.

Call Init once at startup to configure the global logger (level, JSON or
console output), then derive child loggers per concern:

	log.Init(log.Config{Level: log.InfoLevel})
	logger := log.WithComponent("orchestrator")
	logger.Info().Str("service", "database").Msg("service running")

WithComponent, WithRunID, WithService and WithVolume attach the standard
correlation fields used across the codebase so a single orchestration run
can be filtered out of interleaved output.
*/
package log
