/*
Package log provides structured logging for modlog using zerolog.

Call Init once from main. Until then the global Logger discards everything,
which keeps package tests quiet.

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})

	bridgeLog := log.WithComponent("bridge")
	bridgeLog.Info().Int("queue", 3).Msg("worker started")

Child loggers carry the usual context keys: component, log_id, requester and
archive.
*/
package log
