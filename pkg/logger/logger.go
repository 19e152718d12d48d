// Package logger adapts slog to the logging interfaces of third-party
// libraries.
package logger

import (
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Cron returns a cron.Logger that writes through l under a component tag.
func Cron(l *slog.Logger, component string) cron.Logger {
	if l == nil {
		return cron.DiscardLogger
	}
	return cronLogger{log: l.With("component", component)}
}

type cronLogger struct {
	log *slog.Logger
}

// Info is used by cron for schedule and run events; they are debug noise here.
func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.log.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.log.Error(msg, append([]interface{}{"error", err}, keysAndValues...)...)
}
