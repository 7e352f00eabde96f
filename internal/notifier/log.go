// Package notifier delivers alerts to humans via logs or Telegram.
package notifier

import (
	"context"

	"go.uber.org/zap"

	"github.com/DeadManOfficial/HF-Agent-Infinite/internal/agent"
)

// Log writes alerts to the service log. It is the default channel when
// no external notifier is configured.
type Log struct {
	log *zap.Logger
}

// NewLog creates a log-backed notifier.
func NewLog(logger *zap.Logger) *Log {
	return &Log{log: logger}
}

// Send logs the alert at a level matching its severity.
func (n *Log) Send(_ context.Context, alert agent.Alert) error {
	fields := []zap.Field{
		zap.String("title", alert.Title),
		zap.String("level", string(alert.Level)),
	}
	switch alert.Level {
	case agent.AlertError:
		n.log.Error(alert.Message, fields...)
	case agent.AlertWarning:
		n.log.Warn(alert.Message, fields...)
	default:
		n.log.Info(alert.Message, fields...)
	}
	return nil
}
