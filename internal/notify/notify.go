// Package notify delivers free-text messages to users. Delivery is best
// effort: implementations log failures and never return them to callers.
package notify

import (
	"context"

	"go.uber.org/zap"
)

type Notifier interface {
	Deliver(ctx context.Context, recipientID int64, text string)
}

// Log writes every message to the structured log.
type Log struct{ log *zap.Logger }

func NewLog(log *zap.Logger) *Log {
	if log == nil {
		log = zap.NewNop()
	}
	return &Log{log: log}
}

func (l *Log) Deliver(_ context.Context, recipientID int64, text string) {
	l.log.Info("notification", zap.Int64("recipient_id", recipientID), zap.String("text", text))
}

// Multi fans a message out to every notifier in order.
type Multi []Notifier

func (m Multi) Deliver(ctx context.Context, recipientID int64, text string) {
	for _, n := range m {
		if n != nil {
			n.Deliver(ctx, recipientID, text)
		}
	}
}
