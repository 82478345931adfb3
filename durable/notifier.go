package durable

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/agentloop/loop"
)

// Notification tells the user about a loop's progress or outcome.
type Notification struct {
	LoopID    string      `json:"loop_id"`
	Status    loop.Status `json:"status"`
	Message   string      `json:"message"`
	CreatedAt time.Time   `json:"created_at"`
}

// Notifier delivers notifications. Delivery is best-effort; the caller
// ignores errors beyond logging them.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, n Notification) error

func (f NotifierFunc) Notify(ctx context.Context, n Notification) error {
	return f(ctx, n)
}

// LogNotifier writes notifications to the log. It is the default sink
// when no external channel is wired.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a log-backed notifier.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger.With(zap.String("component", "notifier"))}
}

func (l *LogNotifier) Notify(_ context.Context, n Notification) error {
	l.logger.Info("loop notification",
		zap.String("loop_id", n.LoopID),
		zap.String("status", string(n.Status)),
		zap.String("message", n.Message))
	return nil
}

var _ Notifier = (*LogNotifier)(nil)
