package notify

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/castellan-io/castellan/platform/events"
)

// Request asks for one notification to one recipient. The dispatcher owns
// channel selection: it consults the recipient's notification settings and
// delivers over email/push/in-app as enabled. The core only decides that a
// notification-worthy event occurred.
type Request struct {
	MembershipID uuid.UUID
	EventType    events.Type
	Payload      map[string]string
}

// Dispatcher accepts delivery requests. Enqueue is fire-and-forget from the
// caller's perspective; implementations must never block the domain operation.
type Dispatcher interface {
	Enqueue(ctx context.Context, req Request)
}

// LogDispatcher records dispatch requests through zap. It stands in wherever
// a real mail/push backend is not wired, including tests and local runs.
type LogDispatcher struct {
	logger *zap.Logger
}

// NewLogDispatcher constructs a LogDispatcher.
func NewLogDispatcher(logger *zap.Logger) *LogDispatcher {
	if logger == nil {
		panic("logger is required")
	}
	return &LogDispatcher{logger: logger}
}

// Enqueue logs the request and returns.
func (d *LogDispatcher) Enqueue(_ context.Context, req Request) {
	d.logger.Info("notification enqueued",
		zap.String("membership_id", req.MembershipID.String()),
		zap.String("event_type", string(req.EventType)),
	)
}

var _ Dispatcher = (*LogDispatcher)(nil)
