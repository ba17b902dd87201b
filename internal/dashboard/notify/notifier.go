package notify

import (
	"context"
	"time"

	measurement "speedboard/internal/measurement/domain"
)

// CycleMessage describes a refresh cycle that finished with failures.
type CycleMessage struct {
	CycleID   string                 `json:"cycle_id"`
	Sequence  uint64                 `json:"sequence"`
	Window    measurement.TimeWindow `json:"window"`
	Rendered  int                    `json:"rendered"`
	Failures  map[string]string      `json:"failures"`
	StartedAt time.Time              `json:"started_at"`
}

// Notifier sends notifications.
type Notifier interface {
	Notify(ctx context.Context, msg CycleMessage) error
}
