package queue

import (
	"context"
	"time"
)

// State is where a job currently sits in the queue.
type State string

const (
	StateDelayed State = "delayed" // waiting for its fire time
	StateWaiting State = "waiting" // due, not yet picked up
	StateActive  State = "active"  // picked up by a worker
)

// PendingStates covers everything that has not finished executing. A job
// present in any of these states implies it has not completed.
var PendingStates = []State{StateDelayed, StateWaiting, StateActive}

// Job keys routed to workers.
const (
	JobFollowUp   = "follow-up"
	JobTrackEvent = "track-event"
)

// Payload is the job body. Fields are populated per job kind: follow-up
// jobs reference campaign/sequence/step rows, track-event jobs carry the
// open/click signal.
type Payload struct {
	Kind        string            `json:"kind"`
	CampaignID  uint              `json:"campaign_id,omitempty"`
	SequenceID  uint              `json:"sequence_id,omitempty"`
	StepID      uint              `json:"step_id,omitempty"`
	ScheduledAt *time.Time        `json:"scheduled_at,omitempty"`
	MessageID   string            `json:"message_id,omitempty"`
	EventType   string            `json:"event_type,omitempty"`
	OccurredAt  *time.Time        `json:"occurred_at,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Job is a queued unit of work. Timestamp is the instant the job becomes
// (or became) eligible to run; Delay is the remaining delay and stays
// positive while the job is in the delayed state.
type Job struct {
	ID        string
	Key       string
	Payload   Payload
	Timestamp time.Time
	Delay     time.Duration
	State     State
}

// Adapter is the narrow contract the core consumes. The queue guarantees
// that a job listed in a pending state has not yet executed.
type Adapter interface {
	EnqueueDelayed(ctx context.Context, jobKey string, payload Payload, fireAt time.Time) (string, error)
	ListPending(ctx context.Context, states ...State) ([]Job, error)
	Cancel(ctx context.Context, jobID string) error
}

// Consumer is the worker-side contract: promote due jobs out of the
// delayed set, pop them per key, acknowledge when done.
type Consumer interface {
	PromoteDue(ctx context.Context, now time.Time) (int, error)
	PopWaiting(ctx context.Context, jobKey string) (*Job, error)
	Ack(ctx context.Context, jobID string) error
}

// Queue is the full surface an implementation provides.
type Queue interface {
	Adapter
	Consumer
}
