// Package notify carries lifecycle outcomes to the delivery worker.
// Delivery is best-effort: the lifecycle engine never blocks or rolls back
// on a failed notification.
package notify

import (
	"context"
	"encoding/json"
	"log"
	"time"
)

// Kind identifies the lifecycle outcome being announced.
type Kind string

const (
	RegistrationApproved    Kind = "registration_approved"
	RegistrationDisapproved Kind = "registration_disapproved"
	AttendanceApproved      Kind = "attendance_approved"
	AttendanceDisapproved   Kind = "attendance_disapproved"
)

// Envelope is a single pending notification.
type Envelope struct {
	Kind        Kind      `json:"kind"`
	RecipientID string    `json:"recipient_id"`
	EventID     string    `json:"event_id"`
	ActorID     string    `json:"actor_id,omitempty"`
	At          time.Time `json:"at"`
}

// Notifier accepts lifecycle outcomes for delivery.
type Notifier interface {
	Notify(ctx context.Context, env Envelope) error
}

// QueueNotifier publishes envelopes onto a Queue for the worker to drain.
type QueueNotifier struct {
	q Queue
}

// NewQueueNotifier wraps a queue as a Notifier.
func NewQueueNotifier(q Queue) *QueueNotifier {
	return &QueueNotifier{q: q}
}

// Notify enqueues the envelope as JSON.
func (n *QueueNotifier) Notify(ctx context.Context, env Envelope) error {
	if env.At.IsZero() {
		env.At = time.Now().UTC()
	}
	body, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return n.q.Publish(ctx, body)
}

// Decode parses a queued payload back into an Envelope.
func Decode(body []byte) (Envelope, error) {
	var env Envelope
	err := json.Unmarshal(body, &env)
	return env, err
}

// LogNotifier writes outcomes to the process log. Used when no queue
// backend is configured.
type LogNotifier struct{}

// Notify logs the envelope.
func (LogNotifier) Notify(_ context.Context, env Envelope) error {
	log.Printf("notify %s: recipient=%s event=%s", env.Kind, env.RecipientID, env.EventID)
	return nil
}
