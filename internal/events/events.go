package events

import (
	"context"
	"encoding/json"
	"time"
)

// TypePaymentStatus is the wire type of every status message.
const TypePaymentStatus = "payment_status"

// StatusSubTransactionCompleted is the status carried by optional progress
// messages emitted per completed sub-transaction.
const StatusSubTransactionCompleted = "sub_transaction_completed"

// Topic helpers. Status messages go to payments.status.<status>; subscribe to
// TopicAllStatus to receive all of them.
const (
	TopicStatusPrefix = "payments.status."
	TopicAllStatus    = "payments.status.>"
)

// TopicFor returns the bus subject for a status.
func TopicFor(status string) string {
	return TopicStatusPrefix + status
}

// StatusEvent is one payment state transition, emitted after the change is
// durable.
type StatusEvent struct {
	PaymentID string
	Status    string
	Details   map[string]any
	EmittedAt time.Time
}

// Message is the wire form sent to live clients and the bus. Field order and
// presence are stable: details is always an object.
type Message struct {
	Type      string         `json:"type"`
	PaymentID string         `json:"paymentId"`
	Status    string         `json:"status"`
	Details   map[string]any `json:"details"`
	EmittedAt time.Time      `json:"emittedAt"`
}

// NewMessage converts ev to its wire form. A zero EmittedAt is stamped with now.
func NewMessage(ev StatusEvent, now time.Time) Message {
	details := ev.Details
	if details == nil {
		details = map[string]any{}
	}
	emitted := ev.EmittedAt
	if emitted.IsZero() {
		emitted = now
	}
	return Message{
		Type:      TypePaymentStatus,
		PaymentID: ev.PaymentID,
		Status:    ev.Status,
		Details:   details,
		EmittedAt: emitted.UTC(),
	}
}

// Envelope carries an already-encoded payload to a Publisher together with a
// partition key.
type Envelope struct {
	Key     string
	Payload json.RawMessage
}

// PartitionKey is used by publishers that shard by key.
func (e Envelope) PartitionKey() string { return e.Key }

// partitionKey returns the event's partition key, or "" if it has none.
func partitionKey(event any) string {
	if k, ok := event.(interface{ PartitionKey() string }); ok {
		return k.PartitionKey()
	}
	return ""
}

// MarshalJSON emits the payload unchanged.
func (e Envelope) MarshalJSON() ([]byte, error) {
	if len(e.Payload) == 0 {
		return []byte("null"), nil
	}
	return e.Payload, nil
}

// Publisher is the interface for emitting events to an external bus.
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
	Close() error
}
