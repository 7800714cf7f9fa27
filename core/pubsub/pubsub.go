// Package pubsub provides the in-process event bus used by the chain
// executor to broadcast run and node transitions to monitoring consumers.
package pubsub

import (
	"time"
)

// Event is one run-lifecycle notification. NodeID is empty for run-level
// events (run started, run finished).
type Event struct {
	RunID     string    `json:"runId"`
	NodeID    string    `json:"nodeId,omitempty"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Done      bool      `json:"done"` // marks the terminal event of a run stream
}

// Subscription is a consumer's connection to a topic.
type Subscription interface {
	Chan() <-chan *Event
	Close() error
}

// Bus is the publish/subscribe contract. Subscribers that join late receive
// a replay of the cached events for the topic before live delivery starts.
type Bus interface {
	Publish(topic string, event *Event) error
	Subscribe(topic string, consumerID string) (Subscription, error)
	Unsubscribe(topic string, consumerID string) error
	Close() error
}
