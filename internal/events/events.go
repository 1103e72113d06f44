// Package events publishes record change notifications for downstream consumers.
package events

import "context"

// Event topics.
const (
	TopicRecordInserted = "sync.record.inserted"
	TopicRecordUpdated  = "sync.record.updated"
	TopicSessionClosed  = "sync.session.closed"
)

// RecordChanged is emitted for every inserted or updated record.
type RecordChanged struct {
	EntityType string         `json:"entity_type"`
	Collection string         `json:"collection"`
	Key        string         `json:"key"`
	Changes    map[string]any `json:"changes"` // field name -> new value
}

// SessionClosed is emitted when a connector closes its session.
type SessionClosed struct {
	SessionID   string `json:"session_id"`
	PercentDone int    `json:"percent_done"`
}

// Publisher is the interface for emitting events.
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
	Close() error
}
