// Package analytics publishes viewer usage events to Kafka for the
// downstream co-occurrence and timeline panels.
package analytics

import "time"

type EventType string

const (
	EventOpen      EventType = "open"
	EventPrefetch  EventType = "prefetch"
	EventThumbnail EventType = "thumbnail"
	EventNavigate  EventType = "navigate"
	EventFailure   EventType = "failure"
)

// ViewEvent records one document interaction.
type ViewEvent struct {
	Type      EventType `json:"type"`
	Key       string    `json:"key"`
	Origin    string    `json:"origin,omitempty"`
	Pages     int       `json:"pages,omitempty"`
	LatencyMs int64     `json:"latency_ms"`
	CacheHit  bool      `json:"cache_hit"`
	Action    string    `json:"action,omitempty"`
	Error     string    `json:"error,omitempty"`
	Session   string    `json:"session,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
}
