package kafka

import (
	"time"

	"github.com/google/uuid"
)

// EventType — тип события.
type EventType string

const (
	// События арбитра бэкендов.
	EventTypeFallbackActivated EventType = "backend.fallback_activated"
	EventTypeBackendRecovered  EventType = "backend.recovered"
	EventTypeBothFailed        EventType = "backend.both_failed"

	// События заказов.
	EventTypeOrderArchived EventType = "repair_order.archived"
	EventTypeOrderDeleted  EventType = "repair_order.deleted"
)

// Topics для Kafka.
const (
	TopicBackendEvents     = "repairs.backend.events"
	TopicRepairOrderEvents = "repairs.order.events"
)

// BackendEvent — смена режима работы хранилищ.
type BackendEvent struct {
	ID         string    `json:"id"`
	EventType  EventType `json:"event_type"`
	Operation  string    `json:"operation"`
	Backend    string    `json:"backend,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	DowntimeMs int64     `json:"downtime_ms,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// RepairOrderEvent — изменение заказа, выполненное через фасад.
type RepairOrderEvent struct {
	ID            string    `json:"id"`
	EventType     EventType `json:"event_type"`
	OrderNumber   string    `json:"order_number,omitempty"`
	Key           string    `json:"key"`
	KeyKind       string    `json:"key_kind"`
	ArchiveStatus string    `json:"archive_status,omitempty"`
	Source        string    `json:"source"`
	Timestamp     time.Time `json:"timestamp"`
}

// NewBackendEvent создаёт событие арбитра.
func NewBackendEvent(eventType EventType, operation string, at time.Time) *BackendEvent {
	return &BackendEvent{
		ID:        uuid.NewString(),
		EventType: eventType,
		Operation: operation,
		Timestamp: at.UTC(),
	}
}

// NewRepairOrderEvent создаёт событие заказа.
func NewRepairOrderEvent(eventType EventType, key, keyKind, source string, at time.Time) *RepairOrderEvent {
	return &RepairOrderEvent{
		ID:        uuid.NewString(),
		EventType: eventType,
		Key:       key,
		KeyKind:   keyKind,
		Source:    source,
		Timestamp: at.UTC(),
	}
}
