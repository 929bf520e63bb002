package kafka

import (
	"context"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/Cal9233/genthrust-repairs/internal/domain"
	"github.com/Cal9233/genthrust-repairs/internal/failover"
)

// DefaultQueueSize — ёмкость очереди сигналов арбитра.
const DefaultQueueSize = 256

// Publisher — то, что Notifier требует от Producer.
type Publisher interface {
	PublishEvent(topic string, key string, eventType EventType, event any) error
}

type envelope struct {
	topic     string
	key       string
	eventType EventType
	event     any
}

// NotifierOption настраивает Notifier.
type NotifierOption func(*Notifier)

// WithQueueSize задаёт ёмкость очереди.
func WithQueueSize(size int) NotifierOption {
	return func(n *Notifier) {
		if size > 0 {
			n.queue = make(chan envelope, size)
		}
	}
}

// WithNotifierClock подменяет часы.
func WithNotifierClock(now func() time.Time) NotifierOption {
	return func(n *Notifier) {
		if now != nil {
			n.now = now
		}
	}
}

// WithNotifierLogger задаёт logger.
func WithNotifierLogger(logger *log.Entry) NotifierOption {
	return func(n *Notifier) {
		if logger != nil {
			n.logger = logger
		}
	}
}

// Notifier переводит сигналы арбитра и операции фасада в события Kafka.
// Сигналы арбитра ставятся в очередь и отправляются из Run, чтобы не
// задерживать запросы; при переполнении очереди событие отбрасывается.
type Notifier struct {
	publisher Publisher
	queue     chan envelope
	now       func() time.Time
	logger    *log.Entry
	dropped   atomic.Int64
}

// NewNotifier создаёт notifier поверх publisher.
func NewNotifier(publisher Publisher, opts ...NotifierOption) *Notifier {
	n := &Notifier{
		publisher: publisher,
		queue:     make(chan envelope, DefaultQueueSize),
		now:       time.Now,
		logger:    log.WithField("component", "kafka-notifier"),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Run отправляет события из очереди до отмены ctx, затем дописывает остаток.
func (n *Notifier) Run(ctx context.Context) {
	for {
		select {
		case env := <-n.queue:
			n.send(env)
		case <-ctx.Done():
			n.drain()
			return
		}
	}
}

// Dropped возвращает число событий, не поместившихся в очередь.
func (n *Notifier) Dropped() int64 { return n.dropped.Load() }

func (n *Notifier) drain() {
	for {
		select {
		case env := <-n.queue:
			n.send(env)
		default:
			return
		}
	}
}

func (n *Notifier) send(env envelope) {
	if err := n.publisher.PublishEvent(env.topic, env.key, env.eventType, env.event); err != nil {
		n.logger.WithError(err).WithField("event_type", env.eventType).Warn("Failed to publish backend event")
	}
}

func (n *Notifier) enqueue(env envelope) {
	select {
	case n.queue <- env:
	default:
		n.dropped.Add(1)
		n.logger.WithField("event_type", env.eventType).Warn("Event queue is full, dropping event")
	}
}

// FallbackActivated реализует failover.Observer.
func (n *Notifier) FallbackActivated(op string, reason error) {
	event := NewBackendEvent(EventTypeFallbackActivated, op, n.now())
	event.Backend = string(domain.BackendRelational)
	if reason != nil {
		event.Reason = reason.Error()
	}
	n.enqueue(envelope{topic: TopicBackendEvents, key: event.Backend, eventType: event.EventType, event: event})
}

// Recovered реализует failover.Observer.
func (n *Notifier) Recovered(op string, downtime time.Duration) {
	event := NewBackendEvent(EventTypeBackendRecovered, op, n.now())
	event.Backend = string(domain.BackendRelational)
	event.DowntimeMs = downtime.Milliseconds()
	n.enqueue(envelope{topic: TopicBackendEvents, key: event.Backend, eventType: event.EventType, event: event})
}

// BothFailed реализует failover.Observer.
func (n *Notifier) BothFailed(op string, err *domain.BothFailedError) {
	event := NewBackendEvent(EventTypeBothFailed, op, n.now())
	if err != nil {
		event.Reason = err.Error()
	}
	n.enqueue(envelope{topic: TopicBackendEvents, key: op, eventType: event.EventType, event: event})
}

// OperationCompleted реализует failover.Observer; отдельных событий не порождает.
func (n *Notifier) OperationCompleted(string, failover.Source, time.Duration, error) {}

// OrderArchived реализует failover.EventPublisher.
func (n *Notifier) OrderArchived(ctx context.Context, order domain.RepairOrder, source failover.Source) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key, kind := "", ""
	if order.Key != nil {
		key, kind = order.Key.String(), string(order.Key.Kind())
	}
	event := NewRepairOrderEvent(EventTypeOrderArchived, key, kind, string(source.Backend()), n.now())
	event.OrderNumber = order.OrderNumber
	event.ArchiveStatus = string(order.ArchiveStatus)
	return n.publisher.PublishEvent(TopicRepairOrderEvents, partitionKey(event), event.EventType, event)
}

// OrderDeleted реализует failover.EventPublisher.
func (n *Notifier) OrderDeleted(ctx context.Context, key domain.OrderKey, source failover.Source) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	event := NewRepairOrderEvent(EventTypeOrderDeleted, key.String(), string(key.Kind()), string(source.Backend()), n.now())
	if key.Kind() == domain.KeyKindOrderNumber {
		event.OrderNumber = key.String()
	}
	return n.publisher.PublishEvent(TopicRepairOrderEvents, partitionKey(event), event.EventType, event)
}

// partitionKey: события одного заказа попадают в одну партицию.
func partitionKey(event *RepairOrderEvent) string {
	if event.OrderNumber != "" {
		return event.OrderNumber
	}
	return event.Key
}

var (
	_ failover.Observer       = (*Notifier)(nil)
	_ failover.EventPublisher = (*Notifier)(nil)
	_ Publisher               = (*Producer)(nil)
)
