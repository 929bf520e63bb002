package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

// MessageHandler обрабатывает сообщение из Kafka.
type MessageHandler func(ctx context.Context, message *sarama.ConsumerMessage) error

// Consumer читает события сервиса через consumer group.
type Consumer struct {
	consumer sarama.ConsumerGroup
	topics   []string
	handler  MessageHandler
	logger   *log.Entry
	wg       sync.WaitGroup
}

// NewConsumer создаёт consumer. fromOldest=true читает topic с начала.
func NewConsumer(brokers []string, groupID string, topics []string, fromOldest bool, handler MessageHandler) (*Consumer, error) {
	config := sarama.NewConfig()
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	config.Consumer.Offsets.Initial = sarama.OffsetNewest
	if fromOldest {
		config.Consumer.Offsets.Initial = sarama.OffsetOldest
	}
	config.Consumer.Return.Errors = true

	consumer, err := sarama.NewConsumerGroup(brokers, groupID, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}

	return &Consumer{
		consumer: consumer,
		topics:   topics,
		handler:  handler,
		logger:   log.WithField("component", "kafka-consumer"),
	}, nil
}

// Start запускает чтение в фоне.
func (c *Consumer) Start(ctx context.Context) error {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			// Consume завершается при rebalance.
			if err := c.consumer.Consume(ctx, c.topics, c); err != nil {
				c.logger.WithError(err).Error("error from consumer")
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for err := range c.consumer.Errors() {
			c.logger.WithError(err).Error("consumer error")
		}
	}()

	c.logger.WithField("topics", c.topics).Info("kafka consumer started")
	return nil
}

// Stop останавливает consumer.
func (c *Consumer) Stop() error {
	if err := c.consumer.Close(); err != nil {
		return fmt.Errorf("failed to close kafka consumer: %w", err)
	}
	c.wg.Wait()
	c.logger.Info("kafka consumer stopped")
	return nil
}

// Setup вызывается при старте сессии.
func (c *Consumer) Setup(sarama.ConsumerGroupSession) error {
	return nil
}

// Cleanup вызывается при завершении сессии.
func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim обрабатывает сообщения партиции. Сообщение с ошибкой обработки
// не маркируется и будет прочитано повторно после rebalance.
func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message := <-claim.Messages():
			if message == nil {
				return nil
			}

			fields := log.Fields{
				"topic":     message.Topic,
				"partition": message.Partition,
				"offset":    message.Offset,
			}
			c.logger.WithFields(fields).Debug("received message")

			if err := c.handler(session.Context(), message); err != nil {
				c.logger.WithError(err).WithFields(fields).Error("message processing failed")
				continue
			}
			session.MarkMessage(message, "")

		case <-session.Context().Done():
			return nil
		}
	}
}

// Event — разобранное событие любого из topics сервиса.
type Event struct {
	Type    EventType
	Backend *BackendEvent
	Order   *RepairOrderEvent
}

// ParseEvent разбирает сообщение по заголовку x-event-type.
func ParseEvent(message *sarama.ConsumerMessage) (Event, error) {
	eventType := headerValue(message, HeaderEventType)
	switch EventType(eventType) {
	case EventTypeFallbackActivated, EventTypeBackendRecovered, EventTypeBothFailed:
		var event BackendEvent
		if err := json.Unmarshal(message.Value, &event); err != nil {
			return Event{}, fmt.Errorf("failed to unmarshal backend event: %w", err)
		}
		return Event{Type: event.EventType, Backend: &event}, nil
	case EventTypeOrderArchived, EventTypeOrderDeleted:
		var event RepairOrderEvent
		if err := json.Unmarshal(message.Value, &event); err != nil {
			return Event{}, fmt.Errorf("failed to unmarshal repair order event: %w", err)
		}
		return Event{Type: event.EventType, Order: &event}, nil
	default:
		return Event{}, fmt.Errorf("unknown event type %q", eventType)
	}
}

func headerValue(message *sarama.ConsumerMessage, key string) string {
	for _, header := range message.Headers {
		if header != nil && string(header.Key) == key {
			return string(header.Value)
		}
	}
	return ""
}
