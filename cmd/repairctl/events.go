package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/Cal9233/genthrust-repairs/internal/messaging/kafka"
)

const envKafkaBrokers = "REPAIRS_KAFKA_BROKERS"

func newEventsCmd(lookup func(string) (string, bool)) *cobra.Command {
	var (
		brokers    []string
		group      string
		fromOldest bool
		orders     bool
	)
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Следить за событиями сервиса в Kafka",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if len(brokers) == 0 {
				return fmt.Errorf("--brokers (or %s) is required", envKafkaBrokers)
			}
			topics := []string{kafka.TopicBackendEvents}
			if orders {
				topics = append(topics, kafka.TopicRepairOrderEvents)
			}
			return watchEvents(cmd.Context(), cmd.OutOrStdout(), brokers, group, topics, fromOldest)
		},
	}
	var defaultBrokers []string
	if v, ok := lookup(envKafkaBrokers); ok {
		defaultBrokers = splitBrokers(v)
	}
	cmd.Flags().StringSliceVar(&brokers, "brokers", defaultBrokers, "адреса брокеров (fallback: "+envKafkaBrokers+")")
	cmd.Flags().StringVar(&group, "group", "repairctl", "consumer group")
	cmd.Flags().BoolVar(&fromOldest, "from-oldest", false, "читать с начала топиков")
	cmd.Flags().BoolVar(&orders, "orders", true, "включить события заказов")
	return cmd
}

func watchEvents(ctx context.Context, out io.Writer, brokers []string, group string, topics []string, fromOldest bool) error {
	printer := &eventPrinter{out: out}
	consumer, err := kafka.NewConsumer(brokers, group, topics, fromOldest, printer.Handle)
	if err != nil {
		return err
	}
	if err := consumer.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return consumer.Stop()
}

// eventPrinter печатает события по одному на строку.
type eventPrinter struct {
	mu  sync.Mutex
	out io.Writer
}

func (p *eventPrinter) Handle(_ context.Context, message *sarama.ConsumerMessage) error {
	event, err := kafka.ParseEvent(message)
	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		// Неизвестные сообщения пропускаются, чтобы не блокировать партицию.
		_, _ = fmt.Fprintf(p.out, "%s skip %s/%d@%d: %v\n", color.New(color.FgRed).Sprint("!"), message.Topic, message.Partition, message.Offset, err)
		return nil
	}
	_, err = fmt.Fprintln(p.out, formatEvent(event))
	return err
}

func formatEvent(event kafka.Event) string {
	switch {
	case event.Backend != nil:
		e := event.Backend
		line := fmt.Sprintf("%s %s op=%s", e.Timestamp.Format(time.RFC3339), eventLabel(e.EventType), e.Operation)
		if e.Backend != "" {
			line += " backend=" + e.Backend
		}
		if e.DowntimeMs > 0 {
			line += " downtime=" + (time.Duration(e.DowntimeMs) * time.Millisecond).String()
		}
		if e.Reason != "" {
			line += fmt.Sprintf(" reason=%q", e.Reason)
		}
		return line
	case event.Order != nil:
		e := event.Order
		line := fmt.Sprintf("%s %s %s=%s source=%s", e.Timestamp.Format(time.RFC3339), eventLabel(e.EventType), e.KeyKind, e.Key, e.Source)
		if e.OrderNumber != "" {
			line += " ro=" + e.OrderNumber
		}
		if e.ArchiveStatus != "" {
			line += " to=" + e.ArchiveStatus
		}
		return line
	default:
		return string(event.Type)
	}
}

func eventLabel(eventType kafka.EventType) string {
	switch eventType {
	case kafka.EventTypeFallbackActivated:
		return color.New(color.FgYellow, color.Bold).Sprint(eventType)
	case kafka.EventTypeBackendRecovered:
		return color.New(color.FgGreen).Sprint(eventType)
	case kafka.EventTypeBothFailed:
		return color.New(color.FgRed, color.Bold).Sprint(eventType)
	default:
		return color.New(color.FgCyan).Sprint(eventType)
	}
}

func splitBrokers(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
