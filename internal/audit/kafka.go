package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaSink publishes audit events as JSON, keyed by user id so one user's
// events stay ordered within a partition.
type KafkaSink struct {
	writer *kafka.Writer
	logger *slog.Logger
}

// NewKafkaSink returns nil when brokers or topic are missing.
func NewKafkaSink(brokers []string, topic string, logger *slog.Logger) *KafkaSink {
	if len(brokers) == 0 || topic == "" {
		return nil
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
	return &KafkaSink{writer: writer, logger: logger}
}

func encodeEvent(ev Event) (kafka.Message, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return kafka.Message{}, err
	}
	msg := kafka.Message{
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(ev.Type)},
		},
	}
	if ev.UserID != 0 {
		msg.Key = []byte(strconv.FormatUint(uint64(ev.UserID), 10))
	}
	return msg, nil
}

func (s *KafkaSink) Record(ctx context.Context, ev Event) {
	if s == nil || s.writer == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	msg, err := encodeEvent(ev)
	if err != nil {
		s.logger.Warn("audit: encode event failed", "event", ev.Type, "error", err)
		return
	}
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := s.writer.WriteMessages(writeCtx, msg); err != nil {
		s.logger.Warn("audit: kafka publish failed", "event", ev.Type, "error", err)
	}
}

// Close flushes and closes the writer. Safe on a nil sink.
func (s *KafkaSink) Close() error {
	if s == nil || s.writer == nil {
		return nil
	}
	return s.writer.Close()
}
