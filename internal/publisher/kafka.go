package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"plate-node/internal/domain/detection"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// PublishTimeout bounds one Publish call so an unreachable broker cannot stall
// the worker loop.
const PublishTimeout = 2 * time.Second

// MessageWriter is the part of *kafka.Writer the publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher streams detections to a topic, keyed by plate so all sightings
// of one vehicle land on the same partition.
type KafkaPublisher struct {
	writer  MessageWriter
	nodeID  string
	timeout time.Duration
	log     zerolog.Logger
}

func NewKafkaPublisher(brokers, topic, nodeID string, log zerolog.Logger) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:         kafka.TCP(splitBrokers(brokers)...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		WriteTimeout: PublishTimeout,
		MaxAttempts:  2,
		RequiredAcks: kafka.RequireOne,
	}
	return NewWithWriter(w, nodeID, log)
}

func NewWithWriter(w MessageWriter, nodeID string, log zerolog.Logger) *KafkaPublisher {
	return &KafkaPublisher{writer: w, nodeID: nodeID, timeout: PublishTimeout, log: log}
}

func (p *KafkaPublisher) WithTimeout(d time.Duration) *KafkaPublisher {
	if d > 0 {
		p.timeout = d
	}
	return p
}

func (p *KafkaPublisher) Publish(ctx context.Context, det detection.VehicleDetectionData) error {
	value, err := json.Marshal(det)
	if err != nil {
		return fmt.Errorf("encode detection: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(det.PlateNumber),
		Value: value,
		Time:  det.DetectionTime,
		Headers: []kafka.Header{
			{Key: "node_id", Value: []byte(p.nodeID)},
		},
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish detection: %w", err)
	}

	p.log.Debug().Str("plate", det.PlateNumber).Msg("detection published")
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

func splitBrokers(brokers string) []string {
	var out []string
	for _, b := range strings.Split(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
