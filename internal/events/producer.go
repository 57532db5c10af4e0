// Package events publishes patient lifecycle events to Kafka for
// downstream consumers such as analytics. It only produces; nothing in
// this service consumes the topic.
package events

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/pm/patient-service/internal/types"
)

// Config holds producer configuration.
type Config struct {
	Brokers         string
	Topic           string
	DeliveryTimeout time.Duration
}

// Producer wraps the franz-go client.
type Producer struct {
	client *kgo.Client
	topic  string
	logger *slog.Logger
	mu     sync.RWMutex
	closed bool
}

// New creates a producer for the comma-separated broker list.
func New(cfg Config, logger *slog.Logger) (*Producer, error) {
	if cfg.Brokers == "" {
		return nil, fmt.Errorf("kafka brokers not configured")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka topic not configured")
	}
	if logger == nil {
		logger = slog.Default()
	}

	opts := []kgo.Opt{
		kgo.SeedBrokers(strings.Split(cfg.Brokers, ",")...),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerLinger(5 * time.Millisecond),
		kgo.AllowAutoTopicCreation(),
	}
	if cfg.DeliveryTimeout > 0 {
		opts = append(opts, kgo.RecordDeliveryTimeout(cfg.DeliveryTimeout))
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}

	return &Producer{client: client, topic: cfg.Topic, logger: logger}, nil
}

// PatientCreated publishes a PATIENT_CREATED event keyed by patient id
// and waits for the broker to acknowledge it.
func (p *Producer) PatientCreated(ctx context.Context, patient types.Patient) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return fmt.Errorf("producer is closed")
	}

	record := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(patient.ID.String()),
		Value: NewPatientCreated(patient).Marshal(),
		Headers: []kgo.RecordHeader{
			{Key: "event_type", Value: []byte(EventPatientCreated)},
		},
	}

	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce %s for patient %s: %w", EventPatientCreated, patient.ID, err)
	}

	p.logger.DebugContext(ctx, "patient event published",
		slog.String("topic", p.topic),
		slog.String("patient_id", patient.ID.String()))
	return nil
}

// Ping checks that at least one broker answers.
func (p *Producer) Ping(ctx context.Context) error {
	return p.client.Ping(ctx)
}

// Close flushes buffered records and closes the client.
func (p *Producer) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.client.Flush(ctx); err != nil {
		p.logger.Warn("failed to flush kafka producer", slog.String("error", err.Error()))
	}
	p.client.Close()
}
