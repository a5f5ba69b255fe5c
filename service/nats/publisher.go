package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/flashtrade/service/metrics"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Publisher defines the interface for publishing audit events to NATS.
type Publisher interface {
	// PublishEvent publishes a single audit event to JetStream.
	// The event is published to the subject "flashloan.events.{borrower}".
	PublishEvent(ctx context.Context, event *AuditEvent) error

	// PublishEvents publishes the events of one trade in order.
	PublishEvents(ctx context.Context, events []*AuditEvent) error

	// Close closes the connection to NATS.
	Close() error
}

// JetStreamPublisher publishes audit events to NATS JetStream.
type JetStreamPublisher struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	metrics *metrics.Metrics
	logger  *slog.Logger
}

const (
	// StreamName is the name of the JetStream stream for audit events.
	StreamName = "FLASHLOAN_EVENTS"

	// SubjectPrefix prefixes every audit event subject.
	SubjectPrefix = "flashloan.events"

	// StreamSubjects is the subject pattern for the stream.
	StreamSubjects = SubjectPrefix + ".*"

	// StreamRetention is how long messages are retained (30 days by default).
	StreamRetention = 30 * 24 * time.Hour
)

// NewPublisher creates a new JetStream publisher.
// It connects to NATS and ensures the stream exists. m may be nil.
func NewPublisher(natsURL string, m *metrics.Metrics, logger *slog.Logger) (*JetStreamPublisher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	nc, err := nats.Connect(natsURL,
		nats.Name("flashtrade-publisher"),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(1*time.Second),
		nats.MaxReconnects(-1), // Unlimited reconnects
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	publisher := &JetStreamPublisher{
		nc:      nc,
		js:      js,
		metrics: m,
		logger:  logger,
	}

	if err := publisher.ensureStream(); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to ensure stream exists: %w", err)
	}

	logger.Info("NATS publisher initialized",
		"url", natsURL,
		"stream", StreamName,
	)

	return publisher, nil
}

// ensureStream creates the JetStream stream if it doesn't exist.
func (p *JetStreamPublisher) ensureStream() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stream, err := p.js.Stream(ctx, StreamName)
	if err == nil {
		info, err := stream.Info(ctx)
		if err == nil {
			p.logger.Debug("JetStream stream already exists",
				"stream", StreamName,
				"messages", info.State.Msgs,
			)
		}
		return nil
	}

	p.logger.Info("creating JetStream stream", "stream", StreamName)

	streamConfig := jetstream.StreamConfig{
		Name:        StreamName,
		Description: "Committed flash loan trade audit events",
		Subjects:    []string{StreamSubjects},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      StreamRetention,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
	}

	if _, err := p.js.CreateStream(ctx, streamConfig); err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	p.logger.Info("JetStream stream created successfully", "stream", StreamName)
	return nil
}

// PublishEvent publishes a single audit event. The message ID makes
// redelivery of the same event idempotent on the stream.
func (p *JetStreamPublisher) PublishEvent(ctx context.Context, event *AuditEvent) error {
	subject := event.Subject()
	start := time.Now()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal audit event: %w", err)
	}

	msgID := fmt.Sprintf("%s-%d", event.ExecutionID, event.Sequence)
	_, err = p.js.Publish(ctx, subject, data, jetstream.WithMsgID(msgID))
	if p.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		p.metrics.RecordNATSPublish(StreamSubjects, status, time.Since(start).Seconds())
	}
	if err != nil {
		return fmt.Errorf("failed to publish audit event: %w", err)
	}

	p.logger.DebugContext(ctx, "published audit event",
		"subject", subject,
		"execution_id", event.ExecutionID,
		"sequence", event.Sequence,
		"event_type", event.EventType,
	)

	return nil
}

// PublishEvents publishes the events of one trade in order. Unlike a batch
// of unrelated events, a trade's events are only useful in full, so the
// first failure stops the batch and is returned.
func (p *JetStreamPublisher) PublishEvents(ctx context.Context, events []*AuditEvent) error {
	if len(events) == 0 {
		return nil
	}

	for _, event := range events {
		if err := p.PublishEvent(ctx, event); err != nil {
			p.logger.ErrorContext(ctx, "failed to publish audit event in batch",
				"execution_id", event.ExecutionID,
				"sequence", event.Sequence,
				"error", err,
			)
			return err
		}
	}

	p.logger.DebugContext(ctx, "published audit event batch", "count", len(events))
	return nil
}

// Close closes the connection to NATS.
func (p *JetStreamPublisher) Close() error {
	if p.nc != nil {
		p.nc.Close()
		p.logger.Info("NATS publisher closed")
	}
	return nil
}
