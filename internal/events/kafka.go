package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
)

// KafkaPublisher ships side-channel events to Kafka. Produce is asynchronous
// with an error-logging callback, so a broker outage slows nothing down and
// fails nothing upstream.
type KafkaPublisher struct {
	client            *kgo.Client
	partialMatchTopic string
	auditTopic        string
	logger            *slog.Logger
}

// NewKafkaPublisher connects a producer and makes sure the topics exist.
func NewKafkaPublisher(ctx context.Context, brokers []string, partialMatchTopic, auditTopic string, logger *slog.Logger) (*KafkaPublisher, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ProducerBatchMaxBytes(1<<20),
		kgo.RecordDeliveryTimeout(10*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}

	adm := kadm.NewClient(client)
	resp, err := adm.CreateTopics(ctx, 1, 1, nil, partialMatchTopic, auditTopic)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("create topics: %w", err)
	}
	for _, res := range resp.Sorted() {
		// Already-exists is fine; anything else is worth a warning.
		if res.Err != nil && !errors.Is(res.Err, kerr.TopicAlreadyExists) {
			logger.Warn("topic creation", "topic", res.Topic, "err", res.Err)
		}
	}

	return &KafkaPublisher{
		client:            client,
		partialMatchTopic: partialMatchTopic,
		auditTopic:        auditTopic,
		logger:            logger,
	}, nil
}

func (p *KafkaPublisher) PublishPartialMatch(ctx context.Context, rec PartialMatchRecord) error {
	return p.produce(ctx, p.partialMatchTopic, rec.ItemNumber, rec)
}

func (p *KafkaPublisher) PublishAudit(ctx context.Context, ev AuditEvent) error {
	return p.produce(ctx, p.auditTopic, ev.SessionID, ev)
}

func (p *KafkaPublisher) produce(ctx context.Context, topic, key string, payload any) error {
	value, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	record := &kgo.Record{Topic: topic, Key: []byte(key), Value: value}
	p.client.Produce(ctx, record, func(r *kgo.Record, err error) {
		if err != nil {
			p.logger.Warn("side-channel publish failed", "topic", r.Topic, "err", err)
		}
	})
	return nil
}

// Close flushes pending records and releases the client.
func (p *KafkaPublisher) Close(ctx context.Context) error {
	if err := p.client.Flush(ctx); err != nil {
		p.client.Close()
		return err
	}
	p.client.Close()
	return nil
}
