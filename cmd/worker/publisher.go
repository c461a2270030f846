package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/bytefrontng/bytefront-backend/pkg/config"
	"github.com/bytefrontng/bytefront-backend/pkg/db/models"
	"github.com/bytefrontng/bytefront-backend/pkg/enums"
	"github.com/bytefrontng/bytefront-backend/pkg/logger"
	"github.com/bytefrontng/bytefront-backend/pkg/metrics"
)

const (
	defaultBatchSize      = 50
	defaultPollMs         = 500
	defaultMaxAttempts    = 10
	defaultPublishTimeout = 15 * time.Second
	maxBackoff            = 10 * time.Second
	jitterWindow          = 250 * time.Millisecond

	publishJobName = "outbox_publish"

	topicOrders    = "orders"
	topicAnalytics = "analytics"
)

var jitterSource = rand.New(rand.NewSource(time.Now().UnixNano()))

type outboxRepository interface {
	FetchUnpublishedForPublish(limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublished(id uuid.UUID) error
	MarkFailed(id uuid.UUID, err error) error
}

type publisher interface {
	Publish(ctx context.Context, msg *gcppubsub.Message) publishResult
}

type publishResult interface {
	Get(ctx context.Context) (string, error)
}

type publisherFactory func(topic string) publisher

// Publisher drains the transactional outbox into Pub/Sub. Order events fan
// out to both the orders and analytics topics; product views go to analytics
// only.
type Publisher struct {
	logg         *logger.Logger
	repo         outboxRepository
	publishers   publisherFactory
	workerMetric *metrics.WorkerMetrics
	batchSize    int
	maxAttempts  int
	pollInterval time.Duration
}

func NewPublisher(cfg config.OutboxConfig, logg *logger.Logger, repo outboxRepository, factory publisherFactory, workerMetric *metrics.WorkerMetrics) (*Publisher, error) {
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	if repo == nil {
		return nil, errors.New("outbox repository is required")
	}
	if factory == nil {
		return nil, errors.New("publisher factory is required")
	}

	batch := cfg.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	pollMs := cfg.PollIntervalMS
	if pollMs <= 0 {
		pollMs = defaultPollMs
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}

	return &Publisher{
		logg:         logg,
		repo:         repo,
		publishers:   factory,
		workerMetric: workerMetric,
		batchSize:    batch,
		maxAttempts:  maxAttempts,
		pollInterval: time.Duration(pollMs) * time.Millisecond,
	}, nil
}

func (p *Publisher) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	backoff := p.pollInterval

	for {
		select {
		case <-ctx.Done():
			p.logg.Info(ctx, "outbox publisher context canceled")
			return ctx.Err()
		default:
		}

		started := time.Now()
		processed, err := p.processBatch(ctx)
		p.workerMetric.ObserveDuration(publishJobName, time.Since(started))
		if err != nil {
			p.workerMetric.IncFailure(publishJobName)
			p.logg.Error(ctx, "outbox publisher batch error", err)
			backoff = nextBackoff(backoff, p.pollInterval, maxBackoff)
			if err := sleepCtx(ctx, withJitter(backoff)); err != nil {
				return err
			}
			continue
		}

		p.workerMetric.IncSuccess(publishJobName)
		backoff = p.pollInterval

		if processed {
			continue
		}
		if err := sleepCtx(ctx, withJitter(p.pollInterval)); err != nil {
			return err
		}
	}
}

func (p *Publisher) processBatch(ctx context.Context) (bool, error) {
	events, err := p.repo.FetchUnpublishedForPublish(p.batchSize, p.maxAttempts)
	if err != nil {
		return false, err
	}
	if len(events) == 0 {
		return false, nil
	}

	for _, event := range events {
		fields := map[string]any{
			"outbox_id":    event.ID.String(),
			"event_type":   event.EventType,
			"aggregate_id": event.AggregateID.String(),
		}
		logCtx := p.logg.WithFields(ctx, fields)

		if err := p.publishEvent(ctx, event); err != nil {
			p.logg.Warn(p.logg.WithField(logCtx, "error", err.Error()), "outbox publish failed")
			if markErr := p.repo.MarkFailed(event.ID, err); markErr != nil {
				return true, fmt.Errorf("mark failure %s: %w", event.ID, markErr)
			}
			continue
		}

		if err := p.repo.MarkPublished(event.ID); err != nil {
			return true, fmt.Errorf("mark published %s: %w", event.ID, err)
		}
		p.workerMetric.IncPublished(string(event.EventType))
		p.logg.Info(logCtx, "outbox event published")
	}
	return true, nil
}

func (p *Publisher) publishEvent(ctx context.Context, event models.OutboxEvent) error {
	topics, err := topicsFor(event.EventType)
	if err != nil {
		return err
	}

	msg := &gcppubsub.Message{
		Data: event.Payload,
		Attributes: map[string]string{
			"event_type":     string(event.EventType),
			"aggregate_type": string(event.AggregateType),
			"aggregate_id":   event.AggregateID.String(),
		},
	}

	for _, topic := range topics {
		pub := p.publishers(topic)
		if pub == nil {
			return fmt.Errorf("no publisher for topic %q", topic)
		}

		publishCtx, cancel := context.WithTimeout(ctx, defaultPublishTimeout)
		result := pub.Publish(publishCtx, msg)
		_, err := result.Get(publishCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("publish to %s: %w", topic, err)
		}
	}
	return nil
}

func topicsFor(eventType enums.OutboxEventType) ([]string, error) {
	switch eventType {
	case enums.EventOrderCreated, enums.EventOrderStatusChanged:
		return []string{topicOrders, topicAnalytics}, nil
	case enums.EventProductViewed:
		return []string{topicAnalytics}, nil
	default:
		return nil, fmt.Errorf("unroutable event type %q", eventType)
	}
}

func nextBackoff(current, floor, ceiling time.Duration) time.Duration {
	next := current * 2
	if next < floor {
		next = floor
	}
	if next > ceiling {
		next = ceiling
	}
	return next
}

func withJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return d
	}
	return d + time.Duration(jitterSource.Int63n(int64(jitterWindow)))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type gcpPublisher struct {
	pub *gcppubsub.Publisher
}

func (g gcpPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	return g.pub.Publish(ctx, msg)
}
