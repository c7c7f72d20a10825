package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/OwensLopez211/PsicologosAPv1-sub002/internal/model"
	"github.com/OwensLopez211/PsicologosAPv1-sub002/internal/repository"
	"github.com/OwensLopez211/PsicologosAPv1-sub002/pkg/logger"
	"github.com/OwensLopez211/PsicologosAPv1-sub002/pkg/messaging"
	"github.com/OwensLopez211/PsicologosAPv1-sub002/pkg/metrics"
)

// maxRetryDelay caps the exponential retry schedule.
const maxRetryDelay = time.Hour

type OutboxProcessorConfig struct {
	BatchSize    int
	PollInterval time.Duration
	// MaxAttempts is the number of failed publishes after which an event is
	// marked failed.
	MaxAttempts int
	RetryDelay  time.Duration
	// Lease hides claimed events from other processors while they publish.
	Lease time.Duration
}

func (c OutboxProcessorConfig) validate() error {
	switch {
	case c.BatchSize <= 0:
		return errors.New("BatchSize must be greater than 0")
	case c.PollInterval <= 0:
		return errors.New("PollInterval must be greater than 0")
	case c.MaxAttempts <= 0:
		return errors.New("MaxAttempts must be greater than 0")
	case c.RetryDelay <= 0:
		return errors.New("RetryDelay must be greater than 0")
	}
	return nil
}

// OutboxProcessor relays committed outbox events to the broker. Each event is
// published on the channel named after its type.
type OutboxProcessor struct {
	repo    repository.OutboxRepository
	broker  messaging.Broker
	config  OutboxProcessorConfig
	logger  *logger.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewOutboxProcessor(
	repo repository.OutboxRepository,
	broker messaging.Broker,
	config OutboxProcessorConfig,
	logger *logger.Logger,
	metrics *metrics.Metrics,
) (*OutboxProcessor, error) {
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid outbox processor config: %w", err)
	}
	if config.Lease <= 0 {
		config.Lease = 30 * time.Second
	}

	return &OutboxProcessor{
		repo:    repo,
		broker:  broker,
		config:  config,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}, nil
}

func (p *OutboxProcessor) Start(ctx context.Context) {
	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	p.logger.Info("Starting outbox processor")

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Shutting down outbox processor")
			return
		case <-ticker.C:
			if _, err := p.ProcessBatch(ctx); err != nil {
				p.logger.Error(err, "Failed to process events")
			}
		}
	}
}

// ProcessBatch claims and publishes one batch, returning how many events
// were published.
func (p *OutboxProcessor) ProcessBatch(ctx context.Context) (int, error) {
	timer := prometheus.NewTimer(p.metrics.OutboxProcessingLatency)
	defer timer.ObserveDuration()

	events, err := p.repo.GetPendingEventsWithLock(ctx, p.config.BatchSize, p.config.Lease)
	if err != nil {
		p.metrics.DatabaseOperations.WithLabelValues("get_pending_events", "error").Inc()
		return 0, fmt.Errorf("failed to get pending events: %w", err)
	}
	p.metrics.DatabaseOperations.WithLabelValues("get_pending_events", "success").Inc()

	published := 0
	for _, event := range events {
		if err := p.processEvent(ctx, event); err != nil {
			p.logger.Error(err, "Failed to process event",
				"event_id", event.ID.String(),
				"event_type", event.EventType)
			continue
		}
		published++
	}

	return published, nil
}

func (p *OutboxProcessor) processEvent(ctx context.Context, event *model.OutboxEvent) error {
	publishErr := p.broker.Publish(ctx, event.EventType, event.Payload)
	if publishErr == nil {
		event.Status = model.OutboxStatusProcessed
		event.ErrorMessage = nil
		event.RetryAt = nil
		if err := p.repo.UpdateStatus(ctx, event); err != nil {
			p.metrics.DatabaseOperations.WithLabelValues("update_outbox_status", "error").Inc()
			return fmt.Errorf("failed to mark event processed: %w", err)
		}
		p.metrics.OutboxEventsProcessed.Inc()
		return nil
	}

	msg := publishErr.Error()
	event.ErrorMessage = &msg
	event.RetryCount++

	if event.RetryCount >= p.config.MaxAttempts {
		event.Status = model.OutboxStatusFailed
		event.RetryAt = nil
		p.metrics.OutboxEventsFailed.Inc()
	} else {
		retryAt := p.now().UTC().Add(p.retryDelay(event.RetryCount))
		event.Status = model.OutboxStatusRetry
		event.RetryAt = &retryAt
		p.metrics.OutboxRetries.WithLabelValues(event.EventType).Inc()
	}

	if err := p.repo.UpdateStatus(ctx, event); err != nil {
		p.metrics.DatabaseOperations.WithLabelValues("update_outbox_status", "error").Inc()
		p.logger.Error(err, "Failed to update event status", "event_id", event.ID.String())
	}
	return fmt.Errorf("publish %s: %w", event.EventType, publishErr)
}

// retryDelay doubles RetryDelay for every failed attempt.
func (p *OutboxProcessor) retryDelay(attempt int) time.Duration {
	delay := p.config.RetryDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxRetryDelay {
			return maxRetryDelay
		}
	}
	return delay
}
