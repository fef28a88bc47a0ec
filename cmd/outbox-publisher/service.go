package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lamcatuk/vy-numbers/pkg/config"
	"github.com/lamcatuk/vy-numbers/pkg/db/models"
	"github.com/lamcatuk/vy-numbers/pkg/enums"
	"github.com/lamcatuk/vy-numbers/pkg/logger"
	"github.com/lamcatuk/vy-numbers/pkg/outbox/registry"
)

const (
	defaultBatchSize      = 50
	defaultPollMs         = 500
	defaultPublishTimeout = 15 * time.Second
	defaultMaxAttempts    = 10
	maxBackoff            = 10 * time.Second
	jitterWindow          = 250 * time.Millisecond
)

type dbClient interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type pubSubClient interface {
	Ping(context.Context) error
	Publisher(name string) *gcppubsub.Publisher
}

type outboxRepository interface {
	FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error
	MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error
}

type dlqRepository interface {
	InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error
}

type registryResolver interface {
	Resolve(models.OutboxEvent) (*registry.ResolvedEvent, error)
}

type ServiceParams struct {
	Config           *config.Config
	Logger           *logger.Logger
	DB               dbClient
	PubSub           pubSubClient
	Repository       outboxRepository
	Registry         registryResolver
	PublisherFactory publisherFactory
	DLQRepository    dlqRepository
}

// Service drains slot.sold and slot.released rows from the outbox onto
// Pub/Sub. Rows that can never be delivered are parked in outbox_dlq.
type Service struct {
	logg         *logger.Logger
	db           dbClient
	repo         outboxRepository
	pubsub       pubSubClient
	registry     registryResolver
	dlq          dlqRepository
	publishers   publisherFactory
	batchSize    int
	maxAttempts  int
	pollInterval time.Duration
	now          func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	required := []struct {
		name    string
		missing bool
	}{
		{"config", params.Config == nil},
		{"logger", params.Logger == nil},
		{"database client", params.DB == nil},
		{"pubsub client", params.PubSub == nil},
		{"outbox repository", params.Repository == nil},
		{"event registry", params.Registry == nil},
		{"dlq repository", params.DLQRepository == nil},
	}
	for _, r := range required {
		if r.missing {
			return nil, fmt.Errorf("%s is required", r.name)
		}
	}

	publishers := params.PublisherFactory
	if publishers == nil {
		publishers = cachedPublishers(params.PubSub)
	}

	cfg := params.Config.Outbox
	return &Service{
		logg:         params.Logger,
		db:           params.DB,
		repo:         params.Repository,
		pubsub:       params.PubSub,
		registry:     params.Registry,
		dlq:          params.DLQRepository,
		publishers:   publishers,
		batchSize:    orDefault(cfg.BatchSize, defaultBatchSize),
		maxAttempts:  orDefault(cfg.MaxAttempts, defaultMaxAttempts),
		pollInterval: time.Duration(orDefault(cfg.PollIntervalMS, defaultPollMs)) * time.Millisecond,
		now:          time.Now,
	}, nil
}

func orDefault(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}

// Run polls until ctx is canceled. A non-empty batch is followed immediately
// by another fetch; an empty one waits for the poll interval.
func (s *Service) Run(ctx context.Context) error {
	for name, ping := range map[string]func(context.Context) error{
		"database": s.db.Ping,
		"pubsub":   s.pubsub.Ping,
	} {
		if err := ping(ctx); err != nil {
			s.logg.Error(ctx, "outbox.dependency_unavailable", err)
			return fmt.Errorf("%s ping failed: %w", name, err)
		}
	}

	wait := s.pollInterval
	for {
		if err := ctx.Err(); err != nil {
			s.logg.Info(ctx, "outbox publisher stopping")
			return err
		}

		busy, err := s.processBatch(ctx)
		switch {
		case err != nil:
			s.logg.Error(ctx, "outbox.batch_failed", err)
			wait = nextBackoff(wait, s.pollInterval, maxBackoff)
		case busy:
			wait = s.pollInterval
			continue
		default:
			wait = s.pollInterval
		}
		if err := sleepCtx(ctx, withJitter(wait)); err != nil {
			return err
		}
	}
}

// delivery tracks one outbox row from resolution to bookkeeping.
type delivery struct {
	event  models.OutboxEvent
	topic  string
	result publishResult
	pub    publisher
	// reason is set when the row is headed for the DLQ without a publish.
	reason enums.OutboxDLQErrorReason
	err    error
}

// processBatch hands every row of the batch to Pub/Sub before waiting on any
// result, then records the outcomes in fetch order inside the same tx that
// holds the row locks.
func (s *Service) processBatch(ctx context.Context) (bool, error) {
	busy := false
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		events, err := s.repo.FetchUnpublishedForPublish(tx, s.batchSize, s.maxAttempts)
		if err != nil {
			return err
		}
		if len(events) == 0 {
			return nil
		}
		busy = true

		publishCtx, cancel := context.WithTimeout(ctx, defaultPublishTimeout)
		defer cancel()

		deliveries := make([]delivery, 0, len(events))
		for _, event := range events {
			deliveries = append(deliveries, s.dispatch(publishCtx, event))
		}
		for i := range deliveries {
			if err := s.settle(publishCtx, tx, &deliveries[i]); err != nil {
				return err
			}
		}
		return nil
	})
	return busy, err
}

func (s *Service) dispatch(ctx context.Context, event models.OutboxEvent) delivery {
	d := delivery{event: event}
	resolved, err := s.registry.Resolve(event)
	if err != nil {
		d.reason, d.err = enums.OutboxDLQReasonUnroutable, err
		return d
	}
	d.topic = resolved.Descriptor.Topic

	d.pub = s.publishers(d.topic)
	if d.pub == nil {
		d.reason = enums.OutboxDLQReasonNonRetryable
		d.err = fmt.Errorf("publisher not configured for topic %s", d.topic)
		return d
	}
	d.result = d.pub.Publish(ctx, slotMessage(event, resolved))
	if d.result == nil {
		d.reason = enums.OutboxDLQReasonNonRetryable
		d.err = fmt.Errorf("publisher returned nil for topic %s", d.topic)
	}
	return d
}

// settle returns an error only when bookkeeping fails. Publish failures are
// recorded on the row.
func (s *Service) settle(ctx context.Context, tx *gorm.DB, d *delivery) error {
	if d.reason != "" {
		return s.deadLetter(ctx, tx, d, d.reason, d.err)
	}

	_, pubErr := d.result.Get(ctx)
	logCtx := s.logg.WithFields(ctx, d.fields())
	if pubErr == nil {
		if err := s.repo.MarkPublishedTx(tx, d.event.ID); err != nil {
			return fmt.Errorf("mark published %s: %w", d.event.ID, err)
		}
		s.logg.Info(logCtx, "outbox.published")
		return nil
	}

	if r, ok := d.pub.(keyResumer); ok {
		r.ResumePublish(d.event.AggregateID)
	}

	var nonRetry registry.NonRetryableError
	if errors.As(pubErr, &nonRetry) {
		return s.deadLetter(ctx, tx, d, enums.OutboxDLQReasonNonRetryable, pubErr)
	}
	if d.event.AttemptCount+1 >= s.maxAttempts {
		return s.deadLetter(ctx, tx, d, enums.OutboxDLQReasonMaxAttempts,
			fmt.Errorf("max publish attempts reached: %w", pubErr))
	}

	s.logg.Warn(s.logg.WithField(logCtx, "error", pubErr.Error()), "outbox.publish_failed")
	if err := s.repo.MarkFailedTx(tx, d.event.ID, pubErr); err != nil {
		return fmt.Errorf("mark failure %s: %w", d.event.ID, err)
	}
	return nil
}

func (s *Service) deadLetter(ctx context.Context, tx *gorm.DB, d *delivery, reason enums.OutboxDLQErrorReason, cause error) error {
	fields := d.fields()
	fields["error_reason"] = reason
	fields["error"] = cause.Error()
	s.logg.Warn(s.logg.WithFields(ctx, fields), "outbox.dead_lettered")

	if err := s.dlq.InsertTx(tx, d.event.DeadLetter(reason, cause.Error(), s.now().UTC())); err != nil {
		return fmt.Errorf("insert dlq %s: %w", d.event.ID, err)
	}
	if err := s.repo.MarkTerminalTx(tx, d.event.ID, cause, s.maxAttempts); err != nil {
		return fmt.Errorf("mark terminal %s: %w", d.event.ID, err)
	}
	return nil
}

func (d *delivery) fields() map[string]any {
	f := map[string]any{
		"outbox_id":  d.event.ID.String(),
		"event_type": d.event.EventType,
		"num":        d.event.AggregateID,
		"attempt":    d.event.AttemptCount + 1,
	}
	if d.topic != "" {
		f["topic"] = d.topic
	}
	return f
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

func nextBackoff(current, base, limit time.Duration) time.Duration {
	if current <= 0 {
		current = base
	}
	return min(current*2, limit)
}

func withJitter(d time.Duration) time.Duration {
	return d + rand.N(jitterWindow)
}
