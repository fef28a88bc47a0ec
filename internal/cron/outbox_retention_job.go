package cron

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/lamcatuk/vy-numbers/pkg/logger"
)

const (
	outboxRetentionDays = 30
	outboxMinAttempts   = 10
	outboxPruneChunk    = 500
)

type OutboxRetentionJobParams struct {
	Logger     *logger.Logger
	DB         txRunner
	Repository outboxPruner
	// Retention is in days.
	Retention int
	// MinAttempts marks an unpublished slot event as terminal.
	MinAttempts int
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPruner interface {
	PruneBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time, minAttempts, limit int) (int64, error)
}

// NewOutboxRetentionJob prunes delivered and dead slot events in short
// transactions so the publisher is never blocked behind one large delete.
func NewOutboxRetentionJob(params OutboxRetentionJobParams) (Job, error) {
	switch {
	case params.Logger == nil:
		return nil, errors.New("outbox retention: logger required")
	case params.DB == nil:
		return nil, errors.New("outbox retention: db required")
	case params.Repository == nil:
		return nil, errors.New("outbox retention: repository required")
	}
	days := params.Retention
	if days <= 0 {
		days = outboxRetentionDays
	}
	attempts := params.MinAttempts
	if attempts <= 0 {
		attempts = outboxMinAttempts
	}
	return &outboxRetentionJob{
		logg:        params.Logger,
		db:          params.DB,
		repo:        params.Repository,
		keep:        time.Duration(days) * 24 * time.Hour,
		minAttempts: attempts,
		chunk:       outboxPruneChunk,
		now:         time.Now,
	}, nil
}

type outboxRetentionJob struct {
	logg        *logger.Logger
	db          txRunner
	repo        outboxPruner
	keep        time.Duration
	minAttempts int
	chunk       int
	now         func() time.Time
}

func (j *outboxRetentionJob) Name() string { return "outbox-retention" }

func (j *outboxRetentionJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.keep)
	var total int64
	passes := 0
	for ctx.Err() == nil {
		var n int64
		err := j.db.WithTx(ctx, func(tx *gorm.DB) (err error) {
			n, err = j.repo.PruneBefore(ctx, tx, cutoff, j.minAttempts, j.chunk)
			return err
		})
		if err != nil {
			return err
		}
		total += n
		passes++
		if n < int64(j.chunk) {
			break
		}
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"cutoff":  cutoff.Format(time.RFC3339),
		"deleted": total,
		"passes":  passes,
	}), "outbox.pruned")
	return ctx.Err()
}
