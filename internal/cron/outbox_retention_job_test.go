package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/lamcatuk/vy-numbers/pkg/logger"
)

func TestOutboxRetentionJobUsesCutoffAndAttempts(t *testing.T) {
	now := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	repo := &fakePruner{}
	job := newOutboxRetentionJob(t, repo, 7, 3)
	job.now = func() time.Time { return now }

	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, now.Add(-7*24*time.Hour), repo.cutoff)
	assert.Equal(t, 3, repo.minAttempts)
	assert.Equal(t, 1, repo.calls)
}

func TestOutboxRetentionJobDefaults(t *testing.T) {
	now := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	repo := &fakePruner{}
	job := newOutboxRetentionJob(t, repo, 0, 0)
	job.now = func() time.Time { return now }

	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, now.Add(-outboxRetentionDays*24*time.Hour), repo.cutoff)
	assert.Equal(t, outboxMinAttempts, repo.minAttempts)
	assert.Equal(t, outboxPruneChunk, repo.limit)
}

func TestOutboxRetentionJobLoopsUntilShortChunk(t *testing.T) {
	repo := &fakePruner{rows: []int64{2, 2, 1}}
	job := newOutboxRetentionJob(t, repo, 0, 0)
	job.chunk = 2

	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, 3, repo.calls)
}

func TestOutboxRetentionJobPropagatesError(t *testing.T) {
	repo := &fakePruner{err: errors.New("boom")}
	job := newOutboxRetentionJob(t, repo, 0, 0)

	assert.EqualError(t, job.Run(context.Background()), "boom")
}

func newOutboxRetentionJob(t *testing.T, repo *fakePruner, retention, minAttempts int) *outboxRetentionJob {
	t.Helper()
	job, err := NewOutboxRetentionJob(OutboxRetentionJobParams{
		Logger:      logger.Nop(),
		DB:          passthroughTx{},
		Repository:  repo,
		Retention:   retention,
		MinAttempts: minAttempts,
	})
	require.NoError(t, err)
	require.IsType(t, &outboxRetentionJob{}, job)
	return job.(*outboxRetentionJob)
}

type fakePruner struct {
	cutoff      time.Time
	minAttempts int
	limit       int
	calls       int
	rows        []int64
	err         error
}

func (f *fakePruner) PruneBefore(_ context.Context, _ *gorm.DB, cutoff time.Time, minAttempts, limit int) (int64, error) {
	f.calls++
	f.cutoff, f.minAttempts, f.limit = cutoff, minAttempts, limit
	if f.err != nil {
		return 0, f.err
	}
	if len(f.rows) == 0 {
		return 0, nil
	}
	n := f.rows[0]
	f.rows = f.rows[1:]
	return n, nil
}

type passthroughTx struct{}

func (passthroughTx) WithTx(_ context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}
