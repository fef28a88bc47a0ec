package cron

import (
	"context"
	"fmt"

	"github.com/lamcatuk/vy-numbers/pkg/logger"
	"github.com/lamcatuk/vy-numbers/pkg/metrics"
)

type ExpirySweepJobParams struct {
	Logger  *logger.Logger
	Store   expirySweeper
	Metrics *metrics.ReservationMetrics
}

type expirySweeper interface {
	SweepExpired(ctx context.Context) (int64, error)
}

// NewExpirySweepJob returns lapsed shopper reservations to available.
func NewExpirySweepJob(params ExpirySweepJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Store == nil {
		return nil, fmt.Errorf("slot store required")
	}
	return &expirySweepJob{
		logg:    params.Logger,
		store:   params.Store,
		metrics: params.Metrics,
	}, nil
}

type expirySweepJob struct {
	logg    *logger.Logger
	store   expirySweeper
	metrics *metrics.ReservationMetrics
}

func (j *expirySweepJob) Name() string { return "expiry-sweep" }

func (j *expirySweepJob) Run(ctx context.Context) error {
	released, err := j.store.SweepExpired(ctx)
	if err != nil {
		return fmt.Errorf("expiry sweep: %w", err)
	}
	j.metrics.AddSwept(released)
	j.logg.Info(j.logg.WithField(ctx, "released", released), "expiry sweep complete")
	return nil
}
