package cron

import (
	"context"
	"fmt"

	"github.com/sdelgadillo/membercore-backend/pkg/logger"
)

type sweeper interface {
	Sweep(ctx context.Context) error
}

// ReconcileJobParams configures the membership reconciliation job.
type ReconcileJobParams struct {
	Logger  *logger.Logger
	Sweeper sweeper
}

// NewReconcileJob wraps the reconciliation sweep as a scheduled job. The sweep
// itself collects per-row failures; a returned error means the whole pass broke.
func NewReconcileJob(params ReconcileJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Sweeper == nil {
		return nil, fmt.Errorf("reconciliation sweeper required")
	}
	return &reconcileJob{logg: params.Logger, sweeper: params.Sweeper}, nil
}

type reconcileJob struct {
	logg    *logger.Logger
	sweeper sweeper
}

func (j *reconcileJob) Name() string { return "membership-reconcile" }

func (j *reconcileJob) Run(ctx context.Context) error {
	if err := j.sweeper.Sweep(ctx); err != nil {
		return fmt.Errorf("membership reconcile sweep: %w", err)
	}
	return nil
}
