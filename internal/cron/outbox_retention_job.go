package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/tutorbill-backend/pkg/logger"
)

const (
	defaultOutboxRetention = 30 * 24 * time.Hour
	defaultDLQRetention    = 90 * 24 * time.Hour
	defaultPruneBatch      = 1000
	outboxDeadAttempts     = 10
)

type OutboxRetentionJobParams struct {
	Logger       *logger.Logger
	Events       outboxPruner
	DLQ          dlqPruner
	Retention    time.Duration
	DLQRetention time.Duration
	DeadAttempts int
	BatchSize    int
	Now          func() time.Time
}

type outboxPruner interface {
	PruneBatch(ctx context.Context, cutoff time.Time, deadAttempts, limit int) (int64, error)
}

type dlqPruner interface {
	PruneBatch(ctx context.Context, cutoff time.Time, limit int) (int64, error)
}

// NewOutboxRetentionJob prunes delivered and dead outbox rows, then expired DLQ
// entries. DLQ is optional.
func NewOutboxRetentionJob(params OutboxRetentionJobParams) (Job, error) {
	switch {
	case params.Logger == nil:
		return nil, errors.New("logger required")
	case params.Events == nil:
		return nil, errors.New("outbox repository required")
	}
	if params.Retention <= 0 {
		params.Retention = defaultOutboxRetention
	}
	if params.DLQRetention <= 0 {
		params.DLQRetention = defaultDLQRetention
	}
	if params.DeadAttempts <= 0 {
		params.DeadAttempts = outboxDeadAttempts
	}
	if params.BatchSize <= 0 {
		params.BatchSize = defaultPruneBatch
	}
	if params.Now == nil {
		params.Now = time.Now
	}
	return &outboxRetentionJob{params: params}, nil
}

type outboxRetentionJob struct {
	params OutboxRetentionJobParams
}

func (j *outboxRetentionJob) Name() string { return "outbox-retention" }

func (j *outboxRetentionJob) Run(ctx context.Context) error {
	now := j.params.Now().UTC()
	eventCutoff := now.Add(-j.params.Retention)

	var errs error
	events, err := drain(ctx, j.params.BatchSize, func(ctx context.Context, limit int) (int64, error) {
		return j.params.Events.PruneBatch(ctx, eventCutoff, j.params.DeadAttempts, limit)
	})
	if err != nil {
		errs = multierr.Append(errs, fmt.Errorf("prune outbox events: %w", err))
	}

	var dead int64
	if j.params.DLQ != nil {
		dlqCutoff := now.Add(-j.params.DLQRetention)
		dead, err = drain(ctx, j.params.BatchSize, func(ctx context.Context, limit int) (int64, error) {
			return j.params.DLQ.PruneBatch(ctx, dlqCutoff, limit)
		})
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("prune outbox dlq: %w", err))
		}
	}

	j.params.Logger.Info(j.params.Logger.WithFields(ctx, map[string]any{
		"cutoff":        eventCutoff,
		"events_pruned": events,
		"dlq_pruned":    dead,
	}), "outbox retention cleanup complete")
	return errs
}

// drain calls prune until a batch comes back short, so one run never holds a
// long delete on the table.
func drain(ctx context.Context, limit int, prune func(context.Context, int) (int64, error)) (int64, error) {
	var total int64
	for {
		n, err := prune(ctx, limit)
		total += n
		if err != nil || n < int64(limit) {
			return total, err
		}
		if err := ctx.Err(); err != nil {
			return total, err
		}
	}
}
