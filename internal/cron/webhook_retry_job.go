package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/tutorbill-backend/internal/reconciler"
	"github.com/angelmondragon/tutorbill-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/tutorbill-backend/pkg/errors"
	"github.com/angelmondragon/tutorbill-backend/pkg/logger"
)

const (
	defaultRetryBatch   = 100
	defaultRetryMinAge  = time.Minute
	defaultReviewWindow = 48 * time.Hour
)

type webhookRetrier interface {
	ParkExhausted(ctx context.Context, maxAttempts, limit int) (int, error)
	Retryable(ctx context.Context, q reconciler.RetryQuery) ([]models.WebhookEvent, error)
	Reapply(ctx context.Context, row *models.WebhookEvent) (*reconciler.Result, error)
}

type WebhookRetryJobParams struct {
	Logger       *logger.Logger
	Reconciler   webhookRetrier
	Batch        int
	MinAge       time.Duration
	ReviewWindow time.Duration
	MaxAttempts  int
}

// NewWebhookRetryJob re-applies recorded events that have not reached processed.
// Review rows are retried only while younger than the review window so a payment
// whose attempt row was written late still settles. Rows that fail MaxAttempts
// times are parked in review first.
func NewWebhookRetryJob(params WebhookRetryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Reconciler == nil {
		return nil, fmt.Errorf("reconciler required")
	}
	if params.Batch <= 0 {
		params.Batch = defaultRetryBatch
	}
	if params.MinAge <= 0 {
		params.MinAge = defaultRetryMinAge
	}
	if params.ReviewWindow <= 0 {
		params.ReviewWindow = defaultReviewWindow
	}
	if params.MaxAttempts <= 0 {
		params.MaxAttempts = reconciler.DefaultMaxAttempts
	}
	return &webhookRetryJob{params: params}, nil
}

type webhookRetryJob struct {
	params WebhookRetryJobParams
}

func (j *webhookRetryJob) Name() string { return "webhook-event-retry" }

func (j *webhookRetryJob) Run(ctx context.Context) error {
	var errs error
	parked, err := j.params.Reconciler.ParkExhausted(ctx, j.params.MaxAttempts, j.params.Batch)
	if err != nil {
		errs = multierr.Append(errs, fmt.Errorf("park exhausted webhook events: %w", err))
	}

	rows, err := j.params.Reconciler.Retryable(ctx, reconciler.RetryQuery{
		MinAge:       j.params.MinAge,
		ReviewWindow: j.params.ReviewWindow,
		MaxAttempts:  j.params.MaxAttempts,
		Limit:        j.params.Batch,
	})
	if err != nil {
		return multierr.Append(errs, fmt.Errorf("list retryable webhook events: %w", err))
	}

	var (
		applied  int
		inReview int
	)
	for i := range rows {
		row := &rows[i]
		_, err := j.params.Reconciler.Reapply(ctx, row)
		switch {
		case err == nil:
			applied++
		case pkgerrors.IsCode(err, pkgerrors.CodeUnknownReference), pkgerrors.IsCode(err, pkgerrors.CodeStateConflict):
			inReview++
		default:
			errs = multierr.Append(errs, fmt.Errorf("webhook event %s: %w", row.ID, err))
		}
	}
	j.params.Logger.Info(j.params.Logger.WithFields(ctx, map[string]any{
		"parked":     parked,
		"candidates": len(rows),
		"applied":    applied,
		"in_review":  inReview,
		"failed":     len(multierr.Errors(errs)),
	}), "webhook retry loop complete")
	return errs
}
