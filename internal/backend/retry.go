package backend

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/seqpipe/seqpipe/internal/pipeline"
)

// Retrying wraps a backend with bounded exponential backoff over transient
// errors. Execution, missing-output, and timeout errors pass through
// immediately: a tool that failed will fail again, so retrying it only
// burns compute.
//
// After the retry bound is exhausted the last transient error escalates to
// an execution error, which fails the instance's branch.
type Retrying struct {
	inner      Backend
	maxRetries uint64
	log        *slog.Logger
}

// NewRetrying wraps inner. maxRetries counts retries after the first
// attempt; 3 is the configured default.
func NewRetrying(inner Backend, maxRetries uint64, log *slog.Logger) *Retrying {
	if log == nil {
		log = slog.Default()
	}
	return &Retrying{inner: inner, maxRetries: maxRetries, log: log}
}

func (r *Retrying) Name() string { return r.inner.Name() }

// Submit submits through the inner backend, retrying transient failures.
func (r *Retrying) Submit(ctx context.Context, job JobSpec) (JobResult, error) {
	var result JobResult
	attempt := 0

	operation := func() error {
		attempt++
		var err error
		result, err = r.inner.Submit(ctx, job)
		if err == nil {
			return nil
		}
		if pipeline.IsTransientError(err) {
			r.log.Warn("transient backend error, will retry",
				"instance", job.InstanceID, "backend", r.inner.Name(), "attempt", attempt, "error", err)
			return err
		}
		return backoff.Permanent(err)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 30 * time.Second

	err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(bo, r.maxRetries), ctx))
	if err != nil && pipeline.IsTransientError(err) {
		// Retry bound exhausted: escalate so the branch fails cleanly.
		return result, pipeline.NewExecError(job.InstanceID, "backend unavailable after retries", err)
	}
	return result, err
}
