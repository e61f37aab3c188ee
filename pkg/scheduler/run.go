package scheduler

import (
	"context"
	"time"

	raven "github.com/getsentry/raven-go"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sirenlabs/siren/crawlers"
)

// Run carries the context of one poll tick: a launch id, the tick's scoped
// logger, and error reporting.
type Run struct {
	ID     string
	Launch time.Time

	ctx    context.Context
	logger *zap.Logger
}

func newRun(ctx context.Context, logger *zap.Logger) *Run {
	run := &Run{
		ID:     uuid.New().String(),
		Launch: time.Now(),
		ctx:    ctx,
	}
	run.logger = logger.With(
		zap.String("run", run.ID),
	)
	return run
}

func (r *Run) Context() context.Context {
	return r.ctx
}

func (r *Run) Logger() *zap.Logger {
	return r.logger
}

// Except logs an error occurred during the run and forwards it to Sentry
// when configured. Expected per-platform conditions and cancellations are
// logged without capture.
func (r *Run) Except(err error, fields ...zap.Field) {
	if err == nil {
		return
	}

	if err == context.Canceled || r.ctx.Err() != nil {
		return
	}

	r.logger.Error("error occurred while executing run",
		append(fields, zap.Error(err))...,
	)

	if ignoreError(err) {
		return
	}

	if raven.DefaultClient != nil {
		raven.CaptureError(err, map[string]string{
			"run":    r.ID,
			"launch": r.Launch.String(),
		})
	}
}

// ignoreError filters conditions that are part of normal operation and would
// only produce noise in error tracking.
func ignoreError(err error) bool {
	return crawlers.IsRateLimited(err) ||
		crawlers.IsBlocked(err) ||
		crawlers.IsNotFound(err)
}
