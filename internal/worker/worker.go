// Package worker drains the outbox into the cascade coordinator and the
// notification sink, and runs the periodic sweeps.
package worker

import (
	"context"
	"time"

	"tradepost/internal/domain"
	applog "tradepost/internal/log"
	"tradepost/internal/metrics"
	"tradepost/internal/notify"
	"tradepost/internal/repos"
	"tradepost/internal/ticker"
)

const (
	DefaultMaxAttempts = 10
	DefaultBatchSize   = 100
)

// Handler applies an event's cascade. services.CascadeService satisfies it.
type Handler interface {
	Handle(ctx context.Context, ev domain.Event) error
}

// Worker delivers outbox events at least once. An event is marked done only
// after its cascade and its notification both succeeded; otherwise its
// attempt count goes up and the next run retries it.
type Worker struct {
	Outbox      *repos.OutboxRepo
	Cascade     Handler
	Notifier    notify.Sink
	MaxAttempts int
	BatchSize   int
	Now         func() time.Time
}

func New(outbox *repos.OutboxRepo, cascade Handler, notifier notify.Sink) *Worker {
	return &Worker{
		Outbox:      outbox,
		Cascade:     cascade,
		Notifier:    notifier,
		MaxAttempts: DefaultMaxAttempts,
		BatchSize:   DefaultBatchSize,
	}
}

// Result counts one pass over the outbox.
type Result struct {
	Done   int
	Failed int
}

// RunOnce handles one batch of pending events.
func (w *Worker) RunOnce(ctx context.Context) (Result, error) {
	var res Result
	pending, err := w.Outbox.Pending(ctx, w.MaxAttempts, w.BatchSize)
	if err != nil {
		return res, err
	}
	for _, ev := range pending {
		if err := w.deliver(ctx, ev.Event); err != nil {
			res.Failed++
			metrics.OutboxEvents.WithLabelValues(string(ev.Kind), "failed").Inc()
			applog.Error(nil, "outbox.deliver", err, map[string]any{
				"event_id": ev.ID, "kind": string(ev.Kind), "attempt": ev.Attempts + 1,
			})
			if mErr := w.Outbox.MarkFailed(ctx, ev.ID, err); mErr != nil {
				return res, mErr
			}
			continue
		}
		if err := w.Outbox.MarkDone(ctx, ev.ID, w.now()); err != nil {
			return res, err
		}
		res.Done++
		metrics.OutboxEvents.WithLabelValues(string(ev.Kind), "done").Inc()
	}
	return res, nil
}

func (w *Worker) deliver(ctx context.Context, ev domain.Event) error {
	if w.Cascade != nil {
		if err := w.Cascade.Handle(ctx, ev); err != nil {
			return err
		}
	}
	if w.Notifier != nil && notify.Notifiable(ev.Kind) {
		return w.Notifier.Notify(ctx, ev)
	}
	return nil
}

func (w *Worker) now() time.Time {
	if w.Now == nil {
		return time.Now().UTC()
	}
	return w.Now().UTC()
}

// Run polls the outbox every interval until ctx is cancelled.
func (w *Worker) Run(ctx context.Context, interval time.Duration) error {
	return ticker.Periodically(ctx, interval, func(ctx context.Context) error {
		res, err := w.RunOnce(ctx)
		if res.Done+res.Failed > 0 {
			applog.Info(nil, "outbox.batch", map[string]any{"done": res.Done, "failed": res.Failed})
		}
		return err
	}, func(err error) {
		applog.Error(nil, "outbox.run", err, nil)
	})
}
