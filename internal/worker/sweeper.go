package worker

import (
	"context"
	"time"

	applog "tradepost/internal/log"
	"tradepost/internal/repos"
	"tradepost/internal/services"
	"tradepost/internal/ticker"
)

// Sweeper runs the listing expiration sweep and the ban expiry report.
type Sweeper struct {
	Lifecycle *services.LifecycleService
	Cascade   *services.CascadeService
}

// SweepResult is what one sweep pass found.
type SweepResult struct {
	Listings services.SweepReport
	Lapsed   []repos.LapsedBan
}

func (s *Sweeper) RunOnce(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	var err error
	if res.Listings, err = s.Lifecycle.SweepExpired(ctx); err != nil {
		return res, err
	}
	res.Lapsed, err = s.Cascade.OnBanExpirySweep(ctx)
	return res, err
}

func (s *Sweeper) Run(ctx context.Context, interval time.Duration) error {
	return ticker.Periodically(ctx, interval, func(ctx context.Context) error {
		_, err := s.RunOnce(ctx)
		return err
	}, func(err error) {
		applog.Error(nil, "sweep.run", err, nil)
	})
}
