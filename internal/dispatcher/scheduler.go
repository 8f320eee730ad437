package dispatcher

import (
	"context"
	"time"

	"github.com/sentinel-hq/sentinel/internal/domain"
	"github.com/sentinel-hq/sentinel/internal/store"
)

// Scheduler periodically sweeps the campaigns table and dispatches
// anything due: scheduled campaigns whose time has come, plus pending
// campaigns left behind by a crashed dispatch.
type Scheduler struct {
	campaigns  store.CampaignStore
	dispatcher *Dispatcher
	interval   time.Duration
	done       chan struct{}
}

func NewScheduler(campaigns store.CampaignStore, d *Dispatcher, interval time.Duration) *Scheduler {
	return &Scheduler{
		campaigns:  campaigns,
		dispatcher: d,
		interval:   interval,
		done:       make(chan struct{}),
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	go s.run(ctx)
}

func (s *Scheduler) Stop() {
	close(s.done)
}

func (s *Scheduler) run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one sweep. Dispatch itself re-checks due times and claims
// campaigns conditionally, so overlapping ticks are harmless.
func (s *Scheduler) Tick(ctx context.Context) {
	for _, state := range []domain.CampaignState{domain.StateScheduled, domain.StatePending} {
		campaigns, err := s.campaigns.ListByState(ctx, state)
		if err != nil {
			s.dispatcher.log.Error("listing campaigns", "state", string(state), "error", err.Error())
			continue
		}

		for _, c := range campaigns {
			if c.Schedule == domain.ScheduleScheduled && c.ScheduleAt.After(s.dispatcher.now()) {
				continue
			}
			if _, err := s.dispatcher.Dispatch(ctx, c.ID); err != nil {
				s.dispatcher.log.Error("scheduled dispatch failed", "campaign_id", c.ID, "error", err.Error())
			}
		}
	}
}
