// Package abtest decides A/B test winners and releases the held
// remainder of the audience with the winning content.
package abtest

import (
	"context"
	"fmt"
	"time"

	"github.com/sentinel-hq/sentinel/internal/domain"
	"github.com/sentinel-hq/sentinel/internal/pkg/logger"
	"github.com/sentinel-hq/sentinel/internal/queue"
	"github.com/sentinel-hq/sentinel/internal/resolver"
	"github.com/sentinel-hq/sentinel/internal/store"
)

// Scoring weights: a click signals more intent than an open.
const (
	openWeight  = 1
	clickWeight = 2
)

// Decision summarizes one resolved A/B test.
type Decision struct {
	CampaignID string
	Winner     string
	Scores     map[string]int
	Remainder  int
	Enqueued   int
}

// Analyzer scores variant engagement and dispatches the remainder.
type Analyzer struct {
	campaigns store.CampaignStore
	events    store.EventStore
	resolver  *resolver.Resolver
	sendQueue queue.SendQueue
	log       *logger.Logger
	now       func() time.Time
}

func New(campaigns store.CampaignStore, events store.EventStore, res *resolver.Resolver, sendQueue queue.SendQueue) *Analyzer {
	return &Analyzer{
		campaigns: campaigns,
		events:    events,
		resolver:  res,
		sendQueue: sendQueue,
		log:       logger.Component("abtest"),
		now:       time.Now,
	}
}

// Analyze decides the winner for one A/B campaign and sends the winning
// content to everyone the test groups did not cover. The campaign must
// still be sending; anything else is treated as already decided.
func (a *Analyzer) Analyze(ctx context.Context, campaignID string) (Decision, error) {
	dec := Decision{CampaignID: campaignID, Scores: map[string]int{}}

	c, err := a.campaigns.Get(ctx, campaignID)
	if err != nil {
		return dec, fmt.Errorf("loading campaign: %w", err)
	}
	if c.Schedule != domain.ScheduleABTest || c.ABTest == nil {
		return dec, fmt.Errorf("campaign %s is not an A/B test", campaignID)
	}
	if c.State != domain.StateSending {
		a.log.Info("decision skipped", "campaign_id", campaignID, "state", string(c.State))
		return dec, nil
	}

	events, err := a.events.ListByCampaign(ctx, campaignID)
	if err != nil {
		return dec, fmt.Errorf("loading events: %w", err)
	}

	sentTo := make(map[string]struct{})
	for _, e := range events {
		switch e.Type {
		case domain.EventSent:
			sentTo[e.Email] = struct{}{}
		case domain.EventOpen:
			if e.VariantID != "" {
				dec.Scores[e.VariantID] += openWeight
			}
		case domain.EventClick:
			if e.VariantID != "" {
				dec.Scores[e.VariantID] += clickWeight
			}
		}
	}

	dec.Winner = pickWinner(dec.Scores)
	if err := a.campaigns.SetWinner(ctx, campaignID, dec.Winner); err != nil {
		return dec, fmt.Errorf("recording winner: %w", err)
	}

	recipients, err := a.resolver.Resolve(ctx, c)
	if err != nil {
		return dec, fmt.Errorf("resolving remainder: %w", err)
	}

	winnerContent := c.Content()
	for _, v := range c.ABTest.Variants {
		if v.ID == dec.Winner {
			winnerContent = c.VariantContent(v)
			break
		}
	}

	var jobs []domain.SendJob
	for _, r := range recipients {
		if _, already := sentTo[r.Email]; already {
			continue
		}
		jobs = append(jobs, domain.SendJob{
			CampaignID:  c.ID,
			RecipientID: r.ID,
			Email:       r.Email,
			VariantID:   dec.Winner,
			Content:     winnerContent,
			Transport:   c.Transport,
		})
	}
	dec.Remainder = len(jobs)

	if len(jobs) > 0 {
		qres, err := a.sendQueue.Enqueue(ctx, jobs)
		dec.Enqueued = qres.Enqueued
		if err != nil {
			return dec, fmt.Errorf("enqueuing remainder: %w", err)
		}
	}

	if err := a.campaigns.UpdateState(ctx, campaignID, domain.StateDone, domain.StateSending); err != nil {
		return dec, fmt.Errorf("completing campaign: %w", err)
	}

	a.log.Info("ab test decided",
		"campaign_id", campaignID,
		"winner", dec.Winner,
		"remainder", dec.Remainder)
	return dec, nil
}

// pickWinner returns the highest-scoring variant, breaking ties in
// variant order. With no engagement at all the first variant wins.
func pickWinner(scores map[string]int) string {
	winner := domain.VariantOrder[0]
	best := -1
	for _, id := range domain.VariantOrder {
		if s, ok := scores[id]; ok && s > best {
			winner, best = id, s
		}
	}
	if best < 0 {
		return domain.VariantOrder[0]
	}
	return winner
}

// Ticker sweeps for sending A/B campaigns whose decision time passed.
type Ticker struct {
	campaigns store.CampaignStore
	analyzer  *Analyzer
	interval  time.Duration
	done      chan struct{}
}

func NewTicker(campaigns store.CampaignStore, analyzer *Analyzer, interval time.Duration) *Ticker {
	return &Ticker{
		campaigns: campaigns,
		analyzer:  analyzer,
		interval:  interval,
		done:      make(chan struct{}),
	}
}

func (t *Ticker) Start(ctx context.Context) {
	go t.run(ctx)
}

func (t *Ticker) Stop() {
	close(t.done)
}

func (t *Ticker) run(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.done:
			return
		case <-ticker.C:
			t.Tick(ctx)
		}
	}
}

// Tick runs one decision sweep.
func (t *Ticker) Tick(ctx context.Context) {
	campaigns, err := t.campaigns.ListByState(ctx, domain.StateSending)
	if err != nil {
		t.analyzer.log.Error("listing sending campaigns", "error", err.Error())
		return
	}

	for _, c := range campaigns {
		if c.Schedule != domain.ScheduleABTest || c.ABTest == nil {
			continue
		}
		if c.ABTest.DecisionAt.After(t.analyzer.now()) {
			continue
		}
		if _, err := t.analyzer.Analyze(ctx, c.ID); err != nil {
			t.analyzer.log.Error("ab decision failed", "campaign_id", c.ID, "error", err.Error())
		}
	}
}
