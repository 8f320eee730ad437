// Package dispatcher drives campaigns through their send lifecycle:
// it claims a campaign, resolves its audience, fans jobs out to the
// send queue and records the resulting state transition.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/sentinel-hq/sentinel/internal/domain"
	"github.com/sentinel-hq/sentinel/internal/pkg/logger"
	"github.com/sentinel-hq/sentinel/internal/queue"
	"github.com/sentinel-hq/sentinel/internal/resolver"
	"github.com/sentinel-hq/sentinel/internal/store"
)

// Result summarizes one dispatch attempt.
type Result struct {
	CampaignID string
	Recipients int
	Enqueued   int
	Failed     int
	Batches    int
	Skipped    bool
	Reason     string
}

// Dispatcher executes the campaign dispatch state machine.
type Dispatcher struct {
	campaigns store.CampaignStore
	segments  store.SegmentStore
	resolver  *resolver.Resolver
	sendQueue queue.SendQueue
	log       *logger.Logger
	rng       *rand.Rand
	now       func() time.Time
}

func New(campaigns store.CampaignStore, segments store.SegmentStore, res *resolver.Resolver, sendQueue queue.SendQueue) *Dispatcher {
	return &Dispatcher{
		campaigns: campaigns,
		segments:  segments,
		resolver:  res,
		sendQueue: sendQueue,
		log:       logger.Component("dispatcher"),
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		now:       time.Now,
	}
}

// Dispatch runs one campaign through enqueue. The claim transition to
// SENDING is conditional on the campaign's current state, so concurrent
// dispatchers fighting over the same campaign resolve to one winner.
func (d *Dispatcher) Dispatch(ctx context.Context, campaignID string) (Result, error) {
	res := Result{CampaignID: campaignID}

	c, err := d.campaigns.Get(ctx, campaignID)
	if err != nil {
		return res, fmt.Errorf("loading campaign: %w", err)
	}

	if c.State.Terminal() {
		res.Skipped, res.Reason = true, fmt.Sprintf("campaign in terminal state %s", c.State)
		return res, nil
	}
	if c.State == domain.StateSending {
		res.Skipped, res.Reason = true, "campaign already sending"
		return res, nil
	}
	if c.Schedule == domain.ScheduleScheduled && c.ScheduleAt.After(d.now()) {
		res.Skipped, res.Reason = true, "campaign not yet due"
		return res, nil
	}

	// The writer of the campaign record is the external campaigns API,
	// so a broken record must fail the campaign, not the dispatcher.
	if err := c.CheckInvariants(); err != nil {
		d.fail(ctx, c.ID)
		return res, fmt.Errorf("invalid campaign: %w", err)
	}

	// A due scheduled campaign passes through PENDING before the claim
	// so the intermediate state is observable.
	if c.State == domain.StateScheduled {
		if err := d.campaigns.UpdateState(ctx, c.ID, domain.StatePending, domain.StateScheduled); err != nil {
			if errors.Is(err, store.ErrConflict) {
				res.Skipped, res.Reason = true, "claimed by another dispatcher"
				return res, nil
			}
			return res, fmt.Errorf("claiming campaign: %w", err)
		}
		c.State = domain.StatePending
	}

	if err := d.campaigns.UpdateState(ctx, c.ID, domain.StateSending, c.State); err != nil {
		if errors.Is(err, store.ErrConflict) {
			res.Skipped, res.Reason = true, "claimed by another dispatcher"
			return res, nil
		}
		return res, fmt.Errorf("claiming campaign: %w", err)
	}

	recipients, err := d.resolver.Resolve(ctx, c)
	if err != nil {
		d.fail(ctx, c.ID)
		return res, fmt.Errorf("resolving recipients: %w", err)
	}
	res.Recipients = len(recipients)

	if len(recipients) == 0 {
		// Nothing to send is a completed dispatch, not a failure.
		if err := d.campaigns.UpdateState(ctx, c.ID, domain.StateDone, domain.StateSending); err != nil {
			return res, err
		}
		res.Reason = "no recipients"
		d.log.Info("campaign dispatched", "campaign_id", c.ID, "enqueued", 0)
		return res, nil
	}

	var jobs []domain.SendJob
	if c.Schedule == domain.ScheduleABTest {
		jobs = d.testGroupJobs(c, recipients)
	} else {
		jobs = buildJobs(c, recipients, c.Content(), "")
	}

	qres, err := d.sendQueue.Enqueue(ctx, jobs)
	res.Enqueued, res.Failed, res.Batches = qres.Enqueued, qres.Failed, qres.Batches
	if err != nil {
		d.fail(ctx, c.ID)
		return res, fmt.Errorf("enqueuing jobs: %w", err)
	}
	if qres.Enqueued == 0 && len(jobs) > 0 {
		d.fail(ctx, c.ID)
		return res, fmt.Errorf("no jobs enqueued for campaign %s", c.ID)
	}

	if c.DeliveryMode == domain.DeliverySegment && !domain.IsPseudoSegment(c.SegmentID) {
		if err := d.segments.RecordExecution(ctx, c.SegmentID, c.ID, len(recipients), d.now()); err != nil {
			d.log.Warn("recording segment execution", "segment_id", c.SegmentID, "error", err.Error())
		}
	}

	// A/B campaigns hold their remainder until the decision pass;
	// everything else is fully enqueued and therefore done.
	if c.Schedule != domain.ScheduleABTest {
		if err := d.campaigns.UpdateState(ctx, c.ID, domain.StateDone, domain.StateSending); err != nil {
			return res, err
		}
	}

	d.log.Info("campaign dispatched",
		"campaign_id", c.ID,
		"recipients", res.Recipients,
		"enqueued", res.Enqueued,
		"batches", res.Batches)
	return res, nil
}

func (d *Dispatcher) fail(ctx context.Context, campaignID string) {
	if err := d.campaigns.UpdateState(ctx, campaignID, domain.StateFailed, ""); err != nil {
		d.log.Error("marking campaign failed", "campaign_id", campaignID, "error", err.Error())
	}
}

// testGroupJobs shuffles the audience and assigns the test fraction to
// the three variants in equal slices, at least one recipient each. The
// remainder is not enqueued; the decision pass sends it the winner.
func (d *Dispatcher) testGroupJobs(c *domain.Campaign, recipients []domain.Recipient) []domain.SendJob {
	shuffled := make([]domain.Recipient, len(recipients))
	copy(shuffled, recipients)
	d.rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	perVariant := int(float64(len(shuffled)) * c.ABTest.TestFraction / 3)
	if perVariant < 1 {
		perVariant = 1
	}

	var jobs []domain.SendJob
	for i, v := range c.ABTest.Variants {
		start := i * perVariant
		end := start + perVariant
		if start > len(shuffled) {
			start = len(shuffled)
		}
		if end > len(shuffled) {
			end = len(shuffled)
		}
		jobs = append(jobs, buildJobs(c, shuffled[start:end], c.VariantContent(v), v.ID)...)
	}
	return jobs
}

func buildJobs(c *domain.Campaign, recipients []domain.Recipient, content domain.Content, variantID string) []domain.SendJob {
	jobs := make([]domain.SendJob, 0, len(recipients))
	for _, r := range recipients {
		jobs = append(jobs, domain.SendJob{
			CampaignID:  c.ID,
			RecipientID: r.ID,
			Email:       r.Email,
			VariantID:   variantID,
			Content:     content,
			Transport:   c.Transport,
		})
	}
	return jobs
}
