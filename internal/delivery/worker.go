// Package delivery renders, instruments and sends individual emails,
// recording exactly one terminal delivery event per processed job.
package delivery

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/sentinel-hq/sentinel/internal/domain"
	"github.com/sentinel-hq/sentinel/internal/pkg/logger"
	"github.com/sentinel-hq/sentinel/internal/pkg/retry"
	"github.com/sentinel-hq/sentinel/internal/store"
)

// Worker processes send jobs from the queue.
type Worker struct {
	events     store.EventStore
	renderer   *Renderer
	instr      *Instrumenter
	transports map[string]Transport
	throttle   *Throttle // nil disables rate limiting
	policy     retry.Policy
	log        *logger.Logger
	newID      func() string
	now        func() time.Time
}

func NewWorker(events store.EventStore, renderer *Renderer, instr *Instrumenter, transports map[string]Transport, throttle *Throttle) *Worker {
	return &Worker{
		events:     events,
		renderer:   renderer,
		instr:      instr,
		transports: transports,
		throttle:   throttle,
		policy:     retry.DefaultPolicy(),
		log:        logger.Component("delivery"),
		newID:      func() string { return uuid.NewString() },
		now:        time.Now,
	}
}

// Handle delivers one job. The send outcome, success or final failure,
// is recorded as a single terminal event; the job is then acknowledged
// either way. Only an event-write failure returns an error, leaving the
// job for redelivery.
func (w *Worker) Handle(ctx context.Context, job domain.SendJob) error {
	transport, ok := w.transports[transportName(job.Transport)]
	if !ok {
		w.log.Error("unknown transport", "campaign_id", job.CampaignID, "transport", job.Transport)
		return w.recordOutcome(ctx, job, 0, "", fmt.Errorf("unknown transport %q", job.Transport))
	}

	subject, html := w.renderer.RenderJob(&job)
	im := w.instr.Instrument(ctx, job, html)

	msg := &Message{
		To:          job.Email,
		FromEmail:   job.Content.FromEmail,
		FromName:    job.Content.FromName,
		Subject:     subject,
		HTML:        im.HTML,
		Text:        im.Text,
		Headers:     im.Headers,
		CampaignID:  job.CampaignID,
		RecipientID: job.RecipientID,
	}

	if w.throttle != nil {
		if err := w.throttle.Wait(ctx); err != nil {
			return err
		}
	}

	var messageID string
	attempts, err := retry.Do(ctx, w.policy, func(ctx context.Context) error {
		id, sendErr := transport.Send(ctx, msg)
		if sendErr == nil {
			messageID = id
		}
		return sendErr
	})
	if err != nil && ctx.Err() != nil {
		// Shutdown mid-send: no event, the queue redelivers.
		return ctx.Err()
	}

	return w.recordOutcome(ctx, job, attempts, messageID, err)
}

// recordOutcome writes the single terminal delivery event for this run.
func (w *Worker) recordOutcome(ctx context.Context, job domain.SendJob, attempts int, messageID string, sendErr error) error {
	metadata := map[string]string{
		"status":   domain.SendStatusSent,
		"attempts": strconv.Itoa(attempts),
	}
	if messageID != "" {
		metadata["message_id"] = messageID
	}
	if sendErr != nil {
		metadata["status"] = domain.SendStatusFailed
		metadata["error"] = sendErr.Error()
	}

	e := &domain.Event{
		ID:          w.newID(),
		CampaignID:  job.CampaignID,
		RecipientID: job.RecipientID,
		Email:       job.Email,
		VariantID:   job.VariantID,
		Type:        domain.EventSent,
		CreatedAt:   w.now().UTC(),
		Metadata:    metadata,
	}

	if err := w.events.Put(ctx, e); err != nil {
		return fmt.Errorf("recording delivery event: %w", err)
	}

	if sendErr != nil {
		w.log.Warn("delivery failed",
			"campaign_id", job.CampaignID,
			"recipient_id", job.RecipientID,
			"attempts", attempts,
			"error", sendErr.Error())
	} else {
		w.log.Info("delivered",
			"campaign_id", job.CampaignID,
			"recipient_id", job.RecipientID,
			"email", job.Email)
	}
	return nil
}

func transportName(name string) string {
	if name == "" {
		return "ses"
	}
	return name
}
