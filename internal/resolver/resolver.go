// Package resolver turns a campaign's audience definition into a
// concrete, deduplicated recipient list with stable recipient IDs.
package resolver

import (
	"context"
	"fmt"
	"strings"

	"github.com/sentinel-hq/sentinel/internal/domain"
	"github.com/sentinel-hq/sentinel/internal/pkg/logger"
	"github.com/sentinel-hq/sentinel/internal/store"
)

// Resolver materializes campaign audiences from the segment store.
type Resolver struct {
	segments store.SegmentStore
	log      *logger.Logger
}

func New(segments store.SegmentStore) *Resolver {
	return &Resolver{segments: segments, log: logger.Component("resolver")}
}

// Resolve returns the campaign's recipients. Emails are normalized to
// lowercase, deduplicated keeping first occurrence, and assigned
// deterministic IDs so retried runs produce identical lists.
func (r *Resolver) Resolve(ctx context.Context, c *domain.Campaign) ([]domain.Recipient, error) {
	switch c.DeliveryMode {
	case domain.DeliveryIndividual:
		email := domain.NormalizeEmail(c.RecipientEmail)
		if !plausibleEmail(email) {
			return nil, fmt.Errorf("%w: bad recipient email", domain.ErrBadDeliveryMode)
		}
		return []domain.Recipient{{
			ID:    domain.IndividualRecipientID(email),
			Email: email,
		}}, nil

	case domain.DeliverySegment:
		if domain.IsPseudoSegment(c.SegmentID) {
			return r.resolvePseudo(ctx, c.SegmentID)
		}
		return r.resolveSegment(ctx, c.SegmentID)

	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrBadDeliveryMode, c.DeliveryMode)
	}
}

// resolveSegment resolves a directly targeted segment. Status is not
// checked here: a campaign pointed at a concrete segment sends to it
// whatever its lifecycle state, status only filters the all_active
// pseudo-segment.
func (r *Resolver) resolveSegment(ctx context.Context, segmentID string) ([]domain.Recipient, error) {
	seg, err := r.segments.Get(ctx, segmentID)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, fmt.Errorf("%w: %s", store.ErrInvalidSegment, segmentID)
		}
		return nil, err
	}

	recipients := dedupe(seg.Emails, func(email string) string {
		return domain.SegmentRecipientID(segmentID, email)
	})
	r.log.Debug("segment resolved", "segment_id", segmentID, "recipients", len(recipients))
	return recipients, nil
}

// resolvePseudo materializes the synthetic whole-base segments from a
// scan of every stored segment. all_contacts unions everything,
// all_active only segments still marked active.
func (r *Resolver) resolvePseudo(ctx context.Context, id string) ([]domain.Recipient, error) {
	segments, err := r.segments.ListAll(ctx)
	if err != nil {
		return nil, err
	}

	var emails []string
	for _, seg := range segments {
		if id == domain.SegmentAllActive && seg.Status != domain.SegmentActive {
			continue
		}
		emails = append(emails, seg.Emails...)
	}

	recipients := dedupe(emails, domain.GlobalRecipientID)
	r.log.Debug("pseudo segment resolved", "segment_id", id, "recipients", len(recipients))
	return recipients, nil
}

// dedupe normalizes, filters and deduplicates emails preserving first
// occurrence order, assigning IDs with idFor.
func dedupe(emails []string, idFor func(email string) string) []domain.Recipient {
	seen := make(map[string]struct{}, len(emails))
	recipients := make([]domain.Recipient, 0, len(emails))
	for _, raw := range emails {
		email := domain.NormalizeEmail(raw)
		if !plausibleEmail(email) {
			continue
		}
		if _, ok := seen[email]; ok {
			continue
		}
		seen[email] = struct{}{}
		recipients = append(recipients, domain.Recipient{
			ID:    idFor(email),
			Email: email,
		})
	}
	return recipients
}

func plausibleEmail(email string) bool {
	at := strings.Index(email, "@")
	return at > 0 && strings.Contains(email[at:], ".")
}
