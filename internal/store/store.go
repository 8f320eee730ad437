package store

import (
	"context"
	"time"

	"github.com/sentinel-hq/sentinel/internal/domain"
)

// CampaignStore persists campaign records and their state transitions.
type CampaignStore interface {
	Get(ctx context.Context, id string) (*domain.Campaign, error)
	Put(ctx context.Context, c *domain.Campaign) error
	// UpdateState transitions a campaign to state. When expect is
	// non-empty the update is conditional on the current state and
	// returns ErrConflict if another writer got there first.
	UpdateState(ctx context.Context, id string, state domain.CampaignState, expect domain.CampaignState) error
	// SetWinner records the decided A/B variant on the campaign.
	SetWinner(ctx context.Context, id, variantID string) error
	// ListByState scans campaigns currently in state. Used by the
	// scheduler and A/B decision ticks.
	ListByState(ctx context.Context, state domain.CampaignState) ([]domain.Campaign, error)
}

// SegmentStore persists segment records.
type SegmentStore interface {
	Get(ctx context.Context, id string) (*domain.Segment, error)
	// ListAll scans every stored segment. Used to materialize the
	// whole-base pseudo-segments.
	ListAll(ctx context.Context) ([]domain.Segment, error)
	// RecordExecution updates a segment's dispatch metadata.
	RecordExecution(ctx context.Context, segmentID, campaignID string, recipientCount int, at time.Time) error
}

// EventStore persists delivery and engagement events.
type EventStore interface {
	Put(ctx context.Context, e *domain.Event) error
	// ListByCampaign returns every event recorded for a campaign.
	ListByCampaign(ctx context.Context, campaignID string) ([]domain.Event, error)
}

// LinkStore persists tracking-link records keyed by tracking ID.
type LinkStore interface {
	Put(ctx context.Context, l *domain.TrackingLink) error
	// Get returns ErrNotFound for unknown or expired tracking IDs.
	Get(ctx context.Context, trackingID string) (*domain.TrackingLink, error)
}
