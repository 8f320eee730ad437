package domain

import "time"

// EventType classifies a tracking/delivery event.
type EventType string

const (
	EventSent        EventType = "sent"
	EventOpen        EventType = "open"
	EventClick       EventType = "click"
	EventBounce      EventType = "bounce"
	EventUnsubscribe EventType = "unsubscribe"
	EventSpam        EventType = "spam"
	EventDelivered   EventType = "delivered"
)

// Send outcome values recorded in a SENT event's metadata under "status".
const (
	SendStatusSent   = "sent"
	SendStatusFailed = "failed"
)

// Event is one append-only tracking record. Events are never mutated or
// deleted by the pipeline; consumers derive current status by taking the
// most recent event per (recipient, type).
type Event struct {
	ID          string            `json:"id"`
	CampaignID  string            `json:"campaign_id"`
	RecipientID string            `json:"recipient_id"`
	Email       string            `json:"email"`
	VariantID   string            `json:"variant_id,omitempty"`
	Type        EventType         `json:"type"`
	CreatedAt   time.Time         `json:"created_at"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// LinkKind classifies what a tracking link points at.
type LinkKind string

const (
	LinkCTAClick    LinkKind = "cta_click"
	LinkUnsubscribe LinkKind = "unsubscribe"
)

// UnsubscribeDestination is the sentinel destination stored on
// unsubscribe links, which have no redirect target of their own.
const UnsubscribeDestination = "unsubscribe"

// TrackingLink maps an opaque token embedded in a public URL to the
// campaign, recipient and destination it tracks. Links are written once by
// the delivery worker and only ever read afterwards; expiry is enforced by
// the store's TTL.
type TrackingLink struct {
	TrackingID  string    `json:"tracking_id"`
	CampaignID  string    `json:"campaign_id"`
	RecipientID string    `json:"recipient_id"`
	Email       string    `json:"email"`
	VariantID   string    `json:"variant_id,omitempty"`
	Kind        LinkKind  `json:"kind"`
	LinkID      string    `json:"link_id"`     // position label within the message, e.g. "cta_1"
	Destination string    `json:"original_url"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}
