package domain

import "time"

// Pseudo-segment identifiers resolved against the whole contact base
// rather than a stored segment record.
const (
	SegmentAllActive   = "all_active"
	SegmentAllContacts = "all_contacts"
)

// SegmentStatus is the lifecycle state of a stored segment.
// The wire codes match the values persisted in the segments table.
type SegmentStatus string

const (
	SegmentActive   SegmentStatus = "A"
	SegmentInactive SegmentStatus = "I"
	SegmentDeleted  SegmentStatus = "D"
)

// Segment is a named list of contact emails.
type Segment struct {
	ID     string        `json:"id"`
	Name   string        `json:"name"`
	Emails []string      `json:"emails"`
	Status SegmentStatus `json:"status"`

	// Execution metadata, updated after each dispatch against the segment.
	LastCampaignID     string     `json:"last_campaign_id,omitempty"`
	LastExecutionAt    *time.Time `json:"last_execution_at,omitempty"`
	LastRecipientCount int        `json:"last_recipient_count,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsPseudoSegment reports whether id names one of the synthetic
// whole-base segments instead of a stored record.
func IsPseudoSegment(id string) bool {
	return id == SegmentAllActive || id == SegmentAllContacts
}
