package domain

import (
	"errors"
	"fmt"
	"time"
)

// CampaignState is the dispatch lifecycle state of a campaign.
// The wire codes match the values persisted in the campaigns table.
type CampaignState string

const (
	StateScheduled CampaignState = "SC"
	StatePending   CampaignState = "P"
	StateSending   CampaignState = "SE"
	StateDone      CampaignState = "D"
	StateFailed    CampaignState = "F"
)

// DeliveryMode selects how a campaign's recipients are resolved.
type DeliveryMode string

const (
	DeliveryIndividual DeliveryMode = "IND"
	DeliverySegment    DeliveryMode = "SEG"
)

// ScheduleKind is the campaign execution timing type.
type ScheduleKind string

const (
	ScheduleImmediate ScheduleKind = "I"
	ScheduleScheduled ScheduleKind = "S"
	ScheduleABTest    ScheduleKind = "AB"
)

// Content is one renderable email payload. For A/B campaigns each variant
// carries its own Content; otherwise the campaign has exactly one.
type Content struct {
	Subject   string `json:"subject"`
	HTMLBody  string `json:"html_body"`
	FromEmail string `json:"from_email"`
	FromName  string `json:"from_name"`
}

// VariantOrder lists variant identifiers in tie-break order.
var VariantOrder = []string{"A", "B", "C"}

// Variant is one of the three alternate content payloads of an A/B test.
type Variant struct {
	ID      string `json:"id"` // "A", "B" or "C"
	Subject string `json:"subject"`
	HTML    string `json:"content"`
}

// ABTestConfig holds the A/B test parameters of a campaign.
type ABTestConfig struct {
	Variants      []Variant `json:"variants"`
	TestFraction  float64   `json:"test_fraction"`
	DecisionAt    time.Time `json:"decision_at"`
	WinnerVariant string    `json:"winner_variant,omitempty"`
}

// Campaign is a unit of email-sending work. It is created by the external
// campaigns API; the pipeline only transitions its state and, for A/B
// campaigns, records the winning variant.
type Campaign struct {
	ID             string        `json:"id"`
	Name           string        `json:"name"`
	DeliveryMode   DeliveryMode  `json:"delivery_type"`
	RecipientEmail string        `json:"recipient_email,omitempty"` // set iff INDIVIDUAL
	SegmentID      string        `json:"segment_id,omitempty"`      // set iff SEGMENT
	Schedule       ScheduleKind  `json:"campaign_type"`
	ScheduleAt     time.Time     `json:"schedule_at,omitempty"` // set iff SCHEDULED
	Subject        string        `json:"subject"`
	HTMLBody       string        `json:"html_body"`
	FromEmail      string        `json:"from_email"`
	FromName       string        `json:"from_name"`
	State          CampaignState `json:"state"`
	Transport      string        `json:"transport,omitempty"` // "ses" (default) or "gmail"
	ABTest         *ABTestConfig `json:"ab_test_config,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

var (
	ErrBadDeliveryMode = errors.New("delivery mode does not match recipient fields")
	ErrBadSchedule     = errors.New("invalid schedule configuration")
	ErrBadABConfig     = errors.New("invalid A/B test configuration")
)

// Validate checks the invariants a newly created campaign must satisfy.
// On top of CheckInvariants it requires a future ScheduleAt for
// scheduled campaigns; that check only makes sense at creation time.
func (c *Campaign) Validate(now time.Time) error {
	if c.Schedule == ScheduleScheduled && !c.ScheduleAt.After(now) {
		return fmt.Errorf("%w: schedule_at must be in the future", ErrBadSchedule)
	}
	return c.CheckInvariants()
}

// CheckInvariants checks the structural invariants the pipeline depends
// on regardless of when it looks at the record: exactly one of
// RecipientEmail/SegmentID set and matching DeliveryMode, a ScheduleAt
// consistent with the schedule kind, and a complete three-variant config
// for A/B campaigns. Campaign records come from the external campaigns
// API, so a violation here means bad stored data, not a pipeline bug.
func (c *Campaign) CheckInvariants() error {
	switch c.DeliveryMode {
	case DeliveryIndividual:
		if c.RecipientEmail == "" || c.SegmentID != "" {
			return fmt.Errorf("%w: mode=%s", ErrBadDeliveryMode, c.DeliveryMode)
		}
	case DeliverySegment:
		if c.SegmentID == "" || c.RecipientEmail != "" {
			return fmt.Errorf("%w: mode=%s", ErrBadDeliveryMode, c.DeliveryMode)
		}
	default:
		return fmt.Errorf("%w: unknown mode %q", ErrBadDeliveryMode, c.DeliveryMode)
	}

	switch c.Schedule {
	case ScheduleImmediate:
		if !c.ScheduleAt.IsZero() {
			return fmt.Errorf("%w: immediate campaign has schedule_at", ErrBadSchedule)
		}
	case ScheduleScheduled:
		if c.ScheduleAt.IsZero() {
			return fmt.Errorf("%w: missing schedule_at", ErrBadSchedule)
		}
	case ScheduleABTest:
		if c.ABTest == nil {
			return fmt.Errorf("%w: missing config", ErrBadABConfig)
		}
		if len(c.ABTest.Variants) != 3 {
			return fmt.Errorf("%w: want 3 variants, got %d", ErrBadABConfig, len(c.ABTest.Variants))
		}
		if c.ABTest.DecisionAt.IsZero() {
			return fmt.Errorf("%w: missing decision_at", ErrBadABConfig)
		}
		if c.ABTest.TestFraction < 0 || c.ABTest.TestFraction > 1 {
			return fmt.Errorf("%w: test_fraction %v out of range", ErrBadABConfig, c.ABTest.TestFraction)
		}
	default:
		return fmt.Errorf("%w: unknown schedule %q", ErrBadSchedule, c.Schedule)
	}

	return nil
}

// Content returns the campaign's base content payload.
func (c *Campaign) Content() Content {
	return Content{
		Subject:   c.Subject,
		HTMLBody:  c.HTMLBody,
		FromEmail: c.FromEmail,
		FromName:  c.FromName,
	}
}

// VariantContent returns the content payload for one A/B variant, keeping
// the campaign's from address.
func (c *Campaign) VariantContent(v Variant) Content {
	return Content{
		Subject:   v.Subject,
		HTMLBody:  v.HTML,
		FromEmail: c.FromEmail,
		FromName:  c.FromName,
	}
}

// Terminal reports whether the state admits no further transitions on the
// standard path.
func (s CampaignState) Terminal() bool {
	return s == StateDone || s == StateFailed
}
