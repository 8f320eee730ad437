package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func validCampaign() *Campaign {
	return &Campaign{
		ID:             "cmp-1",
		Name:           "welcome",
		DeliveryMode:   DeliveryIndividual,
		RecipientEmail: "user@example.com",
		Schedule:       ScheduleImmediate,
		Subject:        "Hi",
		HTMLBody:       "<p>Hi</p>",
		FromEmail:      "news@example.com",
		FromName:       "Example",
		State:          StatePending,
	}
}

func TestValidateDeliveryModeInvariants(t *testing.T) {
	now := time.Now()

	c := validCampaign()
	assert.NoError(t, c.Validate(now))

	// Individual campaign with a segment set is contradictory.
	c = validCampaign()
	c.SegmentID = "seg-1"
	assert.ErrorIs(t, c.Validate(now), ErrBadDeliveryMode)

	// Segment campaign must not carry a direct recipient.
	c = validCampaign()
	c.DeliveryMode = DeliverySegment
	c.SegmentID = "seg-1"
	assert.ErrorIs(t, c.Validate(now), ErrBadDeliveryMode)

	c.RecipientEmail = ""
	assert.NoError(t, c.Validate(now))

	c = validCampaign()
	c.DeliveryMode = "BULK"
	assert.ErrorIs(t, c.Validate(now), ErrBadDeliveryMode)
}

func TestValidateScheduleInvariants(t *testing.T) {
	now := time.Now()

	c := validCampaign()
	c.Schedule = ScheduleScheduled
	assert.ErrorIs(t, c.Validate(now), ErrBadSchedule)

	c.ScheduleAt = now.Add(-time.Hour)
	assert.ErrorIs(t, c.Validate(now), ErrBadSchedule)

	c.ScheduleAt = now.Add(time.Hour)
	assert.NoError(t, c.Validate(now))

	c = validCampaign()
	c.ScheduleAt = now.Add(time.Hour)
	assert.ErrorIs(t, c.Validate(now), ErrBadSchedule, "immediate campaign with schedule_at")
}

func TestCheckInvariantsAcceptsDueSchedule(t *testing.T) {
	now := time.Now()

	// A stored scheduled campaign whose time has passed is still a
	// valid record; only creation rejects a past schedule_at.
	c := validCampaign()
	c.Schedule = ScheduleScheduled
	c.ScheduleAt = now.Add(-time.Hour)
	assert.NoError(t, c.CheckInvariants())
	assert.ErrorIs(t, c.Validate(now), ErrBadSchedule)

	c.ScheduleAt = time.Time{}
	assert.ErrorIs(t, c.CheckInvariants(), ErrBadSchedule)
}

func TestCheckInvariantsABConfig(t *testing.T) {
	c := validCampaign()
	c.Schedule = ScheduleABTest
	assert.ErrorIs(t, c.CheckInvariants(), ErrBadABConfig, "missing config")
}

func TestValidateABConfig(t *testing.T) {
	now := time.Now()

	c := validCampaign()
	c.Schedule = ScheduleABTest
	assert.ErrorIs(t, c.Validate(now), ErrBadABConfig)

	c.ABTest = &ABTestConfig{
		Variants: []Variant{
			{ID: "A", Subject: "a", HTML: "<p>a</p>"},
			{ID: "B", Subject: "b", HTML: "<p>b</p>"},
		},
		TestFraction: 0.3,
		DecisionAt:   now.Add(24 * time.Hour),
	}
	assert.ErrorIs(t, c.Validate(now), ErrBadABConfig, "two variants is not enough")

	c.ABTest.Variants = append(c.ABTest.Variants, Variant{ID: "C", Subject: "c", HTML: "<p>c</p>"})
	assert.NoError(t, c.Validate(now))

	c.ABTest.TestFraction = 1.5
	assert.ErrorIs(t, c.Validate(now), ErrBadABConfig)

	c.ABTest.TestFraction = 0.3
	c.ABTest.DecisionAt = time.Time{}
	assert.ErrorIs(t, c.Validate(now), ErrBadABConfig)
}

func TestTerminalStates(t *testing.T) {
	assert.True(t, StateDone.Terminal())
	assert.True(t, StateFailed.Terminal())
	assert.False(t, StateScheduled.Terminal())
	assert.False(t, StatePending.Terminal())
	assert.False(t, StateSending.Terminal())
}

func TestVariantContentKeepsSender(t *testing.T) {
	c := validCampaign()
	got := c.VariantContent(Variant{ID: "B", Subject: "variant b", HTML: "<p>b</p>"})

	assert.Equal(t, "variant b", got.Subject)
	assert.Equal(t, "<p>b</p>", got.HTMLBody)
	assert.Equal(t, c.FromEmail, got.FromEmail)
	assert.Equal(t, c.FromName, got.FromName)
}
