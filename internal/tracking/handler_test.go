package tracking

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinel-hq/sentinel/internal/domain"
	"github.com/sentinel-hq/sentinel/internal/store"
)

type memEvents struct {
	events  []domain.Event
	failPut bool
}

func (m *memEvents) Put(_ context.Context, e *domain.Event) error {
	if m.failPut {
		return errors.New("dynamo down")
	}
	m.events = append(m.events, *e)
	return nil
}

func (m *memEvents) ListByCampaign(_ context.Context, campaignID string) ([]domain.Event, error) {
	var out []domain.Event
	for _, e := range m.events {
		if e.CampaignID == campaignID {
			out = append(out, e)
		}
	}
	return out, nil
}

type memLinks struct {
	links map[string]*domain.TrackingLink
}

func (m *memLinks) Put(_ context.Context, l *domain.TrackingLink) error {
	cp := *l
	m.links[l.TrackingID] = &cp
	return nil
}

func (m *memLinks) Get(_ context.Context, trackingID string) (*domain.TrackingLink, error) {
	l, ok := m.links[trackingID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return l, nil
}

func newTestHandler() (*Handler, *memEvents, *memLinks) {
	events := &memEvents{}
	links := &memLinks{links: map[string]*domain.TrackingLink{}}
	h := NewHandler(events, links, nil, "https://example.com")
	return h, events, links
}

func get(h *Handler, path string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)
	return rec
}

func TestOpenServesPixelAndRecordsEvent(t *testing.T) {
	h, events, _ := newTestHandler()

	rec := get(h, "/track/open/cmp-1/abc12345.png?email=user@example.com", map[string]string{
		"User-Agent": "Mozilla/5.0 (Windows NT 10.0) Chrome/120.0.0.0 Safari/537.36",
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, pixelPNG, rec.Body.Bytes())

	require.Len(t, events.events, 1)
	e := events.events[0]
	assert.Equal(t, domain.EventOpen, e.Type)
	assert.Equal(t, "cmp-1", e.CampaignID)
	assert.Equal(t, "abc12345", e.RecipientID)
	assert.Equal(t, "user@example.com", e.Email)
	assert.Equal(t, "Chrome", e.Metadata["browser"])
	assert.Equal(t, "Windows", e.Metadata["os"])
}

func TestOpenWithoutEmailParam(t *testing.T) {
	h, events, _ := newTestHandler()

	rec := get(h, "/track/open/cmp-1/abc12345.png", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, events.events, 1)
	assert.Equal(t, "unknown", events.events[0].Email)
}

func TestOpenSurvivesEventStoreFailure(t *testing.T) {
	h, events, _ := newTestHandler()
	events.failPut = true

	rec := get(h, "/track/open/cmp-1/abc12345.png", nil)
	assert.Equal(t, http.StatusOK, rec.Code, "pixel is served no matter what")
	assert.Equal(t, pixelPNG, rec.Body.Bytes())
}

func TestClickRedirectsToDestination(t *testing.T) {
	h, events, links := newTestHandler()
	dest := "https://shop.example.com/offer?id=1&ref=news&utm_campaign=x%20y"
	links.links["tid-1"] = &domain.TrackingLink{
		TrackingID:  "tid-1",
		CampaignID:  "cmp-1",
		RecipientID: "abc12345",
		Email:       "user@example.com",
		VariantID:   "B",
		Kind:        domain.LinkCTAClick,
		LinkID:      "cta_1",
		Destination: dest,
	}

	rec := get(h, "/track/click/tid-1", nil)

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, dest, rec.Header().Get("Location"), "destination must round-trip byte for byte")

	// A click also records an inferred open.
	require.Len(t, events.events, 2)
	assert.Equal(t, domain.EventClick, events.events[0].Type)
	assert.Equal(t, "cta_1", events.events[0].Metadata["link_id"])
	assert.Equal(t, dest, events.events[0].Metadata["original_url"])
	assert.Equal(t, "B", events.events[0].VariantID)
	assert.Equal(t, domain.EventOpen, events.events[1].Type)
	assert.Equal(t, "click", events.events[1].Metadata["inferred_from"])
}

func TestClickAfterPixelOpenInfersNothing(t *testing.T) {
	h, events, links := newTestHandler()
	links.links["tid-1"] = &domain.TrackingLink{
		TrackingID:  "tid-1",
		CampaignID:  "cmp-1",
		RecipientID: "abc12345",
		Email:       "user@example.com",
		Kind:        domain.LinkCTAClick,
		LinkID:      "cta_1",
		Destination: "https://example.com/offer",
	}
	events.events = append(events.events, domain.Event{
		CampaignID: "cmp-1", RecipientID: "abc12345", Type: domain.EventOpen,
	})

	rec := get(h, "/track/click/tid-1", nil)
	assert.Equal(t, http.StatusFound, rec.Code)

	require.Len(t, events.events, 2, "the pixel open plus the click, no inferred open")
	assert.Equal(t, domain.EventClick, events.events[1].Type)
}

func TestClickUnknownTokenRedirectsToFallback(t *testing.T) {
	h, events, _ := newTestHandler()

	rec := get(h, "/track/click/nope", nil)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://example.com", rec.Header().Get("Location"))
	assert.Empty(t, events.events, "no attribution, no event")
}

func TestClickUnknownTokenHonorsFallbackParam(t *testing.T) {
	h, _, _ := newTestHandler()

	rec := get(h, "/track/click/nope?fallback=https://other.example.com", nil)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://other.example.com", rec.Header().Get("Location"))
}

func TestUnsubscribeRecordsAndConfirms(t *testing.T) {
	h, events, links := newTestHandler()
	links.links["tok-1"] = &domain.TrackingLink{
		TrackingID:  "tok-1",
		CampaignID:  "cmp-1",
		RecipientID: "abc12345",
		Email:       "user@example.com",
		Kind:        domain.LinkUnsubscribe,
		Destination: domain.UnsubscribeDestination,
	}

	rec := get(h, "/unsubscribe/tok-1", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "Unsubscribe Successful")

	require.Len(t, events.events, 1)
	assert.Equal(t, domain.EventUnsubscribe, events.events[0].Type)
	assert.Equal(t, "user@example.com", events.events[0].Email)
}

func TestUnsubscribeUnknownTokenStillConfirms(t *testing.T) {
	h, events, _ := newTestHandler()

	rec := get(h, "/unsubscribe/expired", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Unsubscribe Successful")
	assert.Empty(t, events.events)
}

func TestClickTokenOnUnsubscribeRouteNotConfused(t *testing.T) {
	h, events, links := newTestHandler()
	links.links["tid-1"] = &domain.TrackingLink{
		TrackingID:  "tid-1",
		Kind:        domain.LinkUnsubscribe,
		Destination: domain.UnsubscribeDestination,
	}

	// An unsubscribe token on the click route falls back instead of
	// redirecting to the "unsubscribe" sentinel.
	rec := get(h, "/track/click/tid-1", nil)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://example.com", rec.Header().Get("Location"))
	assert.Empty(t, events.events)
}

func TestEventsSummary(t *testing.T) {
	h, events, _ := newTestHandler()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		events.events = append(events.events, domain.Event{
			ID: "e-open", CampaignID: "cmp-1", Type: domain.EventOpen, CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}
	events.events = append(events.events,
		domain.Event{ID: "e-click", CampaignID: "cmp-1", Type: domain.EventClick, CreatedAt: base.Add(time.Hour)},
		domain.Event{ID: "other", CampaignID: "cmp-2", Type: domain.EventOpen, CreatedAt: base},
	)

	rec := get(h, "/events/cmp-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp struct {
		CampaignID  string         `json:"campaign_id"`
		TotalEvents int            `json:"total_events"`
		Summary     map[string]int `json:"event_summary"`
		Events      []domain.Event `json:"events"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	assert.Equal(t, "cmp-1", resp.CampaignID)
	assert.Equal(t, 4, resp.TotalEvents)
	assert.Equal(t, map[string]int{"open": 3, "click": 1}, resp.Summary)
	require.Len(t, resp.Events, 4)
	assert.Equal(t, "e-click", resp.Events[0].ID, "most recent first")
}

func TestEventsSummaryCapsRawEvents(t *testing.T) {
	h, events, _ := newTestHandler()
	for i := 0; i < 60; i++ {
		events.events = append(events.events, domain.Event{
			CampaignID: "cmp-1", Type: domain.EventOpen, CreatedAt: time.Now(),
		})
	}

	rec := get(h, "/events/cmp-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		TotalEvents int            `json:"total_events"`
		Events      []domain.Event `json:"events"`
		Note        string         `json:"note"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 60, resp.TotalEvents)
	assert.Len(t, resp.Events, eventsPageLimit)
	assert.NotEmpty(t, resp.Note)
}

func TestHealth(t *testing.T) {
	h, _, _ := newTestHandler()
	rec := get(h, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestRealIPPrefersForwardedFor(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	assert.Equal(t, "203.0.113.9", realIP(req))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Real-Ip", "203.0.113.7")
	assert.Equal(t, "203.0.113.7", realIP(req))
}
