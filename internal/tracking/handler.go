// Package tracking serves the public engagement surface: open pixels,
// click redirects, unsubscribe pages and the per-campaign events API.
// Tracking routes degrade, they do not fail: an unknown or expired
// token still gets a pixel, a redirect or a confirmation page.
package tracking

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"

	"github.com/sentinel-hq/sentinel/internal/domain"
	"github.com/sentinel-hq/sentinel/internal/pkg/logger"
	"github.com/sentinel-hq/sentinel/internal/store"
)

// eventsPageLimit caps the raw events returned by the summary API.
const eventsPageLimit = 50

type Handler struct {
	events      store.EventStore
	links       store.LinkStore
	assets      *AssetServer
	fallbackURL string
	log         *logger.Logger
	newID       func() string
	now         func() time.Time
}

func NewHandler(events store.EventStore, links store.LinkStore, assets *AssetServer, fallbackURL string) *Handler {
	return &Handler{
		events:      events,
		links:       links,
		assets:      assets,
		fallbackURL: fallbackURL,
		log:         logger.Component("tracking"),
		newID:       func() string { return uuid.NewString() },
		now:         time.Now,
	}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	}))

	r.Get("/track/open/{campaignID}/{recipientFile}", h.HandleOpen)
	r.Get("/track/click/{trackingID}", h.HandleClick)
	r.Get("/unsubscribe/{token}", h.HandleUnsubscribe)
	r.Get("/events/{campaignID}", h.HandleEvents)
	r.Get("/health", h.HandleHealth)
	return r
}

func (h *Handler) HandleOpen(w http.ResponseWriter, r *http.Request) {
	campaignID := chi.URLParam(r, "campaignID")
	recipientID := strings.SplitN(chi.URLParam(r, "recipientFile"), ".", 2)[0]

	if campaignID != "" && recipientID != "" {
		email := r.URL.Query().Get("email")
		if email == "" {
			email = "unknown"
		}
		h.record(r, &domain.Event{
			CampaignID:  campaignID,
			RecipientID: recipientID,
			Email:       email,
			Type:        domain.EventOpen,
		})
	}

	if img := h.assets.Image(r.Context()); img != nil {
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Write(img)
		return
	}
	h.servePixel(w)
}

func (h *Handler) HandleClick(w http.ResponseWriter, r *http.Request) {
	trackingID := chi.URLParam(r, "trackingID")

	link, err := h.links.Get(r.Context(), trackingID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			h.log.Error("link lookup failed", "tracking_id", trackingID, "error", err.Error())
		}
		h.redirectFallback(w, r)
		return
	}
	if link.Kind != domain.LinkCTAClick {
		h.redirectFallback(w, r)
		return
	}

	meta := map[string]string{
		"link_id":      link.LinkID,
		"original_url": link.Destination,
		"tracking_id":  trackingID,
	}
	h.record(r, &domain.Event{
		CampaignID:  link.CampaignID,
		RecipientID: link.RecipientID,
		Email:       link.Email,
		VariantID:   link.VariantID,
		Type:        domain.EventClick,
		Metadata:    meta,
	})
	// A click proves the message was opened even when the pixel was
	// blocked, so a first click without a recorded open implies one.
	if !h.hasOpen(r.Context(), link.CampaignID, link.RecipientID) {
		h.record(r, &domain.Event{
			CampaignID:  link.CampaignID,
			RecipientID: link.RecipientID,
			Email:       link.Email,
			VariantID:   link.VariantID,
			Type:        domain.EventOpen,
			Metadata:    map[string]string{"inferred_from": "click"},
		})
	}

	w.Header().Set("Cache-Control", "no-cache")
	http.Redirect(w, r, link.Destination, http.StatusFound)
}

func (h *Handler) HandleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")

	link, err := h.links.Get(r.Context(), token)
	if err == nil && link.Kind == domain.LinkUnsubscribe {
		h.record(r, &domain.Event{
			CampaignID:  link.CampaignID,
			RecipientID: link.RecipientID,
			Email:       link.Email,
			VariantID:   link.VariantID,
			Type:        domain.EventUnsubscribe,
			Metadata:    map[string]string{"token": token},
		})
	} else if err != nil && !errors.Is(err, store.ErrNotFound) {
		h.log.Error("unsubscribe lookup failed", "token", token, "error", err.Error())
	}

	// The page is served regardless: an expired token should not strand
	// someone on an error screen when they asked to stop getting mail.
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(unsubscribePage(h.fallbackURL)))
}

// eventsResponse is the JSON shape of the per-campaign summary API.
type eventsResponse struct {
	CampaignID  string         `json:"campaign_id"`
	TotalEvents int            `json:"total_events"`
	Summary     map[string]int `json:"event_summary"`
	Events      []domain.Event `json:"events"`
	Note        string         `json:"note,omitempty"`
}

func (h *Handler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	campaignID := chi.URLParam(r, "campaignID")

	events, err := h.events.ListByCampaign(r.Context(), campaignID)
	if err != nil {
		h.log.Error("listing events", "campaign_id", campaignID, "error", err.Error())
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	// Most recent first.
	sort.Slice(events, func(i, j int) bool {
		return events[i].CreatedAt.After(events[j].CreatedAt)
	})

	resp := eventsResponse{
		CampaignID:  campaignID,
		TotalEvents: len(events),
		Summary:     map[string]int{},
		Events:      events,
	}
	for _, e := range events {
		resp.Summary[string(e.Type)]++
	}
	if len(events) > eventsPageLimit {
		resp.Events = events[:eventsPageLimit]
		resp.Note = "showing first " + strconv.Itoa(eventsPageLimit) + " of " + strconv.Itoa(len(events)) + " total events"
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// record persists one engagement event with client attribution. Write
// failures are logged and swallowed; the public response never depends
// on the event store.
func (h *Handler) record(r *http.Request, e *domain.Event) {
	info := ParseUserAgent(r.UserAgent())
	meta := info.Metadata(r.UserAgent(), realIP(r))
	for k, v := range e.Metadata {
		meta[k] = v
	}

	e.ID = h.newID()
	e.CreatedAt = h.now().UTC()
	e.Metadata = meta

	// Detach from the request context so a dropped connection, normal
	// for pixel loads, does not cancel the write.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := h.events.Put(ctx, e); err != nil {
		h.log.Error("recording event",
			"campaign_id", e.CampaignID,
			"type", string(e.Type),
			"error", err.Error())
		return
	}
	h.log.Info("event recorded",
		"campaign_id", e.CampaignID,
		"recipient_id", e.RecipientID,
		"type", string(e.Type))
}

// hasOpen reports whether any open is already recorded for the
// recipient. A lookup failure counts as no open; recording one extra
// inferred open beats losing it.
func (h *Handler) hasOpen(ctx context.Context, campaignID, recipientID string) bool {
	events, err := h.events.ListByCampaign(ctx, campaignID)
	if err != nil {
		return false
	}
	for _, e := range events {
		if e.Type == domain.EventOpen && e.RecipientID == recipientID {
			return true
		}
	}
	return false
}

func (h *Handler) redirectFallback(w http.ResponseWriter, r *http.Request) {
	dest := r.URL.Query().Get("fallback")
	if dest == "" {
		dest = h.fallbackURL
	}
	http.Redirect(w, r, dest, http.StatusFound)
}

func (h *Handler) servePixel(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.Write(pixelPNG)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func unsubscribePage(homeURL string) string {
	return `<!DOCTYPE html>
<html>
<head>
    <title>Unsubscribed</title>
    <style>
        body { font-family: Arial, sans-serif; text-align: center; padding: 50px; }
        .container { max-width: 500px; margin: 0 auto; }
        .success { color: #28a745; }
    </style>
</head>
<body>
    <div class="container">
        <h1>Unsubscribe Successful</h1>
        <p class="success">You have been successfully unsubscribed from our mailing list.</p>
        <p>You will no longer receive emails from this campaign.</p>
        <p><a href="` + homeURL + `">Return home</a></p>
    </div>
</body>
</html>
`
}

func realIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx > 0 {
			return strings.TrimSpace(xff[:idx])
		}
		return xff
	}
	if xri := r.Header.Get("X-Real-Ip"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}
