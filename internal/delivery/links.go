package delivery

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sentinel-hq/sentinel/internal/domain"
	"github.com/sentinel-hq/sentinel/internal/pkg/logger"
	"github.com/sentinel-hq/sentinel/internal/store"
)

// hrefRegex matches absolute http(s) links in rendered HTML. Anchors,
// mailto: and javascript: hrefs never match.
var hrefRegex = regexp.MustCompile(`href=["'](https?://[^"']+)["']`)

// Instrumenter rewrites rendered HTML for engagement tracking: CTA
// links become redirect tokens, an open pixel is injected and an
// unsubscribe footer plus headers are added.
type Instrumenter struct {
	links   store.LinkStore
	baseURL string
	linkTTL time.Duration
	log     *logger.Logger
	newID   func() string
	now     func() time.Time

	// SkipLink reports whether a destination must be left unrewritten.
	// Replaceable per deployment; defaults to DefaultSkipLink.
	SkipLink func(dest string) bool
}

func NewInstrumenter(links store.LinkStore, baseURL string, linkTTL time.Duration) *Instrumenter {
	return &Instrumenter{
		links:    links,
		baseURL:  strings.TrimRight(baseURL, "/"),
		linkTTL:  linkTTL,
		log:      logger.Component("instrumenter"),
		newID:    func() string { return uuid.NewString() },
		now:      time.Now,
		SkipLink: DefaultSkipLink,
	}
}

// InstrumentedMessage is the tracking-ready form of one rendered email.
type InstrumentedMessage struct {
	HTML    string
	Text    string
	Headers map[string]string
}

// Instrument produces the tracked form of html for one recipient. Link
// minting is best effort: if a tracking record cannot be written the
// original URL stays in place rather than sending a dead redirect.
func (in *Instrumenter) Instrument(ctx context.Context, job domain.SendJob, html string) InstrumentedMessage {
	linkNum := 0
	html = hrefRegex.ReplaceAllStringFunc(html, func(match string) string {
		dest := hrefRegex.FindStringSubmatch(match)[1]
		if in.SkipLink(dest) {
			return match
		}

		linkNum++
		l := in.mintLink(job, domain.LinkCTAClick, fmt.Sprintf("cta_%d", linkNum), dest)
		if err := in.links.Put(ctx, l); err != nil {
			in.log.Warn("link mint failed, keeping original url",
				"campaign_id", job.CampaignID, "error", err.Error())
			return match
		}
		return fmt.Sprintf(`href="%s/track/click/%s"`, in.baseURL, l.TrackingID)
	})

	pixel := fmt.Sprintf(`<img src="%s/track/open/%s/%s.png" width="1" height="1" style="display:none;" alt=""/>`,
		in.baseURL, job.CampaignID, job.RecipientID)

	unsub := in.mintLink(job, domain.LinkUnsubscribe, "unsubscribe", domain.UnsubscribeDestination)
	headers := map[string]string{}
	var unsubURL string
	if err := in.links.Put(ctx, unsub); err != nil {
		in.log.Warn("unsubscribe link mint failed",
			"campaign_id", job.CampaignID, "error", err.Error())
	} else {
		unsubURL = fmt.Sprintf("%s/unsubscribe/%s", in.baseURL, unsub.TrackingID)
		headers["List-Unsubscribe"] = fmt.Sprintf("<%s>", unsubURL)
		headers["List-Unsubscribe-Post"] = "List-Unsubscribe=One-Click"
	}

	footer := pixel
	if unsubURL != "" {
		footer += fmt.Sprintf(
			`<p style="font-size:12px;color:#888;text-align:center;">`+
				`<a href="%s" style="color:#888;">Unsubscribe</a></p>`, unsubURL)
	}
	html = injectBeforeBodyClose(html, footer)

	var text string
	if unsubURL != "" {
		text = "Unsubscribe: " + unsubURL
	}

	return InstrumentedMessage{HTML: html, Text: text, Headers: headers}
}

func (in *Instrumenter) mintLink(job domain.SendJob, kind domain.LinkKind, linkID, dest string) *domain.TrackingLink {
	now := in.now().UTC()
	return &domain.TrackingLink{
		TrackingID:  in.newID(),
		CampaignID:  job.CampaignID,
		RecipientID: job.RecipientID,
		Email:       job.Email,
		VariantID:   job.VariantID,
		Kind:        kind,
		LinkID:      linkID,
		Destination: dest,
		CreatedAt:   now,
		ExpiresAt:   now.Add(in.linkTTL),
	}
}

// boilerplateLink matches URLs that point at legal or list-management
// pages; rewriting those would skew CTA click metrics.
var boilerplateLink = regexp.MustCompile(`(?i)unsubscribe|privacy|/terms|preferences`)

// DefaultSkipLink filters destinations that must not be rewritten:
// already tracked URLs, unrendered placeholders and boilerplate pages.
func DefaultSkipLink(dest string) bool {
	if strings.Contains(dest, "/track/") {
		return true
	}
	if strings.Contains(dest, "{{") || strings.Contains(dest, "}}") {
		return true
	}
	return boilerplateLink.MatchString(dest)
}

func injectBeforeBodyClose(html, fragment string) string {
	idx := strings.LastIndex(strings.ToLower(html), "</body>")
	if idx < 0 {
		return html + fragment
	}
	return html[:idx] + fragment + html[idx:]
}
