package delivery

import (
	"fmt"
	"strings"
	"sync"

	"github.com/osteele/liquid"

	"github.com/sentinel-hq/sentinel/internal/domain"
	"github.com/sentinel-hq/sentinel/internal/pkg/logger"
)

// Renderer expands Liquid merge fields in subjects and bodies. Rendering
// is lax: a template that fails to parse or render goes out as-is, a
// raw merge tag in an inbox beats a dropped send.
type Renderer struct {
	engine *liquid.Engine
	cache  sync.Map // map[string]*liquid.Template
	log    *logger.Logger
}

func NewRenderer() *Renderer {
	engine := liquid.NewEngine()

	// {{ first_name | default: "Friend" }}
	engine.RegisterFilter("default", func(value interface{}, defaultVal string) interface{} {
		if value == nil {
			return defaultVal
		}
		s := fmt.Sprintf("%v", value)
		if s == "" || s == "<nil>" {
			return defaultVal
		}
		return value
	})

	return &Renderer{engine: engine, log: logger.Component("renderer")}
}

// RenderJob expands the job's subject and body against its recipient
// bindings.
func (r *Renderer) RenderJob(job *domain.SendJob) (subject, html string) {
	bindings := map[string]interface{}{
		"email":        job.Email,
		"recipient_id": job.RecipientID,
		"campaign_id":  job.CampaignID,
		"first_name":   firstNameGuess(job.Email),
	}

	subject = r.render(job.CampaignID+":subject:"+job.VariantID, job.Content.Subject, bindings)
	html = r.render(job.CampaignID+":body:"+job.VariantID, job.Content.HTMLBody, bindings)
	return subject, html
}

func (r *Renderer) render(cacheKey, src string, bindings map[string]interface{}) string {
	var tpl *liquid.Template
	if cached, ok := r.cache.Load(cacheKey); ok {
		tpl = cached.(*liquid.Template)
	} else {
		parsed, err := r.engine.ParseString(src)
		if err != nil {
			r.log.Warn("template parse failed, sending raw", "error", err.Error())
			return src
		}
		r.cache.Store(cacheKey, parsed)
		tpl = parsed
	}

	out, err := tpl.RenderString(bindings)
	if err != nil {
		r.log.Warn("template render failed, sending raw", "error", err.Error())
		return src
	}
	return out
}

// firstNameGuess derives a display name from the local part of the
// address for templates that greet by name.
func firstNameGuess(email string) string {
	local, _, ok := strings.Cut(email, "@")
	if !ok || local == "" {
		return ""
	}
	if dot := strings.IndexAny(local, "._-+"); dot > 0 {
		local = local[:dot]
	}
	if local == "" {
		return ""
	}
	return strings.ToUpper(local[:1]) + local[1:]
}
