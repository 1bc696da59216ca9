package contentgen

import (
	"fmt"
	"strings"
	"sync"

	"github.com/osteele/liquid"

	"github.com/ignite/outreach-sequencer/internal/service/generation"
)

// Prompter renders template instructions with Liquid, caching parsed
// templates by template id.
type Prompter struct {
	engine *liquid.Engine
	cache  sync.Map // template id -> *liquid.Template
}

// NewPrompter creates a prompter with the default filters.
func NewPrompter() *Prompter {
	engine := liquid.NewEngine()
	// {{ prospect.first_name | default: "there" }}
	engine.RegisterFilter("default", func(value interface{}, fallback string) interface{} {
		if value == nil {
			return fallback
		}
		if s, ok := value.(string); ok && strings.TrimSpace(s) == "" {
			return fallback
		}
		return value
	})
	return &Prompter{engine: engine}
}

// Bindings returns the Liquid variables available to instructions.
func Bindings(req generation.Request) map[string]interface{} {
	b := map[string]interface{}{
		"step_index":       req.StepIndex,
		"is_follow_up":     req.StepIndex > 0,
		"previous_subject": req.PreviousSubject,
	}
	if p := req.Prospect; p != nil {
		b["prospect"] = map[string]interface{}{
			"first_name": p.FirstName,
			"last_name":  p.LastName,
			"title":      p.Title,
			"company":    p.Company,
			"industry":   p.Industry,
		}
	}
	if t := req.Thread; t != nil {
		b["thread"] = map[string]interface{}{
			"status":     string(t.Status),
			"sent_count": t.SentCount,
			"bump_count": t.BumpCount,
		}
	}
	if tpl := req.Template; tpl != nil {
		b["template"] = map[string]interface{}{
			"title":      tpl.Title,
			"trigger":    string(tpl.Trigger),
			"bump_count": tpl.BumpCount,
		}
	}
	return b
}

// Render returns the instructions of req.Template rendered for req.
func (p *Prompter) Render(req generation.Request) (string, error) {
	if req.Template == nil {
		return "", fmt.Errorf("render instructions: no template")
	}
	key := req.Template.ID
	var tpl *liquid.Template
	if cached, ok := p.cache.Load(key); ok && key != "" {
		tpl = cached.(*liquid.Template)
	} else {
		parsed, err := p.engine.ParseString(req.Template.Instructions)
		if err != nil {
			return "", fmt.Errorf("parse instructions of template %s: %w", key, err)
		}
		tpl = parsed
		if key != "" {
			p.cache.Store(key, tpl)
		}
	}
	out, err := tpl.RenderString(Bindings(req))
	if err != nil {
		return "", fmt.Errorf("render instructions of template %s: %w", key, err)
	}
	return strings.TrimSpace(out), nil
}

// Forget drops a cached template after its instructions change.
func (p *Prompter) Forget(templateID string) { p.cache.Delete(templateID) }
