package contentgen

import (
	"context"
	"fmt"

	"github.com/ignite/outreach-sequencer/internal/pkg/logger"
	"github.com/ignite/outreach-sequencer/internal/service/generation"
)

// Fallback tries each generator in order and returns the first success.
type Fallback []generation.Generator

// Generate implements generation.Generator.
func (f Fallback) Generate(ctx context.Context, req generation.Request) (*generation.Content, error) {
	var lastErr error
	for i, g := range f {
		c, err := g.Generate(ctx, req)
		if err == nil {
			return c, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		if i < len(f)-1 {
			logger.Warn("generator failed, trying fallback", "template_id", templateID(req), "error", err)
		}
	}
	if lastErr == nil {
		return nil, fmt.Errorf("no generator configured")
	}
	return nil, lastErr
}

func templateID(req generation.Request) string {
	if req.Template == nil {
		return ""
	}
	return req.Template.ID
}
