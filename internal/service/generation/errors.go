package generation

import "errors"

// Sentinel errors for the generation service layer.
var (
	ErrGenerationFailure = errors.New("content generation failed")
	ErrNotEligible       = errors.New("thread no longer eligible for outbound steps")
	ErrContentNotFound   = errors.New("generated content not found")
)
