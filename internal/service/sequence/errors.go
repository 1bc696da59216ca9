package sequence

import "errors"

// Sentinel errors for template resolution.
var (
	ErrNoTemplate       = errors.New("no eligible template")
	ErrTemplateNotFound = errors.New("template not found")
	ErrWrongTrigger     = errors.New("template trigger does not match step")
)
