package suppression

import "errors"

// Sentinel errors for the suppression service layer.
var (
	ErrNotFound      = errors.New("suppression entry not found")
	ErrInvalidEmail  = errors.New("invalid email address")
	ErrInvalidReason = errors.New("invalid suppression reason")
)
