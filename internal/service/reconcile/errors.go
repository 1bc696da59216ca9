package reconcile

import "errors"

// Sentinel errors for the webhook reconciler.
var (
	ErrNoMatchingThread = errors.New("no thread matches recipient and campaign")
	ErrRecordNotFound   = errors.New("webhook record not found")
	ErrUnknownKind      = errors.New("unknown webhook kind")
	ErrInvalidPayload   = errors.New("invalid webhook payload")
)
