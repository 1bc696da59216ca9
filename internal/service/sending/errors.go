package sending

import "errors"

// Sentinel errors for the send executor.
var (
	ErrOrderingViolation = errors.New("earlier step in thread not sent")
	ErrTransportFailure  = errors.New("transport send failed")
	ErrNotScheduled      = errors.New("schedule entry not ready to send")
	ErrThreadClosed      = errors.New("thread no longer accepts outbound steps")
	ErrNoTransport       = errors.New("no transport for mailbox provider")
	ErrSuppressed        = errors.New("recipient is suppressed")
)
