package schedule

import "errors"

// Sentinel errors for the schedule service layer.
var (
	ErrNotFound       = errors.New("schedule entry not found")
	ErrPastDate       = errors.New("cannot schedule in the past")
	ErrOrdering       = errors.New("new time precedes an earlier unsent step")
	ErrAlreadySent    = errors.New("schedule entry already sent")
	ErrEntryFailed    = errors.New("schedule entry has failed")
	ErrHasSentEntries = errors.New("thread has sent entries")
	ErrConflict       = errors.New("schedule entry changed concurrently")
	ErrNoSchedule     = errors.New("mailbox has no sending schedule")
	ErrThreadNotFound = errors.New("thread not found")
)
