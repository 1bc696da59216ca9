package domain

import (
	"fmt"
	"time"
)

// StepKind distinguishes the first touch of a thread from its follow-ups.
type StepKind string

const (
	StepInitial  StepKind = "INITIAL"
	StepFollowUp StepKind = "FOLLOW_UP"
)

// EntryStatus enumerates the send lifecycle of a single schedule entry.
type EntryStatus string

const (
	EntryNeedsGeneration EntryStatus = "NEEDS_GENERATION"
	EntryScheduled       EntryStatus = "SCHEDULED"
	EntrySent            EntryStatus = "SENT"
	EntryFailed          EntryStatus = "FAILED"
)

// ScheduleEntry is one scheduled send step for one prospect's email thread.
// StepIndex 0 is always the INITIAL step; follow-ups count up from 1.
type ScheduleEntry struct {
	ID                 string      `json:"id" db:"id"`
	SDRID              string      `json:"sdr_id" db:"sdr_id"`
	MailboxID          string      `json:"mailbox_id" db:"mailbox_id"`
	ThreadID           string      `json:"thread_id" db:"thread_id"`
	StepKind           StepKind    `json:"step_kind" db:"step_kind"`
	StepIndex          int         `json:"step_index" db:"step_index"`
	TemplateID         string      `json:"template_id" db:"template_id"`
	SubjectContentID   *string     `json:"subject_content_id" db:"subject_content_id"`
	BodyContentID      *string     `json:"body_content_id" db:"body_content_id"`
	Status             EntryStatus `json:"status" db:"status"`
	ScheduledAt        time.Time   `json:"scheduled_at" db:"scheduled_at"`
	TransportMessageID *string     `json:"transport_message_id" db:"transport_message_id"`
	TransportThreadID  *string     `json:"transport_thread_id" db:"transport_thread_id"`
	SentAt             *time.Time  `json:"sent_at" db:"sent_at"`
	Attempts           int         `json:"attempts" db:"attempts"`
	LastError          string      `json:"last_error,omitempty" db:"last_error"`
	CreatedAt          time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time   `json:"updated_at" db:"updated_at"`
}

// IsSent reports whether the entry has been handed to the transport.
func (e *ScheduleEntry) IsSent() bool { return e.Status == EntrySent }

// HasContent reports whether both subject and body have been generated.
func (e *ScheduleEntry) HasContent() bool {
	return e.SubjectContentID != nil && e.BodyContentID != nil
}

// IdempotencyKey is the logical identity of a step: at most one entry may
// exist per (thread, step kind, template).
func (e *ScheduleEntry) IdempotencyKey() string {
	return fmt.Sprintf("%s:%s:%s", e.ThreadID, e.StepKind, e.TemplateID)
}

// GeneratedContent is a single generated subject line or body.
type GeneratedContent struct {
	ID        string      `json:"id" db:"id"`
	ThreadID  string      `json:"thread_id" db:"thread_id"`
	Kind      ContentKind `json:"kind" db:"kind"`
	Text      string      `json:"text" db:"text"`
	CreatedAt time.Time   `json:"created_at" db:"created_at"`
}

// ContentKind is subject or body.
type ContentKind string

const (
	ContentSubject ContentKind = "subject"
	ContentBody    ContentKind = "body"
)

// SendingSchedule is the per-mailbox sending window.
type SendingSchedule struct {
	ID        string         `json:"id" db:"id"`
	SDRID     string         `json:"sdr_id" db:"sdr_id"`
	MailboxID string         `json:"mailbox_id" db:"mailbox_id"`
	Weekdays  []time.Weekday `json:"weekdays" db:"weekdays"`
	StartHour int            `json:"start_hour" db:"start_hour"`
	EndHour   int            `json:"end_hour" db:"end_hour"`
	Timezone  string         `json:"timezone" db:"timezone"`
	CreatedAt time.Time      `json:"created_at" db:"created_at"`
}

// Validate checks the schedule invariants: at least one allowed weekday,
// 0 <= start < end <= 24, and a loadable timezone.
func (s *SendingSchedule) Validate() error {
	if len(s.Weekdays) == 0 {
		return fmt.Errorf("sending schedule %s has no allowed weekdays", s.ID)
	}
	for _, d := range s.Weekdays {
		if d < time.Sunday || d > time.Saturday {
			return fmt.Errorf("sending schedule %s has invalid weekday %d", s.ID, d)
		}
	}
	if s.StartHour < 0 || s.EndHour > 24 || s.StartHour >= s.EndHour {
		return fmt.Errorf("sending schedule %s has invalid hours %d-%d", s.ID, s.StartHour, s.EndHour)
	}
	if _, err := time.LoadLocation(s.Timezone); err != nil {
		return fmt.Errorf("sending schedule %s has invalid timezone %q: %w", s.ID, s.Timezone, err)
	}
	return nil
}

// Allows reports whether d is one of the schedule's sending days.
func (s *SendingSchedule) Allows(d time.Weekday) bool {
	for _, w := range s.Weekdays {
		if w == d {
			return true
		}
	}
	return false
}

// VolumeWindow is an SLA row: the weekly target volume for an SDR over a
// date range. Read-only from the scheduler's point of view.
type VolumeWindow struct {
	SDRID       string    `json:"sdr_id" db:"sdr_id"`
	StartDate   time.Time `json:"start_date" db:"start_date"`
	EndDate     time.Time `json:"end_date" db:"end_date"`
	EmailVolume int       `json:"email_volume" db:"email_volume"`
}

// RescheduleAudit records a manual move of a schedule entry.
type RescheduleAudit struct {
	ID        string    `json:"id" db:"id"`
	EntryID   string    `json:"entry_id" db:"entry_id"`
	OldTime   time.Time `json:"old_time" db:"old_time"`
	NewTime   time.Time `json:"new_time" db:"new_time"`
	Shifted   int       `json:"shifted" db:"shifted"`
	Actor     string    `json:"actor" db:"actor"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
