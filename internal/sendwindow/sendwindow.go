// Package sendwindow computes when an outbound email may go out, given a
// mailbox's sending schedule. The window calculations read no clock and do
// no I/O. Jitter is the only source of randomness, and only through the
// *rand.Rand its caller passes in.
package sendwindow

import (
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/ignite/outreach-sequencer/internal/domain"
)

// ErrConfiguration is returned when the mailbox has no usable sending
// schedule. Callers must create a default schedule first.
var ErrConfiguration = errors.New("sending schedule missing or invalid")

const (
	// DefaultCadence is the gap between consecutive sends of a mailbox when
	// no volume target is available.
	DefaultCadence = 60 * time.Minute

	// MaxJitter bounds the random offset callers may add to a computed time.
	MaxJitter = 15 * time.Minute
)

// NextSendTime returns the next valid send timestamp (UTC) for a mailbox.
//
// Without a prior entry the result is tomorrow at the window start, never
// today. With one, after is advanced by the volume-derived cadence. The
// candidate is then clamped into the daily window and moved forward to an
// allowed weekday.
func NextSendTime(s *domain.SendingSchedule, volume int, after time.Time, hasPrior bool) (time.Time, error) {
	loc, err := location(s)
	if err != nil {
		return time.Time{}, err
	}

	local := after.In(loc)
	var candidate time.Time
	if !hasPrior {
		y, m, d := local.Date()
		candidate = time.Date(y, m, d+1, s.StartHour, 0, 0, 0, loc)
	} else {
		candidate = local.Add(Cadence(volume, s))
	}
	return clamp(s, candidate, loc).UTC(), nil
}

// Cadence spreads the weekly volume evenly over the schedule's weekly
// capacity (allowed weekdays x daily window hours).
func Cadence(volume int, s *domain.SendingSchedule) time.Duration {
	if s == nil || volume <= 0 {
		return DefaultCadence
	}
	capacity := time.Duration(len(s.Weekdays)*(s.EndHour-s.StartHour)) * time.Hour
	if capacity <= 0 {
		return DefaultCadence
	}
	return capacity / time.Duration(volume)
}

// Clamp moves t forward into the sending window. Times already inside the
// window on an allowed weekday are returned unchanged (in UTC).
func Clamp(s *domain.SendingSchedule, t time.Time) (time.Time, error) {
	loc, err := location(s)
	if err != nil {
		return time.Time{}, err
	}
	return clamp(s, t, loc).UTC(), nil
}

// FollowUpTime is the scheduled time of the step that follows prev after
// delayDays calendar days (in mailbox-local time), clamped to the window.
func FollowUpTime(s *domain.SendingSchedule, prev time.Time, delayDays int) (time.Time, error) {
	loc, err := location(s)
	if err != nil {
		return time.Time{}, err
	}
	if delayDays <= 0 {
		delayDays = domain.DefaultDelayDays
	}
	return clamp(s, prev.In(loc).AddDate(0, 0, delayDays), loc).UTC(), nil
}

// InWindow reports whether t falls inside [start, end) on an allowed weekday.
func InWindow(s *domain.SendingSchedule, t time.Time) bool {
	loc, err := location(s)
	if err != nil {
		return false
	}
	local := t.In(loc)
	if !s.Allows(local.Weekday()) {
		return false
	}
	start, end := bounds(s, local, loc)
	return !local.Before(start) && local.Before(end)
}

// Jitter offsets t by a uniform amount in [-MaxJitter, +MaxJitter]. A nil
// rng disables jitter. Callers re-clamp the result.
func Jitter(rng *rand.Rand, t time.Time) time.Time {
	if rng == nil {
		return t
	}
	offset := time.Duration(rng.Int63n(int64(2*MaxJitter)+1)) - MaxJitter
	return t.Add(offset)
}

func location(s *domain.SendingSchedule) (*time.Location, error) {
	if s == nil {
		return nil, ErrConfiguration
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	return loc, nil
}

func bounds(s *domain.SendingSchedule, local time.Time, loc *time.Location) (time.Time, time.Time) {
	y, m, d := local.Date()
	return time.Date(y, m, d, s.StartHour, 0, 0, 0, loc), time.Date(y, m, d, s.EndHour, 0, 0, 0, loc)
}

func clamp(s *domain.SendingSchedule, t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	start, end := bounds(s, t, loc)
	switch {
	case t.Before(start):
		t = start
	case !t.Before(end):
		y, m, d := t.Date()
		t = time.Date(y, m, d+1, s.StartHour, 0, 0, 0, loc)
	}

	// Validate guarantees at least one allowed weekday, so a week is enough.
	for i := 0; i < 7 && !s.Allows(t.Weekday()); i++ {
		y, m, d := t.Date()
		t = time.Date(y, m, d+1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), loc)
	}
	return t
}
