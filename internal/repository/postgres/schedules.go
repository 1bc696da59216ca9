package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/ignite/outreach-sequencer/internal/domain"
	"github.com/ignite/outreach-sequencer/internal/service/schedule"
)

// SendingScheduleRepo implements schedule.ScheduleRepository.
type SendingScheduleRepo struct{ db *sql.DB }

// NewSendingScheduleRepo creates a Postgres-backed sending schedule repository.
func NewSendingScheduleRepo(db *sql.DB) *SendingScheduleRepo { return &SendingScheduleRepo{db: db} }

func (r *SendingScheduleRepo) ForMailbox(ctx context.Context, mailboxID string) (*domain.SendingSchedule, error) {
	s := &domain.SendingSchedule{}
	var days pq.Int64Array
	err := r.db.QueryRowContext(ctx, `
		SELECT id, sdr_id, mailbox_id, weekdays, start_hour, end_hour, timezone, created_at
		FROM sending_schedules
		WHERE mailbox_id = $1
	`, mailboxID).Scan(&s.ID, &s.SDRID, &s.MailboxID, &days, &s.StartHour, &s.EndHour, &s.Timezone, &s.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, schedule.ErrNoSchedule
	}
	if err != nil {
		return nil, fmt.Errorf("get sending schedule: %w", err)
	}
	s.Weekdays = make([]time.Weekday, len(days))
	for i, d := range days {
		s.Weekdays[i] = time.Weekday(d)
	}
	return s, nil
}

// Create inserts s; a concurrent creation for the same mailbox wins and is
// returned instead.
func (r *SendingScheduleRepo) Create(ctx context.Context, s *domain.SendingSchedule) (*domain.SendingSchedule, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	days := make(pq.Int64Array, len(s.Weekdays))
	for i, d := range s.Weekdays {
		days[i] = int64(d)
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sending_schedules (id, sdr_id, mailbox_id, weekdays, start_hour, end_hour, timezone, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (mailbox_id) DO NOTHING
	`, s.ID, s.SDRID, s.MailboxID, days, s.StartHour, s.EndHour, s.Timezone)
	if err != nil {
		return nil, fmt.Errorf("create sending schedule: %w", err)
	}
	return r.ForMailbox(ctx, s.MailboxID)
}
