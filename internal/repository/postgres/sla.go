package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// VolumeRepo implements schedule.VolumeProvider over the SLA schedule table.
type VolumeRepo struct{ db *sql.DB }

// NewVolumeRepo creates a Postgres-backed SLA volume provider.
func NewVolumeRepo(db *sql.DB) *VolumeRepo { return &VolumeRepo{db: db} }

// VolumeFor returns the weekly email volume of the SLA window covering date,
// or 0 when none does.
func (r *VolumeRepo) VolumeFor(ctx context.Context, sdrID string, date time.Time) (int, error) {
	var volume int
	err := r.db.QueryRowContext(ctx, `
		SELECT email_volume FROM sla_schedules
		WHERE sdr_id = $1 AND start_date <= $2::date AND end_date >= $2::date
		ORDER BY start_date DESC
		LIMIT 1
	`, sdrID, date.UTC().Format("2006-01-02")).Scan(&volume)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("volume for sdr: %w", err)
	}
	return volume, nil
}
