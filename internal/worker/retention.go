package worker

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"time"
)

// Retention policies:
//   - SUCCEEDED webhook records: configurable, 30 days by default. The raw
//     payload stays in the S3 archive when archiving is enabled.
//   - Generated content no entry references: 7 days.
//
// Deletes run in batches so a large backlog never holds a long transaction.

const (
	// DefaultRetentionInterval is how often the retention cycle runs.
	DefaultRetentionInterval = time.Hour

	// DefaultWebhookRetention is how long SUCCEEDED records are kept.
	DefaultWebhookRetention = 30 * 24 * time.Hour

	orphanContentAge   = 7 * 24 * time.Hour
	retentionBatchSize = 5000
)

// RetentionWorker periodically removes rows nothing will read again.
type RetentionWorker struct {
	db               *sql.DB
	interval         time.Duration
	webhookRetention time.Duration
	pause            time.Duration
}

// NewRetentionWorker creates a retention worker. A zero webhookRetention
// uses DefaultWebhookRetention.
func NewRetentionWorker(db *sql.DB, webhookRetention time.Duration) *RetentionWorker {
	if webhookRetention <= 0 {
		webhookRetention = DefaultWebhookRetention
	}
	return &RetentionWorker{
		db:               db,
		interval:         DefaultRetentionInterval,
		webhookRetention: webhookRetention,
		pause:            100 * time.Millisecond,
	}
}

// Start runs a cycle immediately and then every interval until ctx is
// cancelled.
func (rw *RetentionWorker) Start(ctx context.Context) {
	log.Printf("[Retention] Starting (interval=%s, webhook_retention=%s, batch_size=%d)",
		rw.interval, rw.webhookRetention, retentionBatchSize)

	rw.RunOnce(ctx)

	ticker := time.NewTicker(rw.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Println("[Retention] Stopping")
			return
		case <-ticker.C:
			rw.RunOnce(ctx)
		}
	}
}

// RunOnce runs every policy and returns the total rows removed.
func (rw *RetentionWorker) RunOnce(ctx context.Context) int64 {
	start := time.Now()

	webhooks := rw.batchDelete(ctx, "webhook_records", `
		DELETE FROM webhook_records
		WHERE id IN (
			SELECT id FROM webhook_records
			WHERE status = 'SUCCEEDED' AND updated_at < $2
			LIMIT $1
		)`, start.Add(-rw.webhookRetention))
	if webhooks > 0 {
		log.Printf("[Retention] Removed %d succeeded webhook records", webhooks)
	}

	content := rw.batchDelete(ctx, "generated_content", `
		DELETE FROM generated_content
		WHERE id IN (
			SELECT c.id FROM generated_content c
			WHERE c.created_at < $2
			  AND NOT EXISTS (
				SELECT 1 FROM schedule_entries e
				WHERE e.subject_content_id = c.id OR e.body_content_id = c.id
			  )
			LIMIT $1
		)`, start.Add(-orphanContentAge))
	if content > 0 {
		log.Printf("[Retention] Removed %d orphaned generated content rows", content)
	}

	log.Printf("[Retention] Cycle completed in %s", time.Since(start).Round(time.Millisecond))
	return webhooks + content
}

// batchDelete repeats query with (batch size, cutoff) until a batch affects
// no rows. A missing table is logged once and skipped.
func (rw *RetentionWorker) batchDelete(ctx context.Context, table, query string, cutoff time.Time) int64 {
	var total int64
	for {
		if ctx.Err() != nil {
			return total
		}

		queryCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
		res, err := rw.db.ExecContext(queryCtx, query, retentionBatchSize, cutoff)
		cancel()
		if err != nil {
			if isTableNotExistsError(err) {
				log.Printf("[Retention] Table %s does not exist, skipping", table)
				return total
			}
			log.Printf("[Retention] Error deleting from %s: %v", table, fmt.Errorf("batch delete: %w", err))
			return total
		}

		affected, _ := res.RowsAffected()
		if affected == 0 {
			return total
		}
		total += affected
		if affected < retentionBatchSize {
			return total
		}
		time.Sleep(rw.pause)
	}
}

func isTableNotExistsError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "relation") && strings.Contains(msg, "does not exist")
}
