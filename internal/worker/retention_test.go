package worker

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRetention(t *testing.T) (*RetentionWorker, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	rw := NewRetentionWorker(db, 0)
	rw.pause = 0
	return rw, mock
}

func TestRetention_DeletesInBatches(t *testing.T) {
	rw, mock := newRetention(t)

	mock.ExpectExec("DELETE FROM webhook_records").
		WithArgs(retentionBatchSize, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, retentionBatchSize))
	mock.ExpectExec("DELETE FROM webhook_records").
		WithArgs(retentionBatchSize, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 12))
	mock.ExpectExec("DELETE FROM generated_content").
		WithArgs(retentionBatchSize, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.Equal(t, int64(retentionBatchSize+12), rw.RunOnce(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRetention_MissingTableIsSkipped(t *testing.T) {
	rw, mock := newRetention(t)

	mock.ExpectExec("DELETE FROM webhook_records").
		WillReturnError(errors.New(`pq: relation "webhook_records" does not exist`))
	mock.ExpectExec("DELETE FROM generated_content").
		WillReturnResult(sqlmock.NewResult(0, 3))

	assert.Equal(t, int64(3), rw.RunOnce(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRetention_DefaultWindow(t *testing.T) {
	rw := NewRetentionWorker(nil, 0)
	assert.Equal(t, DefaultWebhookRetention, rw.webhookRetention)
}
