package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/outreach-sequencer/internal/queue"
)

type stubStats struct {
	stats queue.Stats
	err   error
}

func (s stubStats) Stats(context.Context) (queue.Stats, error) { return s.stats, s.err }

func newHealthDeps(t *testing.T) (sqlmock.Sqlmock, *HealthChecker, *miniredis.Miniredis) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	return mock, NewHealthChecker(db, rdb, queue.New(rdb, "health")), mr
}

func getHealth(t *testing.T, hc *HealthChecker, path string, h http.HandlerFunc) (int, map[string]interface{}) {
	t.Helper()
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, path, nil))
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec.Code, body
}

func TestHealth_AllUp(t *testing.T) {
	mock, hc, _ := newHealthDeps(t)
	mock.ExpectPing()

	code, body := getHealth(t, hc, "/health", hc.HandleHealth)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", body["status"])
	checks := body["checks"].(map[string]interface{})
	assert.Contains(t, checks, "database")
	assert.Contains(t, checks, "redis")
	assert.Contains(t, checks, "queue")
}

func TestReadiness_DatabaseDown(t *testing.T) {
	mock, hc, _ := newHealthDeps(t)
	mock.ExpectPing().WillReturnError(errors.New("connection refused"))

	code, body := getHealth(t, hc, "/health/ready", hc.HandleReadiness)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, false, body["ready"])
	assert.Equal(t, "unhealthy", body["status"])
}

func TestReadiness_RedisDown(t *testing.T) {
	mock, hc, mr := newHealthDeps(t)
	mock.ExpectPing()
	mr.Close()

	code, body := getHealth(t, hc, "/health/ready", hc.HandleReadiness)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "unhealthy", body["status"])
}

func TestHealth_DeadLetterBacklogDegrades(t *testing.T) {
	mock, hc, _ := newHealthDeps(t)
	mock.ExpectPing()
	hc.queue = stubStats{stats: queue.Stats{Dead: 500}}

	_, body := getHealth(t, hc, "/health", hc.HandleHealth)
	assert.Equal(t, "degraded", body["status"])
}

func TestReadiness_WithoutRedis(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	mock.ExpectPing()

	hc := NewHealthChecker(db, nil, nil)
	code, body := getHealth(t, hc, "/health/ready", hc.HandleReadiness)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", body["status"])
}

func TestLiveness(t *testing.T) {
	hc := NewHealthChecker(nil, nil, nil)
	code, body := getHealth(t, hc, "/health/live", hc.HandleLiveness)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "alive", body["status"])
}

func TestDetermineOverallStatus(t *testing.T) {
	tests := []struct {
		name   string
		checks map[string]ComponentCheck
		want   string
	}{
		{"healthy", map[string]ComponentCheck{"database": {Status: "up"}, "redis": {Status: "up"}}, "healthy"},
		{"db down", map[string]ComponentCheck{"database": {Status: "down"}, "redis": {Status: "up"}}, "unhealthy"},
		{"queue down", map[string]ComponentCheck{"database": {Status: "up"}, "redis": {Status: "up"}, "queue": {Status: "down"}}, "degraded"},
		{"inline mode", map[string]ComponentCheck{"database": {Status: "up"}, "redis": {Status: "disabled"}, "queue": {Status: "disabled"}}, "healthy"},
		{"slow redis", map[string]ComponentCheck{"database": {Status: "up"}, "redis": {Status: "degraded"}}, "degraded"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, determineOverallStatus(tt.checks))
		})
	}
}
