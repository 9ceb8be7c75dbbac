package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/a2v-stg/api-mock-lab/internal/models"
)

func setupTestPostgres(t *testing.T) *PostgresStorage {
	t.Helper()

	url := os.Getenv("MOCKLAB_TEST_POSTGRES_URL")
	if url == "" {
		t.Skip("MOCKLAB_TEST_POSTGRES_URL not set")
	}

	ctx := context.Background()
	s, err := NewPostgres(ctx, url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.Migrate(ctx))
	_, err = s.pool.Exec(ctx, "TRUNCATE request_logs, mock_endpoints, entity_shares, entities, users")
	require.NoError(t, err)
	return s
}

func TestPostgres_EntityOverlapAndEndpoints(t *testing.T) {
	s := setupTestPostgres(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	e := testEntity("bank", now)
	require.NoError(t, s.CreateEntity(ctx, e))
	assert.ErrorIs(t, s.CreateEntity(ctx, testEntity("bank", now)), ErrConflict)

	ep := testEndpoint(e.ID, "GET", "/users/{id}", now)
	ep.ResponseScenarios = []models.ResponseScenario{{Name: "ok", ResponseCode: 200, ResponseBody: "{}"}}
	require.NoError(t, s.CreateEndpoint(ctx, ep))

	got, err := s.ListActiveEndpoints(ctx, e.ID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "ok", got[0].ResponseScenarios[0].Name)
}

func TestPostgres_RequestLogs(t *testing.T) {
	s := setupTestPostgres(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	e := testEntity("bank", now)
	require.NoError(t, s.CreateEntity(ctx, e))
	require.NoError(t, s.CreateRequestLog(ctx, &models.RequestLog{
		ID: models.NewID("log"), EntityID: e.ID, Method: "GET", Path: "/x",
		RequestHeaders: "{}", QueryParams: "{}", ResponseCode: 404, ResponseBody: "{}", Timestamp: now,
	}))

	logs, err := s.ListRequestLogs(ctx, e.ID, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Nil(t, logs[0].MockEndpointID)

	stats, err := s.GetStats(ctx, e.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.UnmatchedRequests)
}
