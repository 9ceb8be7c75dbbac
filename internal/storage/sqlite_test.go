package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/a2v-stg/api-mock-lab/internal/models"
)

func newTestSQLite(t *testing.T) *SQLiteStorage {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "mocklab.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testEntity(name string, createdAt time.Time) *models.Entity {
	return &models.Entity{
		ID:        models.NewID("ent"),
		Name:      name,
		APIKey:    models.NewAPIKey(),
		BasePath:  models.BasePathFor("/api", name),
		CreatedAt: createdAt,
	}
}

func testEndpoint(entityID, method, path string, createdAt time.Time) *models.MockEndpoint {
	return &models.MockEndpoint{
		ID:           models.NewID("ep"),
		EntityID:     entityID,
		Method:       method,
		Path:         path,
		IsActive:     true,
		ResponseBody: `{"ok":true}`,
		ResponseCode: 200,
		CreatedAt:    createdAt,
		UpdatedAt:    createdAt,
	}
}

func TestSQLite_EntityLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)
	now := time.Now().UTC()

	bank := testEntity("Bank", now)
	require.NoError(t, s.CreateEntity(ctx, bank))

	got, err := s.GetEntity(ctx, bank.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "/api/bank", got.BasePath)
	assert.Empty(t, got.SharedWith)

	missing, err := s.GetEntity(ctx, "ent_missing")
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, s.DeleteEntity(ctx, bank.ID))
	got, err = s.GetEntity(ctx, bank.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSQLite_CreateEntityRejectsOverlap(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)
	now := time.Now().UTC()

	require.NoError(t, s.CreateEntity(ctx, testEntity("bank", now)))

	err := s.CreateEntity(ctx, testEntity("bank", now))
	assert.ErrorIs(t, err, ErrConflict)

	nested := testEntity("nested", now)
	nested.BasePath = "/api/bank/v2"
	assert.ErrorIs(t, s.CreateEntity(ctx, nested), ErrConflict)

	// Base paths are matched textually, so a shared string prefix is an overlap too.
	assert.ErrorIs(t, s.CreateEntity(ctx, testEntity("bankx", now)), ErrConflict)
	require.NoError(t, s.CreateEntity(ctx, testEntity("shop", now)))
}

func TestSQLite_ListEntitiesInCreationOrder(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	second := testEntity("second", base.Add(time.Minute))
	first := testEntity("first", base)
	require.NoError(t, s.CreateEntity(ctx, second))
	require.NoError(t, s.CreateEntity(ctx, first))

	entities, err := s.ListEntities(ctx)
	require.NoError(t, err)
	require.Len(t, entities, 2)
	assert.Equal(t, first.ID, entities[0].ID)
	assert.Equal(t, second.ID, entities[1].ID)
}

func TestSQLite_ShareEntity(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)
	now := time.Now().UTC()

	user := &models.User{ID: models.NewID("usr"), Email: "a@example.com", Username: "alice", PasswordHash: "x", CreatedAt: now}
	require.NoError(t, s.CreateUser(ctx, user))

	e := testEntity("shop", now)
	require.NoError(t, s.CreateEntity(ctx, e))
	require.NoError(t, s.ShareEntity(ctx, e.ID, user.ID))
	require.NoError(t, s.ShareEntity(ctx, e.ID, user.ID))

	got, err := s.GetEntity(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{user.ID}, got.SharedWith)

	require.NoError(t, s.UnshareEntity(ctx, e.ID, user.ID))
	got, err = s.GetEntity(ctx, e.ID)
	require.NoError(t, err)
	assert.Empty(t, got.SharedWith)
}

func TestSQLite_UserLookup(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)

	u := &models.User{ID: models.NewID("usr"), Email: "b@example.com", Username: "bob", PasswordHash: "hash", IsAdmin: true, CreatedAt: time.Now().UTC()}
	require.NoError(t, s.CreateUser(ctx, u))
	assert.ErrorIs(t, s.CreateUser(ctx, &models.User{ID: models.NewID("usr"), Email: "c@example.com", Username: "bob", PasswordHash: "h", CreatedAt: time.Now().UTC()}), ErrConflict)

	got, err := s.GetUserByUsername(ctx, "bob")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, u.ID, got.ID)
	assert.True(t, got.IsAdmin)

	none, err := s.GetUser(ctx, "usr_none")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestSQLite_EndpointRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)
	now := time.Now().UTC()

	e := testEntity("bank", now)
	require.NoError(t, s.CreateEntity(ctx, e))

	ep := testEndpoint(e.ID, "post", "/accounts/{id}", now)
	ep.ResponseHeaders = map[string]string{"X-Mock": "1"}
	ep.ResponseScenarios = []models.ResponseScenario{
		{Name: "ok", ResponseCode: 200, ResponseBody: `{"status":"ok"}`},
		{Name: "fail", ResponseCode: 500, ResponseBody: `{"status":"error"}`},
	}
	ep.RequestSchema = `{"type":"object"}`
	ep.SchemaValidationEnabled = true
	ep.CallbackConfig = models.CallbackConfig{Enabled: true, URL: "http://example.com/hook", Method: "put", DelayMs: 10}
	require.NoError(t, s.CreateEndpoint(ctx, ep))

	got, err := s.GetEndpoint(ctx, ep.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "POST", got.Method)
	assert.Equal(t, "1", got.ResponseHeaders["X-Mock"])
	require.Len(t, got.ResponseScenarios, 2)
	assert.Equal(t, 500, got.ResponseScenarios[1].ResponseCode)
	assert.NotNil(t, got.ResponseScenarios[0].ResponseHeaders)
	assert.True(t, got.SchemaValidationEnabled)
	assert.Equal(t, "PUT", got.CallbackConfig.Method)
	assert.Equal(t, 10, got.CallbackConfig.DelayMs)

	require.NoError(t, s.SetActiveScenario(ctx, ep.ID, 1))
	got, err = s.GetEndpoint(ctx, ep.ID)
	require.NoError(t, err)
	sc, ok := got.ActiveScenario()
	require.True(t, ok)
	assert.Equal(t, "fail", sc.Name)

	got.IsActive = false
	require.NoError(t, s.UpdateEndpoint(ctx, got))
	active, err := s.ListActiveEndpoints(ctx, e.ID)
	require.NoError(t, err)
	assert.Empty(t, active)
	all, err := s.ListEndpoints(ctx, e.ID)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestSQLite_ListActiveEndpointsDeclarationOrder(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	e := testEntity("bank", base)
	require.NoError(t, s.CreateEntity(ctx, e))

	a := testEndpoint(e.ID, "GET", "/users/{id}", base)
	b := testEndpoint(e.ID, "GET", "/users/me", base.Add(time.Second))
	require.NoError(t, s.CreateEndpoint(ctx, b))
	require.NoError(t, s.CreateEndpoint(ctx, a))

	eps, err := s.ListActiveEndpoints(ctx, e.ID)
	require.NoError(t, err)
	require.Len(t, eps, 2)
	assert.Equal(t, a.ID, eps[0].ID)
	assert.Equal(t, b.ID, eps[1].ID)
}

func TestSQLite_RequestLogsAndStats(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	e := testEntity("bank", base)
	require.NoError(t, s.CreateEntity(ctx, e))
	ep := testEndpoint(e.ID, "GET", "/ping", base)
	require.NoError(t, s.CreateEndpoint(ctx, ep))

	body := `{"a":1}`
	logs := []*models.RequestLog{
		{ID: models.NewID("log"), EntityID: e.ID, MockEndpointID: &ep.ID, Method: "GET", Path: "/ping", RequestHeaders: "{}", QueryParams: "{}", ResponseCode: 200, ResponseBody: "{}", Timestamp: base},
		{ID: models.NewID("log"), EntityID: e.ID, MockEndpointID: &ep.ID, Method: "GET", Path: "/ping", RequestHeaders: "{}", RequestBody: &body, QueryParams: "{}", ResponseCode: 400, ResponseBody: "{}", Timestamp: base.Add(time.Minute)},
		{ID: models.NewID("log"), EntityID: e.ID, Method: "GET", Path: "/nope", RequestHeaders: "{}", QueryParams: "{}", ResponseCode: 404, ResponseBody: "{}", Timestamp: base.Add(2 * time.Minute)},
	}
	for _, l := range logs {
		require.NoError(t, s.CreateRequestLog(ctx, l))
	}

	got, err := s.ListRequestLogs(ctx, e.ID, 0)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, logs[2].ID, got[0].ID, "newest first")
	assert.Nil(t, got[0].MockEndpointID)
	require.NotNil(t, got[1].RequestBody)
	assert.Equal(t, body, *got[1].RequestBody)

	limited, err := s.ListRequestLogs(ctx, e.ID, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	byEndpoint, err := s.ListEndpointLogs(ctx, ep.ID, 10)
	require.NoError(t, err)
	assert.Len(t, byEndpoint, 2)

	stats, err := s.GetStats(ctx, e.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 3, stats.TotalRequests)
	assert.EqualValues(t, 2, stats.MatchedRequests)
	assert.EqualValues(t, 1, stats.UnmatchedRequests)
	assert.EqualValues(t, 1, stats.ValidationFailures)
	assert.EqualValues(t, 1, stats.TotalEndpoints)
	assert.InDelta(t, 66.66, stats.MatchRate, 0.1)

	n, err := s.DeleteRequestLogsBefore(ctx, base.Add(90*time.Second))
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	n, err = s.ClearRequestLogs(ctx, e.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestSQLite_DeleteEntityCascades(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLite(t)
	now := time.Now().UTC()

	e := testEntity("bank", now)
	require.NoError(t, s.CreateEntity(ctx, e))
	ep := testEndpoint(e.ID, "GET", "/ping", now)
	require.NoError(t, s.CreateEndpoint(ctx, ep))
	require.NoError(t, s.CreateRequestLog(ctx, &models.RequestLog{
		ID: models.NewID("log"), EntityID: e.ID, MockEndpointID: &ep.ID, Method: "GET", Path: "/ping",
		RequestHeaders: "{}", QueryParams: "{}", ResponseCode: 200, Timestamp: now,
	}))

	require.NoError(t, s.DeleteEntity(ctx, e.ID))

	gotEp, err := s.GetEndpoint(ctx, ep.ID)
	require.NoError(t, err)
	assert.Nil(t, gotEp)
	logs, err := s.ListRequestLogs(ctx, e.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, logs)
}
