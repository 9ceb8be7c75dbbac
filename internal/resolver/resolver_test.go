package resolver

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/a2v-stg/api-mock-lab/internal/models"
)

type fakeReader struct {
	entities  []models.Entity
	endpoints map[string][]models.MockEndpoint
	err       error
}

func (f *fakeReader) ListEntities(ctx context.Context) ([]models.Entity, error) {
	return f.entities, f.err
}

func (f *fakeReader) ListActiveEndpoints(ctx context.Context, entityID string) ([]models.MockEndpoint, error) {
	return f.endpoints[entityID], f.err
}

func TestMatchTemplate(t *testing.T) {
	tests := []struct {
		template string
		path     string
		want     bool
	}{
		{"/users/{id}", "/users/42", true},
		{"/users/{id}", "/users/42/extra", false},
		{"/users/{id}", "/users/", false},
		{"/users/{id}", "/users", false},
		{"/users/{id}/orders/{orderId}", "/users/1/orders/abc", true},
		{"/", "/", true},
		{"/health", "/health", true},
		{"/health", "/healthz", false},
		{"/v1.0/items", "/v1.0/items", true},
		{"/v1.0/items", "/v1x0/items", false},
		{"/files/{name}.json", "/files/report.json", true},
		{"/search", "/search?q=1", false},
	}
	for _, tt := range tests {
		t.Run(tt.template+" "+tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, MatchTemplate(tt.template, tt.path))
		})
	}
}

func TestResolveEntity(t *testing.T) {
	r := New(&fakeReader{entities: []models.Entity{
		{ID: "ent_bank", BasePath: "/api/bank"},
		{ID: "ent_shop", BasePath: "/api/shop"},
	}})
	ctx := context.Background()

	e, sub, err := r.ResolveEntity(ctx, "/api/shop/orders/7")
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, "ent_shop", e.ID)
	assert.Equal(t, "/orders/7", sub)

	e, sub, err = r.ResolveEntity(ctx, "/api/bank")
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, "/", sub)

	e, _, err = r.ResolveEntity(ctx, "/api/unknown/x")
	require.NoError(t, err)
	assert.Nil(t, e)
}

func TestResolveEntity_FirstRegisteredWins(t *testing.T) {
	r := New(&fakeReader{entities: []models.Entity{
		{ID: "ent_first", BasePath: "/api/a"},
		{ID: "ent_second", BasePath: "/api/ab"},
	}})

	e, sub, err := r.ResolveEntity(context.Background(), "/api/ab/x")
	require.NoError(t, err)
	assert.Equal(t, "ent_first", e.ID)
	assert.Equal(t, "b/x", sub)
}

func TestMatchEndpoint_DeclarationOrder(t *testing.T) {
	r := New(&fakeReader{endpoints: map[string][]models.MockEndpoint{
		"ent_1": {
			{ID: "ep_post", Method: "POST", Path: "/users/{id}", IsActive: true},
			{ID: "ep_wild", Method: "GET", Path: "/users/{id}", IsActive: true},
			{ID: "ep_me", Method: "GET", Path: "/users/me", IsActive: true},
			{ID: "ep_off", Method: "GET", Path: "/off", IsActive: false},
		},
	}})
	ctx := context.Background()

	ep, err := r.MatchEndpoint(ctx, "ent_1", "GET", "/users/me")
	require.NoError(t, err)
	require.NotNil(t, ep)
	assert.Equal(t, "ep_wild", ep.ID, "templates are not ranked by specificity")

	ep, err = r.MatchEndpoint(ctx, "ent_1", "POST", "/users/9")
	require.NoError(t, err)
	assert.Equal(t, "ep_post", ep.ID)

	ep, err = r.MatchEndpoint(ctx, "ent_1", "DELETE", "/users/9")
	require.NoError(t, err)
	assert.Nil(t, ep)

	ep, err = r.MatchEndpoint(ctx, "ent_1", "GET", "/off")
	require.NoError(t, err)
	assert.Nil(t, ep)
}

func TestResolver_PropagatesStoreErrors(t *testing.T) {
	boom := errors.New("boom")
	r := New(&fakeReader{err: boom})

	_, _, err := r.ResolveEntity(context.Background(), "/api/x")
	assert.ErrorIs(t, err, boom)
	_, err = r.MatchEndpoint(context.Background(), "e", "GET", "/")
	assert.ErrorIs(t, err, boom)
}
