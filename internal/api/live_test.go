package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/a2v-stg/api-mock-lab/internal/auth"
	"github.com/a2v-stg/api-mock-lab/internal/live"
	"github.com/a2v-stg/api-mock-lab/internal/models"
	"github.com/a2v-stg/api-mock-lab/internal/storage"
)

var errSessionBackendDown = errors.New("session backend unavailable")

// flakySessions fails lookups for one token and defers the rest to memory.
type flakySessions struct {
	*auth.MemoryStore
	broken string
}

func (f *flakySessions) Get(ctx context.Context, token string) (*auth.Session, error) {
	if token == f.broken {
		return nil, errSessionBackendDown
	}
	return f.MemoryStore.Get(ctx, token)
}

func TestLiveAuthorizer_SessionErrors(t *testing.T) {
	store, err := storage.NewSQLite(filepath.Join(t.TempDir(), "live.db"))
	require.NoError(t, err)
	require.NoError(t, store.Migrate(t.Context()))
	t.Cleanup(func() { store.Close() })

	sessions := &flakySessions{MemoryStore: auth.NewMemoryStore(), broken: "tok_broken"}
	svc := auth.NewService(store, sessions, time.Hour)

	owner, err := svc.Register(t.Context(), "owner@example.com", "owner", "secret-pw", false)
	require.NoError(t, err)
	_, token, err := svc.Login(t.Context(), "owner", "secret-pw")
	require.NoError(t, err)

	entity := &models.Entity{
		ID:         models.NewID("ent"),
		Name:       "vault",
		APIKey:     models.NewAPIKey(),
		BasePath:   models.BasePathFor("/api", "vault"),
		OwnerID:    owner.ID,
		SharedWith: []string{},
		CreatedAt:  time.Now().UTC(),
	}
	require.NoError(t, store.CreateEntity(t.Context(), entity))

	authorize := LiveAuthorizer(store, svc)
	router := chi.NewRouter()
	router.Get("/ws/logs/{entity_id}", live.NewHandler(live.NewHub(1, zerolog.Nop()), authorize, time.Second, zerolog.Nop()).ServeHTTP)

	tests := []struct {
		name    string
		token   string
		wantErr error
		status  int
	}{
		{"no token", "", live.ErrForbidden, http.StatusForbidden},
		{"unknown token", "tok_unknown", live.ErrForbidden, http.StatusForbidden},
		{"session backend error", "tok_broken", errSessionBackendDown, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := "/ws/logs/" + entity.ID
			if tt.token != "" {
				target += "?token=" + tt.token
			}
			req := httptest.NewRequest(http.MethodGet, target, nil)

			err := authorize(req, entity.ID)
			require.ErrorIs(t, err, tt.wantErr)

			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			assert.Equal(t, tt.status, rec.Code)
		})
	}

	req := httptest.NewRequest(http.MethodGet, "/ws/logs/"+entity.ID+"?token="+token, nil)
	assert.NoError(t, authorize(req, entity.ID))
}
