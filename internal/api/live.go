package api

import (
	"errors"
	"net/http"

	"github.com/a2v-stg/api-mock-lab/internal/auth"
	"github.com/a2v-stg/api-mock-lab/internal/live"
	"github.com/a2v-stg/api-mock-lab/internal/storage"
)

// LiveAuthorizer admits subscribers to public entities freely and to private
// ones only with a ?token= whose user may read the entity.
func LiveAuthorizer(store storage.Storage, svc *auth.Service) live.Authorizer {
	return func(r *http.Request, entityID string) error {
		e, err := store.GetEntity(r.Context(), entityID)
		if err != nil {
			return err
		}
		if e == nil {
			return live.ErrUnknownEntity
		}
		if e.IsPublic {
			return nil
		}
		token := r.URL.Query().Get("token")
		if token == "" {
			token = auth.BearerToken(r)
		}
		u, err := svc.Authenticate(r.Context(), token)
		if errors.Is(err, auth.ErrSessionNotFound) {
			return live.ErrForbidden
		}
		if err != nil {
			return err
		}
		if !auth.CanAccess(u, e, auth.Read) {
			return live.ErrForbidden
		}
		return nil
	}
}
