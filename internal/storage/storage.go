package storage

import (
	"context"
	"errors"
	"time"

	"github.com/a2v-stg/api-mock-lab/internal/models"
)

// ErrConflict is returned when a write would violate a uniqueness rule,
// including an entity base path that overlaps an existing one.
var ErrConflict = errors.New("conflict")

type Storage interface {
	// Users
	CreateUser(ctx context.Context, u *models.User) error
	GetUser(ctx context.Context, id string) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)

	// Entities
	CreateEntity(ctx context.Context, e *models.Entity) error
	GetEntity(ctx context.Context, id string) (*models.Entity, error)
	ListEntities(ctx context.Context) ([]models.Entity, error)
	UpdateEntity(ctx context.Context, e *models.Entity) error
	DeleteEntity(ctx context.Context, id string) error
	ShareEntity(ctx context.Context, entityID, userID string) error
	UnshareEntity(ctx context.Context, entityID, userID string) error

	// Mock endpoints
	CreateEndpoint(ctx context.Context, ep *models.MockEndpoint) error
	GetEndpoint(ctx context.Context, id string) (*models.MockEndpoint, error)
	ListEndpoints(ctx context.Context, entityID string) ([]models.MockEndpoint, error)
	ListActiveEndpoints(ctx context.Context, entityID string) ([]models.MockEndpoint, error)
	UpdateEndpoint(ctx context.Context, ep *models.MockEndpoint) error
	DeleteEndpoint(ctx context.Context, id string) error
	SetActiveScenario(ctx context.Context, id string, index int) error

	// Request logs
	CreateRequestLog(ctx context.Context, l *models.RequestLog) error
	ListRequestLogs(ctx context.Context, entityID string, limit int) ([]models.RequestLog, error)
	ListEndpointLogs(ctx context.Context, endpointID string, limit int) ([]models.RequestLog, error)
	ClearRequestLogs(ctx context.Context, entityID string) (int64, error)
	DeleteRequestLogsBefore(ctx context.Context, before time.Time) (int64, error)

	// Stats
	GetStats(ctx context.Context, entityID string) (*Stats, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

type Stats struct {
	TotalRequests      int64   `json:"total_requests"`
	MatchedRequests    int64   `json:"matched_requests"`
	UnmatchedRequests  int64   `json:"unmatched_requests"`
	ValidationFailures int64   `json:"validation_failures"`
	MatchRate          float64 `json:"match_rate"`
	TotalEndpoints     int64   `json:"total_endpoints"`
	ActiveEndpoints    int64   `json:"active_endpoints"`
}

const defaultLogLimit = 100

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return defaultLogLimit
	}
	return limit
}
