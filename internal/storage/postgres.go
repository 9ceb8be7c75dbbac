package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/a2v-stg/api-mock-lab/internal/models"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS users (
    id            TEXT PRIMARY KEY,
    email         TEXT NOT NULL UNIQUE,
    username      TEXT NOT NULL UNIQUE,
    password_hash TEXT NOT NULL,
    is_admin      BOOLEAN NOT NULL DEFAULT FALSE,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS entities (
    id         TEXT PRIMARY KEY,
    name       TEXT NOT NULL UNIQUE,
    api_key    TEXT NOT NULL UNIQUE,
    base_path  TEXT NOT NULL UNIQUE,
    owner_id   TEXT REFERENCES users(id) ON DELETE SET NULL,
    is_public  BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS entity_shares (
    entity_id TEXT NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
    user_id   TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    PRIMARY KEY (entity_id, user_id)
);

CREATE TABLE IF NOT EXISTS mock_endpoints (
    id                            TEXT PRIMARY KEY,
    entity_id                     TEXT NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
    name                          TEXT NOT NULL DEFAULT '',
    method                        TEXT NOT NULL,
    path                          TEXT NOT NULL,
    is_active                     BOOLEAN NOT NULL DEFAULT TRUE,
    response_body                 TEXT NOT NULL DEFAULT '',
    response_code                 INT NOT NULL DEFAULT 200,
    response_headers              JSONB NOT NULL DEFAULT '{}',
    delay_ms                      INT NOT NULL DEFAULT 0,
    response_scenarios            JSONB NOT NULL DEFAULT '[]',
    active_scenario_index         INT NOT NULL DEFAULT 0,
    request_schema                TEXT NOT NULL DEFAULT '',
    schema_validation_enabled     BOOLEAN NOT NULL DEFAULT FALSE,
    callback_enabled              BOOLEAN NOT NULL DEFAULT FALSE,
    callback_url                  TEXT NOT NULL DEFAULT '',
    callback_method               TEXT NOT NULL DEFAULT 'POST',
    callback_delay_ms             INT NOT NULL DEFAULT 0,
    callback_extract_from_request BOOLEAN NOT NULL DEFAULT FALSE,
    callback_extract_field        TEXT NOT NULL DEFAULT '',
    callback_payload              TEXT NOT NULL DEFAULT '',
    created_at                    TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at                    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_endpoints_entity ON mock_endpoints (entity_id, created_at);

CREATE TABLE IF NOT EXISTS request_logs (
    id               TEXT PRIMARY KEY,
    entity_id        TEXT NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
    mock_endpoint_id TEXT REFERENCES mock_endpoints(id) ON DELETE CASCADE,
    method           TEXT NOT NULL,
    path             TEXT NOT NULL,
    request_headers  TEXT NOT NULL DEFAULT '{}',
    request_body     TEXT,
    query_params     TEXT NOT NULL DEFAULT '{}',
    response_code    INT NOT NULL,
    response_body    TEXT NOT NULL DEFAULT '',
    timestamp        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_logs_entity_ts   ON request_logs (entity_id, timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_logs_endpoint_ts ON request_logs (mock_endpoint_id, timestamp DESC);
`

// PostgresStorage is the multi-instance backend. It shares table layout and ordering rules with SQLiteStorage.
type PostgresStorage struct {
	pool *pgxpool.Pool
}

func NewPostgres(ctx context.Context, url string) (*PostgresStorage, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return &PostgresStorage{pool: pool}, nil
}

func (s *PostgresStorage) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("executing migration: %w", err)
	}
	return nil
}

func (s *PostgresStorage) Close() error {
	s.pool.Close()
	return nil
}

func isPgUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// --- Users ---

func (s *PostgresStorage) CreateUser(ctx context.Context, u *models.User) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, email, username, password_hash, is_admin, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		u.ID, u.Email, u.Username, u.PasswordHash, u.IsAdmin, u.CreatedAt,
	)
	if isPgUniqueViolation(err) {
		return fmt.Errorf("user already exists: %w", ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("inserting user: %w", err)
	}
	return nil
}

func (s *PostgresStorage) getUserWhere(ctx context.Context, where string, arg any) (*models.User, error) {
	var u models.User
	err := s.pool.QueryRow(ctx,
		`SELECT id, email, username, password_hash, is_admin, created_at FROM users WHERE `+where, arg,
	).Scan(&u.ID, &u.Email, &u.Username, &u.PasswordHash, &u.IsAdmin, &u.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("querying user: %w", err)
	}
	return &u, nil
}

func (s *PostgresStorage) GetUser(ctx context.Context, id string) (*models.User, error) {
	return s.getUserWhere(ctx, "id = $1", id)
}

func (s *PostgresStorage) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return s.getUserWhere(ctx, "username = $1", username)
}

// --- Entities ---

func scanPgEntity(row pgx.Row) (*models.Entity, error) {
	var e models.Entity
	var owner *string
	if err := row.Scan(&e.ID, &e.Name, &e.APIKey, &e.BasePath, &owner, &e.IsPublic, &e.CreatedAt); err != nil {
		return nil, err
	}
	if owner != nil {
		e.OwnerID = *owner
	}
	e.SharedWith = []string{}
	return &e, nil
}

func ownerParam(ownerID string) *string {
	if ownerID == "" {
		return nil
	}
	return &ownerID
}

func checkPgEntityUnique(ctx context.Context, tx pgx.Tx, e *models.Entity) error {
	// Serializes concurrent entity writers for the duration of the transaction.
	if _, err := tx.Exec(ctx, `LOCK TABLE entities IN SHARE ROW EXCLUSIVE MODE`); err != nil {
		return fmt.Errorf("locking entities: %w", err)
	}
	rows, err := tx.Query(ctx, `SELECT name, base_path FROM entities WHERE id <> $1`, e.ID)
	if err != nil {
		return fmt.Errorf("querying entities: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var name, basePath string
		if err := rows.Scan(&name, &basePath); err != nil {
			return err
		}
		if name == e.Name {
			return fmt.Errorf("entity name %q already exists: %w", e.Name, ErrConflict)
		}
		if models.PathsOverlap(basePath, e.BasePath) {
			return fmt.Errorf("base path %q overlaps %q: %w", e.BasePath, basePath, ErrConflict)
		}
	}
	return rows.Err()
}

func (s *PostgresStorage) CreateEntity(ctx context.Context, e *models.Entity) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := checkPgEntityUnique(ctx, tx, e); err != nil {
		return err
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO entities (id, name, api_key, base_path, owner_id, is_public, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID, e.Name, e.APIKey, e.BasePath, ownerParam(e.OwnerID), e.IsPublic, e.CreatedAt,
	)
	if isPgUniqueViolation(err) {
		return fmt.Errorf("entity already exists: %w", ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("inserting entity: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *PostgresStorage) GetEntity(ctx context.Context, id string) (*models.Entity, error) {
	e, err := scanPgEntity(s.pool.QueryRow(ctx, `SELECT `+entityColumns+` FROM entities WHERE id = $1`, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("querying entity: %w", err)
	}
	shares, err := s.loadShares(ctx, e.ID)
	if err != nil {
		return nil, err
	}
	if users, ok := shares[e.ID]; ok {
		e.SharedWith = users
	}
	return e, nil
}

func (s *PostgresStorage) ListEntities(ctx context.Context) ([]models.Entity, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+entityColumns+` FROM entities ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("querying entities: %w", err)
	}
	defer rows.Close()

	var entities []models.Entity
	for rows.Next() {
		e, err := scanPgEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning entity: %w", err)
		}
		entities = append(entities, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	shares, err := s.loadShares(ctx, "")
	if err != nil {
		return nil, err
	}
	for i := range entities {
		if users, ok := shares[entities[i].ID]; ok {
			entities[i].SharedWith = users
		}
	}
	return entities, nil
}

func (s *PostgresStorage) loadShares(ctx context.Context, entityID string) (map[string][]string, error) {
	query := `SELECT entity_id, user_id FROM entity_shares`
	var args []any
	if entityID != "" {
		query += ` WHERE entity_id = $1`
		args = append(args, entityID)
	}
	rows, err := s.pool.Query(ctx, query+` ORDER BY user_id`, args...)
	if err != nil {
		return nil, fmt.Errorf("querying shares: %w", err)
	}
	defer rows.Close()

	shares := make(map[string][]string)
	for rows.Next() {
		var eid, uid string
		if err := rows.Scan(&eid, &uid); err != nil {
			return nil, err
		}
		shares[eid] = append(shares[eid], uid)
	}
	return shares, rows.Err()
}

func (s *PostgresStorage) UpdateEntity(ctx context.Context, e *models.Entity) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := checkPgEntityUnique(ctx, tx, e); err != nil {
		return err
	}
	_, err = tx.Exec(ctx,
		`UPDATE entities SET name = $1, base_path = $2, is_public = $3 WHERE id = $4`,
		e.Name, e.BasePath, e.IsPublic, e.ID,
	)
	if isPgUniqueViolation(err) {
		return fmt.Errorf("entity already exists: %w", ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("updating entity: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *PostgresStorage) DeleteEntity(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM entities WHERE id = $1`, id)
	return err
}

func (s *PostgresStorage) ShareEntity(ctx context.Context, entityID, userID string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO entity_shares (entity_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, entityID, userID)
	return err
}

func (s *PostgresStorage) UnshareEntity(ctx context.Context, entityID, userID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM entity_shares WHERE entity_id = $1 AND user_id = $2`, entityID, userID)
	return err
}

// --- Mock endpoints ---

func scanPgEndpoint(row pgx.Row) (*models.MockEndpoint, error) {
	var ep models.MockEndpoint
	var headers, scenarios []byte
	cb := &ep.CallbackConfig
	err := row.Scan(&ep.ID, &ep.EntityID, &ep.Name, &ep.Method, &ep.Path, &ep.IsActive,
		&ep.ResponseBody, &ep.ResponseCode, &headers, &ep.DelayMs, &scenarios, &ep.ActiveScenarioIndex,
		&ep.RequestSchema, &ep.SchemaValidationEnabled, &cb.Enabled, &cb.URL, &cb.Method, &cb.DelayMs,
		&cb.ExtractFromRequest, &cb.ExtractField, &cb.Payload, &ep.CreatedAt, &ep.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := decodeEndpointJSON(&ep, string(headers), string(scenarios)); err != nil {
		return nil, err
	}
	return &ep, nil
}

func (s *PostgresStorage) CreateEndpoint(ctx context.Context, ep *models.MockEndpoint) error {
	ep.Normalize()
	headers, scenarios, err := encodeEndpointJSON(ep)
	if err != nil {
		return err
	}
	cb := ep.CallbackConfig
	_, err = s.pool.Exec(ctx,
		`INSERT INTO mock_endpoints (`+endpointColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)`,
		ep.ID, ep.EntityID, ep.Name, ep.Method, ep.Path, ep.IsActive, ep.ResponseBody, ep.ResponseCode,
		[]byte(headers), ep.DelayMs, []byte(scenarios), ep.ActiveScenarioIndex, ep.RequestSchema,
		ep.SchemaValidationEnabled, cb.Enabled, cb.URL, cb.Method, cb.DelayMs,
		cb.ExtractFromRequest, cb.ExtractField, cb.Payload, ep.CreatedAt, ep.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting endpoint: %w", err)
	}
	return nil
}

func (s *PostgresStorage) GetEndpoint(ctx context.Context, id string) (*models.MockEndpoint, error) {
	ep, err := scanPgEndpoint(s.pool.QueryRow(ctx, `SELECT `+endpointColumns+` FROM mock_endpoints WHERE id = $1`, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("querying endpoint: %w", err)
	}
	return ep, nil
}

func (s *PostgresStorage) listEndpoints(ctx context.Context, query string, args ...any) ([]models.MockEndpoint, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying endpoints: %w", err)
	}
	defer rows.Close()

	var endpoints []models.MockEndpoint
	for rows.Next() {
		ep, err := scanPgEndpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning endpoint: %w", err)
		}
		endpoints = append(endpoints, *ep)
	}
	return endpoints, rows.Err()
}

func (s *PostgresStorage) ListEndpoints(ctx context.Context, entityID string) ([]models.MockEndpoint, error) {
	return s.listEndpoints(ctx,
		`SELECT `+endpointColumns+` FROM mock_endpoints WHERE entity_id = $1 ORDER BY created_at ASC, id ASC`, entityID)
}

func (s *PostgresStorage) ListActiveEndpoints(ctx context.Context, entityID string) ([]models.MockEndpoint, error) {
	return s.listEndpoints(ctx,
		`SELECT `+endpointColumns+` FROM mock_endpoints WHERE entity_id = $1 AND is_active ORDER BY created_at ASC, id ASC`, entityID)
}

func (s *PostgresStorage) UpdateEndpoint(ctx context.Context, ep *models.MockEndpoint) error {
	ep.Normalize()
	headers, scenarios, err := encodeEndpointJSON(ep)
	if err != nil {
		return err
	}
	ep.UpdatedAt = time.Now().UTC()
	cb := ep.CallbackConfig
	_, err = s.pool.Exec(ctx,
		`UPDATE mock_endpoints SET name = $1, method = $2, path = $3, is_active = $4, response_body = $5,
			response_code = $6, response_headers = $7, delay_ms = $8, response_scenarios = $9,
			active_scenario_index = $10, request_schema = $11, schema_validation_enabled = $12,
			callback_enabled = $13, callback_url = $14, callback_method = $15, callback_delay_ms = $16,
			callback_extract_from_request = $17, callback_extract_field = $18, callback_payload = $19,
			updated_at = $20
		 WHERE id = $21`,
		ep.Name, ep.Method, ep.Path, ep.IsActive, ep.ResponseBody, ep.ResponseCode, []byte(headers), ep.DelayMs,
		[]byte(scenarios), ep.ActiveScenarioIndex, ep.RequestSchema, ep.SchemaValidationEnabled,
		cb.Enabled, cb.URL, cb.Method, cb.DelayMs, cb.ExtractFromRequest, cb.ExtractField, cb.Payload,
		ep.UpdatedAt, ep.ID,
	)
	if err != nil {
		return fmt.Errorf("updating endpoint: %w", err)
	}
	return nil
}

func (s *PostgresStorage) DeleteEndpoint(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM mock_endpoints WHERE id = $1`, id)
	return err
}

func (s *PostgresStorage) SetActiveScenario(ctx context.Context, id string, index int) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE mock_endpoints SET active_scenario_index = $1, updated_at = now() WHERE id = $2`, index, id)
	return err
}

// --- Request logs ---

func (s *PostgresStorage) CreateRequestLog(ctx context.Context, l *models.RequestLog) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO request_logs (`+logColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		l.ID, l.EntityID, l.MockEndpointID, l.Method, l.Path, l.RequestHeaders, l.RequestBody,
		l.QueryParams, l.ResponseCode, l.ResponseBody, l.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("inserting request log: %w", err)
	}
	return nil
}

func (s *PostgresStorage) listLogs(ctx context.Context, query string, args ...any) ([]models.RequestLog, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying request logs: %w", err)
	}
	defer rows.Close()

	var logs []models.RequestLog
	for rows.Next() {
		var l models.RequestLog
		if err := rows.Scan(&l.ID, &l.EntityID, &l.MockEndpointID, &l.Method, &l.Path, &l.RequestHeaders,
			&l.RequestBody, &l.QueryParams, &l.ResponseCode, &l.ResponseBody, &l.Timestamp); err != nil {
			return nil, fmt.Errorf("scanning request log: %w", err)
		}
		l.Timestamp = l.Timestamp.UTC()
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

func (s *PostgresStorage) ListRequestLogs(ctx context.Context, entityID string, limit int) ([]models.RequestLog, error) {
	return s.listLogs(ctx,
		`SELECT `+logColumns+` FROM request_logs WHERE entity_id = $1 ORDER BY timestamp DESC, id DESC LIMIT $2`,
		entityID, normalizeLimit(limit))
}

func (s *PostgresStorage) ListEndpointLogs(ctx context.Context, endpointID string, limit int) ([]models.RequestLog, error) {
	return s.listLogs(ctx,
		`SELECT `+logColumns+` FROM request_logs WHERE mock_endpoint_id = $1 ORDER BY timestamp DESC, id DESC LIMIT $2`,
		endpointID, normalizeLimit(limit))
}

func (s *PostgresStorage) ClearRequestLogs(ctx context.Context, entityID string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM request_logs WHERE entity_id = $1`, entityID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStorage) DeleteRequestLogsBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM request_logs WHERE timestamp < $1`, before)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// --- Stats ---

func (s *PostgresStorage) GetStats(ctx context.Context, entityID string) (*Stats, error) {
	stats := &Stats{}
	err := s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE mock_endpoint_id IS NOT NULL),
			COUNT(*) FILTER (WHERE mock_endpoint_id IS NULL),
			COUNT(*) FILTER (WHERE mock_endpoint_id IS NOT NULL AND response_code = 400)
		FROM request_logs WHERE entity_id = $1`, entityID,
	).Scan(&stats.TotalRequests, &stats.MatchedRequests, &stats.UnmatchedRequests, &stats.ValidationFailures)
	if err != nil {
		return nil, fmt.Errorf("querying log stats: %w", err)
	}

	err = s.pool.QueryRow(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE is_active)
		FROM mock_endpoints WHERE entity_id = $1`, entityID,
	).Scan(&stats.TotalEndpoints, &stats.ActiveEndpoints)
	if err != nil {
		return nil, fmt.Errorf("querying endpoint stats: %w", err)
	}

	if stats.TotalRequests > 0 {
		stats.MatchRate = float64(stats.MatchedRequests) / float64(stats.TotalRequests) * 100
	}
	return stats, nil
}
