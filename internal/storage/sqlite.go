package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/a2v-stg/api-mock-lab/internal/models"
)

type SQLiteStorage struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return &SQLiteStorage{db: db}, nil
}

func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			email TEXT NOT NULL UNIQUE,
			username TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			is_admin INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS entities (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			api_key TEXT NOT NULL UNIQUE,
			base_path TEXT NOT NULL UNIQUE,
			owner_id TEXT REFERENCES users(id) ON DELETE SET NULL,
			is_public INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS entity_shares (
			entity_id TEXT NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
			user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			PRIMARY KEY (entity_id, user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS mock_endpoints (
			id TEXT PRIMARY KEY,
			entity_id TEXT NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
			name TEXT NOT NULL DEFAULT '',
			method TEXT NOT NULL,
			path TEXT NOT NULL,
			is_active INTEGER NOT NULL DEFAULT 1,
			response_body TEXT NOT NULL DEFAULT '',
			response_code INTEGER NOT NULL DEFAULT 200,
			response_headers TEXT NOT NULL DEFAULT '{}',
			delay_ms INTEGER NOT NULL DEFAULT 0,
			response_scenarios TEXT NOT NULL DEFAULT '[]',
			active_scenario_index INTEGER NOT NULL DEFAULT 0,
			request_schema TEXT NOT NULL DEFAULT '',
			schema_validation_enabled INTEGER NOT NULL DEFAULT 0,
			callback_enabled INTEGER NOT NULL DEFAULT 0,
			callback_url TEXT NOT NULL DEFAULT '',
			callback_method TEXT NOT NULL DEFAULT 'POST',
			callback_delay_ms INTEGER NOT NULL DEFAULT 0,
			callback_extract_from_request INTEGER NOT NULL DEFAULT 0,
			callback_extract_field TEXT NOT NULL DEFAULT '',
			callback_payload TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS request_logs (
			id TEXT PRIMARY KEY,
			entity_id TEXT NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
			mock_endpoint_id TEXT REFERENCES mock_endpoints(id) ON DELETE CASCADE,
			method TEXT NOT NULL,
			path TEXT NOT NULL,
			request_headers TEXT NOT NULL DEFAULT '{}',
			request_body TEXT,
			query_params TEXT NOT NULL DEFAULT '{}',
			response_code INTEGER NOT NULL,
			response_body TEXT NOT NULL DEFAULT '',
			timestamp DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_entities_created ON entities(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_endpoints_entity ON mock_endpoints(entity_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_logs_entity_ts ON request_logs(entity_id, timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_logs_endpoint_ts ON request_logs(mock_endpoint_id, timestamp)`,
	}

	for _, q := range queries {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// --- Users ---

func (s *SQLiteStorage) CreateUser(ctx context.Context, u *models.User) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, email, username, password_hash, is_admin, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		u.ID, u.Email, u.Username, u.PasswordHash, u.IsAdmin, u.CreatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("user already exists: %w", ErrConflict)
	}
	return err
}

func (s *SQLiteStorage) getUserWhere(ctx context.Context, where string, arg any) (*models.User, error) {
	var u models.User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, email, username, password_hash, is_admin, created_at FROM users WHERE `+where, arg,
	).Scan(&u.ID, &u.Email, &u.Username, &u.PasswordHash, &u.IsAdmin, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *SQLiteStorage) GetUser(ctx context.Context, id string) (*models.User, error) {
	return s.getUserWhere(ctx, "id = ?", id)
}

func (s *SQLiteStorage) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return s.getUserWhere(ctx, "username = ?", username)
}

// --- Entities ---

const entityColumns = `id, name, api_key, base_path, owner_id, is_public, created_at`

func scanEntity(row interface{ Scan(...any) error }) (*models.Entity, error) {
	var e models.Entity
	var owner sql.NullString
	if err := row.Scan(&e.ID, &e.Name, &e.APIKey, &e.BasePath, &owner, &e.IsPublic, &e.CreatedAt); err != nil {
		return nil, err
	}
	e.OwnerID = owner.String
	e.SharedWith = []string{}
	return &e, nil
}

// checkEntityUnique rejects duplicate names and overlapping base paths. It runs inside the
// write transaction so two concurrent creates cannot both pass.
func checkEntityUnique(ctx context.Context, tx *sql.Tx, e *models.Entity) error {
	rows, err := tx.QueryContext(ctx, `SELECT id, name, base_path FROM entities WHERE id <> ?`, e.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var id, name, basePath string
		if err := rows.Scan(&id, &name, &basePath); err != nil {
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

func (s *SQLiteStorage) CreateEntity(ctx context.Context, e *models.Entity) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := checkEntityUnique(ctx, tx, e); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO entities (id, name, api_key, base_path, owner_id, is_public, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Name, e.APIKey, e.BasePath, nullString(e.OwnerID), e.IsPublic, e.CreatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("entity already exists: %w", ErrConflict)
	}
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStorage) GetEntity(ctx context.Context, id string) (*models.Entity, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+entityColumns+` FROM entities WHERE id = ?`, id)
	e, err := scanEntity(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	shares, err := s.loadShares(ctx, e.ID)
	if err != nil {
		return nil, err
	}
	e.SharedWith = shares[e.ID]
	if e.SharedWith == nil {
		e.SharedWith = []string{}
	}
	return e, nil
}

// ListEntities returns entities in registration order, which is the order the resolver scans them.
func (s *SQLiteStorage) ListEntities(ctx context.Context) ([]models.Entity, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+entityColumns+` FROM entities ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entities []models.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
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

// loadShares returns entity id -> shared user ids. An empty entityID loads every share.
func (s *SQLiteStorage) loadShares(ctx context.Context, entityID string) (map[string][]string, error) {
	query := `SELECT entity_id, user_id FROM entity_shares`
	var args []any
	if entityID != "" {
		query += ` WHERE entity_id = ?`
		args = append(args, entityID)
	}
	rows, err := s.db.QueryContext(ctx, query+` ORDER BY user_id`, args...)
	if err != nil {
		return nil, err
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

func (s *SQLiteStorage) UpdateEntity(ctx context.Context, e *models.Entity) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := checkEntityUnique(ctx, tx, e); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE entities SET name = ?, base_path = ?, is_public = ? WHERE id = ?`,
		e.Name, e.BasePath, e.IsPublic, e.ID,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("entity already exists: %w", ErrConflict)
	}
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStorage) DeleteEntity(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM entities WHERE id = ?`, id)
	return err
}

func (s *SQLiteStorage) ShareEntity(ctx context.Context, entityID, userID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO entity_shares (entity_id, user_id) VALUES (?, ?)`, entityID, userID)
	return err
}

func (s *SQLiteStorage) UnshareEntity(ctx context.Context, entityID, userID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM entity_shares WHERE entity_id = ? AND user_id = ?`, entityID, userID)
	return err
}

// --- Mock endpoints ---

const endpointColumns = `id, entity_id, name, method, path, is_active, response_body, response_code,
	response_headers, delay_ms, response_scenarios, active_scenario_index, request_schema,
	schema_validation_enabled, callback_enabled, callback_url, callback_method, callback_delay_ms,
	callback_extract_from_request, callback_extract_field, callback_payload, created_at, updated_at`

func scanEndpoint(row interface{ Scan(...any) error }) (*models.MockEndpoint, error) {
	var ep models.MockEndpoint
	var headers, scenarios string
	err := row.Scan(&ep.ID, &ep.EntityID, &ep.Name, &ep.Method, &ep.Path, &ep.IsActive,
		&ep.ResponseBody, &ep.ResponseCode, &headers, &ep.DelayMs, &scenarios, &ep.ActiveScenarioIndex,
		&ep.RequestSchema, &ep.SchemaValidationEnabled, &ep.CallbackConfig.Enabled, &ep.CallbackConfig.URL,
		&ep.CallbackConfig.Method, &ep.CallbackConfig.DelayMs, &ep.CallbackConfig.ExtractFromRequest,
		&ep.CallbackConfig.ExtractField, &ep.CallbackConfig.Payload, &ep.CreatedAt, &ep.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := decodeEndpointJSON(&ep, headers, scenarios); err != nil {
		return nil, err
	}
	return &ep, nil
}

func decodeEndpointJSON(ep *models.MockEndpoint, headers, scenarios string) error {
	if err := json.Unmarshal([]byte(headers), &ep.ResponseHeaders); err != nil {
		return fmt.Errorf("decoding response_headers of %s: %w", ep.ID, err)
	}
	if err := json.Unmarshal([]byte(scenarios), &ep.ResponseScenarios); err != nil {
		return fmt.Errorf("decoding response_scenarios of %s: %w", ep.ID, err)
	}
	ep.Normalize()
	return nil
}

func encodeEndpointJSON(ep *models.MockEndpoint) (headers, scenarios string, err error) {
	h, err := json.Marshal(ep.ResponseHeaders)
	if err != nil {
		return "", "", err
	}
	sc, err := json.Marshal(ep.ResponseScenarios)
	if err != nil {
		return "", "", err
	}
	return string(h), string(sc), nil
}

func (s *SQLiteStorage) CreateEndpoint(ctx context.Context, ep *models.MockEndpoint) error {
	ep.Normalize()
	headers, scenarios, err := encodeEndpointJSON(ep)
	if err != nil {
		return err
	}
	cb := ep.CallbackConfig
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO mock_endpoints (`+endpointColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ep.ID, ep.EntityID, ep.Name, ep.Method, ep.Path, ep.IsActive, ep.ResponseBody, ep.ResponseCode,
		headers, ep.DelayMs, scenarios, ep.ActiveScenarioIndex, ep.RequestSchema,
		ep.SchemaValidationEnabled, cb.Enabled, cb.URL, cb.Method, cb.DelayMs,
		cb.ExtractFromRequest, cb.ExtractField, cb.Payload, ep.CreatedAt, ep.UpdatedAt,
	)
	return err
}

func (s *SQLiteStorage) GetEndpoint(ctx context.Context, id string) (*models.MockEndpoint, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+endpointColumns+` FROM mock_endpoints WHERE id = ?`, id)
	ep, err := scanEndpoint(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return ep, err
}

func (s *SQLiteStorage) listEndpoints(ctx context.Context, query string, args ...any) ([]models.MockEndpoint, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var endpoints []models.MockEndpoint
	for rows.Next() {
		ep, err := scanEndpoint(rows)
		if err != nil {
			return nil, err
		}
		endpoints = append(endpoints, *ep)
	}
	return endpoints, rows.Err()
}

func (s *SQLiteStorage) ListEndpoints(ctx context.Context, entityID string) ([]models.MockEndpoint, error) {
	return s.listEndpoints(ctx,
		`SELECT `+endpointColumns+` FROM mock_endpoints WHERE entity_id = ? ORDER BY created_at ASC, id ASC`, entityID)
}

// ListActiveEndpoints returns active endpoints in declaration order.
func (s *SQLiteStorage) ListActiveEndpoints(ctx context.Context, entityID string) ([]models.MockEndpoint, error) {
	return s.listEndpoints(ctx,
		`SELECT `+endpointColumns+` FROM mock_endpoints WHERE entity_id = ? AND is_active = 1 ORDER BY created_at ASC, id ASC`, entityID)
}

func (s *SQLiteStorage) UpdateEndpoint(ctx context.Context, ep *models.MockEndpoint) error {
	ep.Normalize()
	headers, scenarios, err := encodeEndpointJSON(ep)
	if err != nil {
		return err
	}
	ep.UpdatedAt = time.Now().UTC()
	cb := ep.CallbackConfig
	_, err = s.db.ExecContext(ctx,
		`UPDATE mock_endpoints SET name = ?, method = ?, path = ?, is_active = ?, response_body = ?,
			response_code = ?, response_headers = ?, delay_ms = ?, response_scenarios = ?,
			active_scenario_index = ?, request_schema = ?, schema_validation_enabled = ?,
			callback_enabled = ?, callback_url = ?, callback_method = ?, callback_delay_ms = ?,
			callback_extract_from_request = ?, callback_extract_field = ?, callback_payload = ?,
			updated_at = ?
		 WHERE id = ?`,
		ep.Name, ep.Method, ep.Path, ep.IsActive, ep.ResponseBody, ep.ResponseCode, headers, ep.DelayMs,
		scenarios, ep.ActiveScenarioIndex, ep.RequestSchema, ep.SchemaValidationEnabled,
		cb.Enabled, cb.URL, cb.Method, cb.DelayMs, cb.ExtractFromRequest, cb.ExtractField, cb.Payload,
		ep.UpdatedAt, ep.ID,
	)
	return err
}

func (s *SQLiteStorage) DeleteEndpoint(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM mock_endpoints WHERE id = ?`, id)
	return err
}

func (s *SQLiteStorage) SetActiveScenario(ctx context.Context, id string, index int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE mock_endpoints SET active_scenario_index = ?, updated_at = ? WHERE id = ?`,
		index, time.Now().UTC(), id)
	return err
}

// --- Request logs ---

const logColumns = `id, entity_id, mock_endpoint_id, method, path, request_headers, request_body,
	query_params, response_code, response_body, timestamp`

func (s *SQLiteStorage) CreateRequestLog(ctx context.Context, l *models.RequestLog) error {
	var endpointID, body sql.NullString
	if l.MockEndpointID != nil {
		endpointID = sql.NullString{String: *l.MockEndpointID, Valid: true}
	}
	if l.RequestBody != nil {
		body = sql.NullString{String: *l.RequestBody, Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO request_logs (`+logColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.EntityID, endpointID, l.Method, l.Path, l.RequestHeaders, body,
		l.QueryParams, l.ResponseCode, l.ResponseBody, l.Timestamp,
	)
	return err
}

func (s *SQLiteStorage) listLogs(ctx context.Context, query string, args ...any) ([]models.RequestLog, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []models.RequestLog
	for rows.Next() {
		var l models.RequestLog
		var endpointID, body sql.NullString
		if err := rows.Scan(&l.ID, &l.EntityID, &endpointID, &l.Method, &l.Path, &l.RequestHeaders, &body,
			&l.QueryParams, &l.ResponseCode, &l.ResponseBody, &l.Timestamp); err != nil {
			return nil, err
		}
		if endpointID.Valid {
			l.MockEndpointID = &endpointID.String
		}
		if body.Valid {
			l.RequestBody = &body.String
		}
		l.Timestamp = l.Timestamp.UTC()
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

func (s *SQLiteStorage) ListRequestLogs(ctx context.Context, entityID string, limit int) ([]models.RequestLog, error) {
	return s.listLogs(ctx,
		`SELECT `+logColumns+` FROM request_logs WHERE entity_id = ? ORDER BY timestamp DESC, id DESC LIMIT ?`,
		entityID, normalizeLimit(limit))
}

func (s *SQLiteStorage) ListEndpointLogs(ctx context.Context, endpointID string, limit int) ([]models.RequestLog, error) {
	return s.listLogs(ctx,
		`SELECT `+logColumns+` FROM request_logs WHERE mock_endpoint_id = ? ORDER BY timestamp DESC, id DESC LIMIT ?`,
		endpointID, normalizeLimit(limit))
}

func (s *SQLiteStorage) ClearRequestLogs(ctx context.Context, entityID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM request_logs WHERE entity_id = ?`, entityID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *SQLiteStorage) DeleteRequestLogsBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM request_logs WHERE timestamp < ?`, before.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// --- Stats ---

func (s *SQLiteStorage) GetStats(ctx context.Context, entityID string) (*Stats, error) {
	stats := &Stats{}

	counts := []struct {
		dst   *int64
		query string
	}{
		{&stats.TotalRequests, `SELECT COUNT(*) FROM request_logs WHERE entity_id = ?`},
		{&stats.MatchedRequests, `SELECT COUNT(*) FROM request_logs WHERE entity_id = ? AND mock_endpoint_id IS NOT NULL`},
		{&stats.UnmatchedRequests, `SELECT COUNT(*) FROM request_logs WHERE entity_id = ? AND mock_endpoint_id IS NULL`},
		{&stats.ValidationFailures, `SELECT COUNT(*) FROM request_logs WHERE entity_id = ? AND mock_endpoint_id IS NOT NULL AND response_code = 400`},
		{&stats.TotalEndpoints, `SELECT COUNT(*) FROM mock_endpoints WHERE entity_id = ?`},
		{&stats.ActiveEndpoints, `SELECT COUNT(*) FROM mock_endpoints WHERE entity_id = ? AND is_active = 1`},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query, entityID).Scan(c.dst); err != nil {
			return nil, err
		}
	}

	if stats.TotalRequests > 0 {
		stats.MatchRate = float64(stats.MatchedRequests) / float64(stats.TotalRequests) * 100
	}
	return stats, nil
}
