package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/imyashkale/gengar-bark/internal/logger"
	"github.com/imyashkale/gengar-bark/internal/models"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var (
	// ErrNotFound is returned when a record is not found
	ErrNotFound = errors.New("record not found")
	// ErrAlreadyExists is returned when a record already exists
	ErrAlreadyExists = errors.New("record already exists")
	// ErrRevisionMismatch is returned when a conditional write sees a newer revision
	ErrRevisionMismatch = errors.New("revision mismatch")
)

const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const selectColumns = `id, user_id, server_name, transport_type, url, auth_token_ciphertext, enabled,
	capabilities, verification_status, verification_error, revision, created_at, updated_at`

// MCPServerConfigs handles all SQLite operations for MCP server configurations.
// Every statement that targets a single row is scoped by both id and user_id.
type MCPServerConfigs struct {
	db *DB
}

// NewMCPServerConfigs creates a new MCPServerConfigs instance
func NewMCPServerConfigs(db *DB) *MCPServerConfigs {
	return &MCPServerConfigs{db: db}
}

// Create inserts a new configuration
func (s *MCPServerConfigs) Create(ctx context.Context, cfg *models.MCPServerConfig) error {
	caps, err := marshalCapabilities(cfg.Capabilities)
	if err != nil {
		return err
	}

	const query = `INSERT INTO mcp_server_configs (
		id, user_id, server_name, server_name_lower, transport_type, url, auth_token_ciphertext,
		enabled, capabilities, verification_status, verification_error, revision, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = s.db.Writer.ExecContext(ctx, query,
		cfg.Id,
		cfg.UserId,
		cfg.ServerName,
		models.NameKey(cfg.ServerName),
		string(cfg.TransportType),
		cfg.Url,
		nullString(cfg.EncryptedAuthToken),
		cfg.Enabled,
		caps,
		string(cfg.VerificationStatus),
		nullString(cfg.VerificationError),
		cfg.Revision,
		formatTime(cfg.CreatedAt),
		formatTime(cfg.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("failed to create MCP server config: %w", err)
	}

	logger.WithFields(map[string]interface{}{
		"config_id":   cfg.Id,
		"user_id":     cfg.UserId,
		"server_name": cfg.ServerName,
	}).Debug("MCP server config inserted")

	return nil
}

// Get retrieves a configuration by id for its owner
func (s *MCPServerConfigs) Get(ctx context.Context, userId, id string) (*models.MCPServerConfig, error) {
	query := `SELECT ` + selectColumns + ` FROM mcp_server_configs WHERE id = ? AND user_id = ?`
	cfg, err := scanConfig(s.db.Reader.QueryRowContext(ctx, query, id, userId))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get MCP server config: %w", err)
	}
	return cfg, nil
}

// GetByName retrieves a configuration by its case-insensitive name
func (s *MCPServerConfigs) GetByName(ctx context.Context, userId, serverName string) (*models.MCPServerConfig, error) {
	query := `SELECT ` + selectColumns + ` FROM mcp_server_configs WHERE user_id = ? AND server_name_lower = ?`
	cfg, err := scanConfig(s.db.Reader.QueryRowContext(ctx, query, userId, models.NameKey(serverName)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get MCP server config by name: %w", err)
	}
	return cfg, nil
}

// ListByUser returns the user's configurations ordered by name
func (s *MCPServerConfigs) ListByUser(ctx context.Context, userId string) ([]*models.MCPServerConfig, error) {
	query := `SELECT ` + selectColumns + ` FROM mcp_server_configs
		WHERE user_id = ? ORDER BY server_name_lower, id`
	return s.list(ctx, query, userId)
}

// ListEnabledByUser returns the user's enabled configurations ordered by name
func (s *MCPServerConfigs) ListEnabledByUser(ctx context.Context, userId string) ([]*models.MCPServerConfig, error) {
	query := `SELECT ` + selectColumns + ` FROM mcp_server_configs
		WHERE user_id = ? AND enabled = 1 ORDER BY server_name_lower, id`
	return s.list(ctx, query, userId)
}

func (s *MCPServerConfigs) list(ctx context.Context, query string, args ...interface{}) ([]*models.MCPServerConfig, error) {
	rows, err := s.db.Reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list MCP server configs: %w", err)
	}
	defer rows.Close()

	configs := make([]*models.MCPServerConfig, 0)
	for rows.Next() {
		cfg, err := scanConfig(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan MCP server config: %w", err)
		}
		configs = append(configs, cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate MCP server configs: %w", err)
	}
	return configs, nil
}

// Update writes every mutable field and bumps the revision, provided the stored
// revision still equals expectedRevision.
func (s *MCPServerConfigs) Update(ctx context.Context, cfg *models.MCPServerConfig, expectedRevision int64) error {
	caps, err := marshalCapabilities(cfg.Capabilities)
	if err != nil {
		return err
	}

	const query = `UPDATE mcp_server_configs SET
		server_name = ?, server_name_lower = ?, transport_type = ?, url = ?, auth_token_ciphertext = ?,
		capabilities = ?, verification_status = ?, verification_error = ?,
		revision = revision + 1, updated_at = ?
		WHERE id = ? AND user_id = ? AND revision = ?`

	res, err := s.db.Writer.ExecContext(ctx, query,
		cfg.ServerName,
		models.NameKey(cfg.ServerName),
		string(cfg.TransportType),
		cfg.Url,
		nullString(cfg.EncryptedAuthToken),
		caps,
		string(cfg.VerificationStatus),
		nullString(cfg.VerificationError),
		formatTime(cfg.UpdatedAt),
		cfg.Id,
		cfg.UserId,
		expectedRevision,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("failed to update MCP server config: %w", err)
	}

	if err := s.checkAffected(ctx, res, cfg.UserId, cfg.Id); err != nil {
		return err
	}

	cfg.Revision = expectedRevision + 1
	return nil
}

// SetEnabled toggles the enabled flag and reports whether the stored value changed.
func (s *MCPServerConfigs) SetEnabled(ctx context.Context, userId, id string, enabled bool, at time.Time) (bool, error) {
	const query = `UPDATE mcp_server_configs SET enabled = ?, updated_at = ?
		WHERE id = ? AND user_id = ? AND enabled <> ?`

	res, err := s.db.Writer.ExecContext(ctx, query, enabled, formatTime(at), id, userId, enabled)
	if err != nil {
		return false, fmt.Errorf("failed to set enabled on MCP server config: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n > 0 {
		return true, nil
	}

	exists, err := s.exists(ctx, userId, id)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, ErrNotFound
	}
	return false, nil
}

// UpdateVerification records a verification outcome. It only applies when the
// record is still at revision, so results for edited records are discarded.
func (s *MCPServerConfigs) UpdateVerification(ctx context.Context, cfg *models.MCPServerConfig, revision int64) error {
	caps, err := marshalCapabilities(cfg.Capabilities)
	if err != nil {
		return err
	}

	const query = `UPDATE mcp_server_configs SET
		capabilities = ?, verification_status = ?, verification_error = ?, updated_at = ?
		WHERE id = ? AND user_id = ? AND revision = ?`

	res, err := s.db.Writer.ExecContext(ctx, query,
		caps,
		string(cfg.VerificationStatus),
		nullString(cfg.VerificationError),
		formatTime(cfg.UpdatedAt),
		cfg.Id,
		cfg.UserId,
		revision,
	)
	if err != nil {
		return fmt.Errorf("failed to update MCP server verification: %w", err)
	}
	return s.checkAffected(ctx, res, cfg.UserId, cfg.Id)
}

// Delete hard-deletes a configuration
func (s *MCPServerConfigs) Delete(ctx context.Context, userId, id string) error {
	res, err := s.db.Writer.ExecContext(ctx,
		`DELETE FROM mcp_server_configs WHERE id = ? AND user_id = ?`, id, userId)
	if err != nil {
		return fmt.Errorf("failed to delete MCP server config: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// TokenRotation summarises a RotateTokens run.
type TokenRotation struct {
	Rotated int
	Failed  []string
}

// RotateTokens rewrites every stored ciphertext through reencrypt inside one
// transaction. Records reencrypt fails on are reported and left untouched.
func (s *MCPServerConfigs) RotateTokens(ctx context.Context, reencrypt func(ciphertext string) (string, error)) (*TokenRotation, error) {
	tx, err := s.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx,
		`SELECT id, auth_token_ciphertext FROM mcp_server_configs WHERE auth_token_ciphertext IS NOT NULL ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to select tokens: %w", err)
	}

	type tokenRow struct{ id, ciphertext string }
	var pending []tokenRow
	for rows.Next() {
		var r tokenRow
		if err := rows.Scan(&r.id, &r.ciphertext); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan token row: %w", err)
		}
		pending = append(pending, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate token rows: %w", err)
	}

	result := &TokenRotation{}
	for _, r := range pending {
		rotated, err := reencrypt(r.ciphertext)
		if err != nil {
			result.Failed = append(result.Failed, r.id)
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE mcp_server_configs SET auth_token_ciphertext = ? WHERE id = ?`, rotated, r.id); err != nil {
			return nil, fmt.Errorf("failed to update token for %s: %w", r.id, err)
		}
		result.Rotated++
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit token rotation: %w", err)
	}
	return result, nil
}

// checkAffected maps a zero-row conditional update onto ErrNotFound or
// ErrRevisionMismatch.
func (s *MCPServerConfigs) checkAffected(ctx context.Context, res sql.Result, userId, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}

	exists, err := s.exists(ctx, userId, id)
	if err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return ErrRevisionMismatch
}

func (s *MCPServerConfigs) exists(ctx context.Context, userId, id string) (bool, error) {
	var one int
	err := s.db.Writer.QueryRowContext(ctx,
		`SELECT 1 FROM mcp_server_configs WHERE id = ? AND user_id = ?`, id, userId).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check MCP server config existence: %w", err)
	}
	return true, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanConfig(row rowScanner) (*models.MCPServerConfig, error) {
	var (
		cfg                          models.MCPServerConfig
		transportType, status        string
		token, caps, verificationErr sql.NullString
		createdAt, updatedAt         string
	)

	err := row.Scan(
		&cfg.Id,
		&cfg.UserId,
		&cfg.ServerName,
		&transportType,
		&cfg.Url,
		&token,
		&cfg.Enabled,
		&caps,
		&status,
		&verificationErr,
		&cfg.Revision,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	cfg.TransportType = models.TransportType(transportType)
	cfg.VerificationStatus = models.VerificationStatus(status)
	cfg.EncryptedAuthToken = token.String
	cfg.VerificationError = verificationErr.String

	if caps.Valid && caps.String != "" {
		if err := json.Unmarshal([]byte(caps.String), &cfg.Capabilities); err != nil {
			return nil, fmt.Errorf("decode capabilities: %w", err)
		}
	}

	if cfg.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if cfg.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}

	return &cfg, nil
}

func marshalCapabilities(caps map[string]interface{}) (sql.NullString, error) {
	if caps == nil {
		return sql.NullString{}, nil
	}
	raw, err := json.Marshal(caps)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encode capabilities: %w", err)
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(timeLayout)
}

// parseTime accepts the formats written by this package and by SQLite's strftime.
func parseTime(s string) (time.Time, error) {
	formats := []string{
		timeLayout,
		time.RFC3339Nano,
		"2006-01-02T15:04:05.000Z",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
	}

	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return t.UTC(), nil
		}
	}

	return time.Time{}, fmt.Errorf("unrecognised time format %q", s)
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE || se.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}
