package repository

import (
	"context"
	"time"

	"github.com/imyashkale/gengar-bark/internal/database"
	"github.com/imyashkale/gengar-bark/internal/models"
)

// Re-export errors from database package so services import only the repository
var (
	ErrNotFound         = database.ErrNotFound
	ErrAlreadyExists    = database.ErrAlreadyExists
	ErrRevisionMismatch = database.ErrRevisionMismatch
)

// TokenRotation is re-exported for the admin CLI
type TokenRotation = database.TokenRotation

// MCPConfigRepository defines the persistence operations for MCP server configurations.
// Single-record operations are scoped to the owning user.
type MCPConfigRepository interface {
	Create(ctx context.Context, cfg *models.MCPServerConfig) error
	Get(ctx context.Context, userId, id string) (*models.MCPServerConfig, error)
	GetByName(ctx context.Context, userId, serverName string) (*models.MCPServerConfig, error)
	ListByUser(ctx context.Context, userId string) ([]*models.MCPServerConfig, error)
	ListEnabledByUser(ctx context.Context, userId string) ([]*models.MCPServerConfig, error)
	Update(ctx context.Context, cfg *models.MCPServerConfig, expectedRevision int64) error
	SetEnabled(ctx context.Context, userId, id string, enabled bool, at time.Time) (bool, error)
	UpdateVerification(ctx context.Context, cfg *models.MCPServerConfig, revision int64) error
	Delete(ctx context.Context, userId, id string) error
	RotateTokens(ctx context.Context, reencrypt func(ciphertext string) (string, error)) (*TokenRotation, error)
}

// sqliteMCPConfigRepository implements MCPConfigRepository using SQLite
type sqliteMCPConfigRepository struct {
	db *database.MCPServerConfigs
}

// NewMCPConfigRepository creates a new SQLite-backed MCP configuration repository
func NewMCPConfigRepository(db *database.MCPServerConfigs) MCPConfigRepository {
	return &sqliteMCPConfigRepository{db: db}
}

func (r *sqliteMCPConfigRepository) Create(ctx context.Context, cfg *models.MCPServerConfig) error {
	return r.db.Create(ctx, cfg)
}

func (r *sqliteMCPConfigRepository) Get(ctx context.Context, userId, id string) (*models.MCPServerConfig, error) {
	return r.db.Get(ctx, userId, id)
}

func (r *sqliteMCPConfigRepository) GetByName(ctx context.Context, userId, serverName string) (*models.MCPServerConfig, error) {
	return r.db.GetByName(ctx, userId, serverName)
}

func (r *sqliteMCPConfigRepository) ListByUser(ctx context.Context, userId string) ([]*models.MCPServerConfig, error) {
	return r.db.ListByUser(ctx, userId)
}

func (r *sqliteMCPConfigRepository) ListEnabledByUser(ctx context.Context, userId string) ([]*models.MCPServerConfig, error) {
	return r.db.ListEnabledByUser(ctx, userId)
}

func (r *sqliteMCPConfigRepository) Update(ctx context.Context, cfg *models.MCPServerConfig, expectedRevision int64) error {
	return r.db.Update(ctx, cfg, expectedRevision)
}

func (r *sqliteMCPConfigRepository) SetEnabled(ctx context.Context, userId, id string, enabled bool, at time.Time) (bool, error) {
	return r.db.SetEnabled(ctx, userId, id, enabled, at)
}

func (r *sqliteMCPConfigRepository) UpdateVerification(ctx context.Context, cfg *models.MCPServerConfig, revision int64) error {
	return r.db.UpdateVerification(ctx, cfg, revision)
}

func (r *sqliteMCPConfigRepository) Delete(ctx context.Context, userId, id string) error {
	return r.db.Delete(ctx, userId, id)
}

func (r *sqliteMCPConfigRepository) RotateTokens(ctx context.Context, reencrypt func(ciphertext string) (string, error)) (*TokenRotation, error) {
	return r.db.RotateTokens(ctx, reencrypt)
}
