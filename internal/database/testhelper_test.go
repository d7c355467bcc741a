package database

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/imyashkale/gengar-bark/internal/models"
)

// setupTestDB creates a migrated shared in-memory database unique to the test.
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := NewMemoryDB(t.Name())
	if err != nil {
		t.Fatalf("create test db: %v", err)
	}

	if err := RunMigrations(db.Writer); err != nil {
		_ = db.Close()
		t.Fatalf("run migrations: %v", err)
	}

	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newTestConfig(userId, name string) *models.MCPServerConfig {
	now := time.Now().UTC()
	return &models.MCPServerConfig{
		Id:                 uuid.New().String(),
		UserId:             userId,
		ServerName:         name,
		TransportType:      models.TransportSSE,
		Url:                "https://api.example.com/" + name,
		Enabled:            true,
		VerificationStatus: models.VerificationUnverified,
		Revision:           1,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}
