package main

import (
	"fmt"
	"net"

	"github.com/imyashkale/gengar-bark/internal/config"
	"github.com/imyashkale/gengar-bark/internal/database"
	"github.com/imyashkale/gengar-bark/internal/logger"
	"github.com/imyashkale/gengar-bark/internal/repository"
	"github.com/imyashkale/gengar-bark/internal/services"
)

// session is an opened, migrated store. Close releases the database.
type session struct {
	cfg   *config.Config
	db    *database.DB
	codec *services.SecretCodec
	store *services.MCPConfigService
}

func (s *session) Close() error {
	return s.db.Close()
}

func openSession(opts *rootOptions) (*session, error) {
	cfg, err := config.LoadAdmin()
	if err != nil {
		return nil, err
	}
	if opts.dbPath != "" {
		cfg.DatabasePath = opts.dbPath
	}
	if opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
	}
	logger.Init(cfg.LogLevel)

	db, err := database.NewDB(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := database.RunMigrations(db.Writer); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	codec, err := services.NewSecretCodec(cfg.EncryptionKey)
	if err != nil {
		db.Close()
		return nil, err
	}

	store := services.NewMCPConfigService(
		repository.NewMCPConfigRepository(database.NewMCPServerConfigs(db)),
		codec,
		services.NewURLValidator(net.DefaultResolver, cfg.DNSTimeout),
		services.NewConnectivityVerifier(cfg.VerifyTimeout),
		repository.NewLogAuditSink(),
	)

	return &session{cfg: cfg, db: db, codec: codec, store: store}, nil
}
