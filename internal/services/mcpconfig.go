package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/imyashkale/gengar-bark/internal/logger"
	"github.com/imyashkale/gengar-bark/internal/models"
	"github.com/imyashkale/gengar-bark/internal/repository"
)

const (
	MaxServerNameLength = 64
	MaxURLLength        = 2048
	MaxAuthTokenLength  = 4096

	// updateAttempts bounds read-modify-write retries for updates without an
	// expected revision.
	updateAttempts = 3
)

var serverNamePattern = regexp.MustCompile(`^[\p{L}\p{N}][\p{L}\p{N} _.\-]*$`)

// Verifier performs a live handshake against an MCP server.
type Verifier interface {
	Verify(ctx context.Context, in models.VerifyInput) models.VerificationResult
}

// URLChecker classifies candidate server URLs.
type URLChecker interface {
	Validate(ctx context.Context, rawURL string) models.URLCheck
}

// TokenCodec encrypts and decrypts auth tokens.
type TokenCodec interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// MCPConfigService owns per-user MCP server configurations. Every mutating
// call writes exactly one audit entry, whatever its outcome.
type MCPConfigService struct {
	repo     repository.MCPConfigRepository
	codec    TokenCodec
	urls     URLChecker
	verifier Verifier
	audit    repository.AuditSink
	now      func() time.Time
	newID    func() string
}

// NewMCPConfigService creates a new MCPConfigService instance
func NewMCPConfigService(
	repo repository.MCPConfigRepository,
	codec TokenCodec,
	urls URLChecker,
	verifier Verifier,
	audit repository.AuditSink,
) *MCPConfigService {
	return &MCPConfigService{
		repo:     repo,
		codec:    codec,
		urls:     urls,
		verifier: verifier,
		audit:    audit,
		now:      func() time.Time { return time.Now().UTC() },
		newID:    func() string { return uuid.New().String() },
	}
}

// CreateConfiguration validates and stores a new configuration. It is enabled
// and unverified on creation.
func (s *MCPConfigService) CreateConfiguration(ctx context.Context, userId string, in models.CreateMCPConfigInput) (result *models.RedactedMCPServerConfig, err error) {
	name := strings.TrimSpace(in.ServerName)
	entry := s.startAudit(models.AuditCreate, userId, "", name)
	defer func() { s.recordAudit(ctx, entry, err) }()

	if err := validateUserId(userId); err != nil {
		return nil, err
	}
	if err := validateServerName(name); err != nil {
		return nil, err
	}
	transportType, err := parseTransport(in.TransportType)
	if err != nil {
		return nil, err
	}
	rawURL, err := validateURLSyntax(in.Url)
	if err != nil {
		return nil, err
	}
	if err := validateAuthToken(in.AuthToken); err != nil {
		return nil, err
	}
	entry.Metadata = map[string]interface{}{"transport_type": string(transportType)}
	if in.Template != "" {
		entry.Metadata["template"] = in.Template
	}

	if err := s.checkURL(ctx, userId, rawURL); err != nil {
		return nil, err
	}

	if _, err := s.repo.GetByName(ctx, userId, name); err == nil {
		return nil, ErrDuplicateServerName
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("failed to check server name: %w", err)
	}

	var ciphertext string
	if in.AuthToken != "" {
		if ciphertext, err = s.codec.Encrypt(in.AuthToken); err != nil {
			return nil, err
		}
	}

	now := s.now()
	cfg := &models.MCPServerConfig{
		Id:                 s.newID(),
		UserId:             userId,
		ServerName:         name,
		TransportType:      transportType,
		Url:                rawURL,
		EncryptedAuthToken: ciphertext,
		Enabled:            true,
		VerificationStatus: models.VerificationUnverified,
		Revision:           1,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	entry.ConfigurationId = cfg.Id

	if err := s.repo.Create(ctx, cfg); err != nil {
		return nil, mapRepoError(err)
	}

	logger.WithFields(map[string]interface{}{
		"user_id":     userId,
		"config_id":   cfg.Id,
		"server_name": cfg.ServerName,
	}).Info("MCP server configuration created")

	return cfg.Redacted(), nil
}

// ListConfigurations returns the user's configurations ordered by name.
func (s *MCPConfigService) ListConfigurations(ctx context.Context, userId string) ([]*models.RedactedMCPServerConfig, error) {
	configs, err := s.repo.ListByUser(ctx, userId)
	if err != nil {
		return nil, mapRepoError(err)
	}

	out := make([]*models.RedactedMCPServerConfig, 0, len(configs))
	for _, cfg := range configs {
		out = append(out, cfg.Redacted())
	}
	return out, nil
}

// GetConfiguration returns the configuration when userId owns it, ErrNotFound otherwise.
func (s *MCPConfigService) GetConfiguration(ctx context.Context, userId, id string) (*models.RedactedMCPServerConfig, error) {
	cfg, err := s.repo.Get(ctx, userId, id)
	if err != nil {
		return nil, mapRepoError(err)
	}
	return cfg.Redacted(), nil
}

// GetConfigurationByName looks a configuration up by its case-insensitive name.
func (s *MCPConfigService) GetConfigurationByName(ctx context.Context, userId, serverName string) (*models.RedactedMCPServerConfig, error) {
	cfg, err := s.repo.GetByName(ctx, userId, serverName)
	if err != nil {
		return nil, mapRepoError(err)
	}
	return cfg.Redacted(), nil
}

// GetConfigurationForEdit returns the configuration with the placeholder in
// place of a stored token.
func (s *MCPConfigService) GetConfigurationForEdit(ctx context.Context, userId, id string) (*models.MCPServerEditView, error) {
	cfg, err := s.GetConfiguration(ctx, userId, id)
	if err != nil {
		return nil, err
	}

	view := &models.MCPServerEditView{RedactedMCPServerConfig: cfg}
	if cfg.TokenStored {
		view.AuthToken = models.AuthTokenPlaceholder
	}
	return view, nil
}

// UpdateConfiguration applies patch. Changing url, transport or token resets
// verification. Without an expected revision concurrent writers race and the
// last one wins; with one a stale revision fails with ErrConflict.
func (s *MCPConfigService) UpdateConfiguration(ctx context.Context, userId, id string, patch models.MCPConfigPatch) (result *models.RedactedMCPServerConfig, err error) {
	entry := s.startAudit(models.AuditUpdate, userId, id, "")
	defer func() { s.recordAudit(ctx, entry, err) }()

	if err := validateUserId(userId); err != nil {
		return nil, err
	}
	if err := validatePatch(&patch); err != nil {
		return nil, err
	}

	checkedURL := ""
	for attempt := 1; ; attempt++ {
		current, err := s.repo.Get(ctx, userId, id)
		if err != nil {
			return nil, mapRepoError(err)
		}
		entry.ServerName = current.ServerName

		if patch.ExpectedRevision != nil && *patch.ExpectedRevision != current.Revision {
			return nil, ErrConflict
		}

		updated, changes, err := s.applyPatch(current, patch)
		if err != nil {
			return nil, err
		}
		entry.ServerName = updated.ServerName
		entry.Metadata = map[string]interface{}{"changed_fields": changes}

		if len(changes) == 0 {
			return current.Redacted(), nil
		}

		if updated.Url != current.Url && updated.Url != checkedURL {
			if err := s.checkURL(ctx, userId, updated.Url); err != nil {
				return nil, err
			}
			checkedURL = updated.Url
		}

		if models.NameKey(updated.ServerName) != models.NameKey(current.ServerName) {
			other, err := s.repo.GetByName(ctx, userId, updated.ServerName)
			if err == nil && other.Id != current.Id {
				return nil, ErrDuplicateServerName
			}
			if err != nil && !errors.Is(err, repository.ErrNotFound) {
				return nil, fmt.Errorf("failed to check server name: %w", err)
			}
		}

		err = s.repo.Update(ctx, updated, current.Revision)
		if errors.Is(err, repository.ErrRevisionMismatch) {
			if patch.ExpectedRevision != nil {
				return nil, ErrConflict
			}
			if attempt < updateAttempts {
				continue
			}
			return nil, ErrConflict
		}
		if err != nil {
			return nil, mapRepoError(err)
		}

		logger.WithFields(map[string]interface{}{
			"user_id":        userId,
			"config_id":      id,
			"changed_fields": changes,
			"revision":       updated.Revision,
		}).Info("MCP server configuration updated")

		return updated.Redacted(), nil
	}
}

// applyPatch returns a copy of current with patch applied and the names of the
// fields that actually changed.
func (s *MCPConfigService) applyPatch(current *models.MCPServerConfig, patch models.MCPConfigPatch) (*models.MCPServerConfig, []string, error) {
	updated := *current
	changes := []string{}
	connectivityChanged := false

	if patch.ServerName != nil {
		name := strings.TrimSpace(*patch.ServerName)
		if name != current.ServerName {
			updated.ServerName = name
			changes = append(changes, "server_name")
		}
	}

	if patch.TransportType != nil && *patch.TransportType != current.TransportType {
		updated.TransportType = *patch.TransportType
		changes = append(changes, "transport_type")
		connectivityChanged = true
	}

	if patch.Url != nil {
		u := strings.TrimSpace(*patch.Url)
		if u != current.Url {
			updated.Url = u
			changes = append(changes, "url")
			connectivityChanged = true
		}
	}

	if patch.AuthToken != nil && *patch.AuthToken != models.AuthTokenPlaceholder {
		token := *patch.AuthToken
		switch {
		case token == "" && current.HasAuthToken():
			updated.EncryptedAuthToken = ""
			changes = append(changes, "auth_token")
			connectivityChanged = true
		case token != "" && !s.sameToken(current, token):
			ciphertext, err := s.codec.Encrypt(token)
			if err != nil {
				return nil, nil, err
			}
			updated.EncryptedAuthToken = ciphertext
			changes = append(changes, "auth_token")
			connectivityChanged = true
		}
	}

	if connectivityChanged {
		updated.VerificationStatus = models.VerificationUnverified
		updated.VerificationError = ""
		updated.Capabilities = nil
	}
	updated.UpdatedAt = s.now()

	return &updated, changes, nil
}

func (s *MCPConfigService) sameToken(cfg *models.MCPServerConfig, token string) bool {
	if !cfg.HasAuthToken() {
		return false
	}
	plaintext, err := s.codec.Decrypt(cfg.EncryptedAuthToken)
	return err == nil && plaintext == token
}

// EnableConfiguration sets enabled. Enabling an enabled configuration succeeds
// and reports changed=false.
func (s *MCPConfigService) EnableConfiguration(ctx context.Context, userId, id string) (bool, error) {
	return s.setEnabled(ctx, userId, id, true)
}

// DisableConfiguration clears enabled. It is idempotent like EnableConfiguration.
func (s *MCPConfigService) DisableConfiguration(ctx context.Context, userId, id string) (bool, error) {
	return s.setEnabled(ctx, userId, id, false)
}

func (s *MCPConfigService) setEnabled(ctx context.Context, userId, id string, enabled bool) (changed bool, err error) {
	op := models.AuditDisable
	if enabled {
		op = models.AuditEnable
	}
	entry := s.startAudit(op, userId, id, "")
	defer func() { s.recordAudit(ctx, entry, err) }()

	changed, err = s.repo.SetEnabled(ctx, userId, id, enabled, s.now())
	if err != nil {
		return false, mapRepoError(err)
	}
	entry.Metadata = map[string]interface{}{"changed": changed}

	if cfg, getErr := s.repo.Get(ctx, userId, id); getErr == nil {
		entry.ServerName = cfg.ServerName
	}
	return changed, nil
}

// DeleteConfiguration hard-deletes the configuration.
func (s *MCPConfigService) DeleteConfiguration(ctx context.Context, userId, id string) (err error) {
	entry := s.startAudit(models.AuditDelete, userId, id, "")
	defer func() { s.recordAudit(ctx, entry, err) }()

	cfg, err := s.repo.Get(ctx, userId, id)
	if err != nil {
		return mapRepoError(err)
	}
	entry.ServerName = cfg.ServerName

	if err := s.repo.Delete(ctx, userId, id); err != nil {
		return mapRepoError(err)
	}

	logger.WithFields(map[string]interface{}{
		"user_id":     userId,
		"config_id":   id,
		"server_name": cfg.ServerName,
	}).Info("MCP server configuration deleted")

	return nil
}

// VerifyConnection checks live field values without touching storage, so a
// form can be tested before it is saved. The URL is checked first.
func (s *MCPConfigService) VerifyConnection(ctx context.Context, userId string, in models.VerifyInput) (models.VerificationResult, error) {
	transportType, err := parseTransport(in.TransportType)
	if err != nil {
		return models.VerificationResult{}, err
	}
	rawURL, err := validateURLSyntax(in.Url)
	if err != nil {
		return models.VerificationResult{}, err
	}
	if in.AuthToken == models.AuthTokenPlaceholder {
		return models.VerificationResult{}, &ValidationError{Field: "auth_token", Reason: "enter the token to test it"}
	}
	if err := s.checkURL(ctx, userId, rawURL); err != nil {
		return models.VerificationResult{}, err
	}

	in.TransportType = transportType
	in.Url = rawURL
	in.ServerName = strings.TrimSpace(in.ServerName)
	return s.verifier.Verify(ctx, in), nil
}

// VerifyStoredConfiguration verifies a stored configuration and writes the
// outcome back unless the record was edited in the meantime.
func (s *MCPConfigService) VerifyStoredConfiguration(ctx context.Context, userId, id string) (result *models.RedactedMCPServerConfig, vr models.VerificationResult, err error) {
	entry := s.startAudit(models.AuditVerify, userId, id, "")
	defer func() { s.recordAudit(ctx, entry, err) }()

	cfg, err := s.repo.Get(ctx, userId, id)
	if err != nil {
		return nil, vr, mapRepoError(err)
	}
	entry.ServerName = cfg.ServerName

	in := models.VerifyInput{
		ServerName:    cfg.ServerName,
		TransportType: cfg.TransportType,
		Url:           cfg.Url,
	}
	if cfg.HasAuthToken() {
		token, decErr := s.codec.Decrypt(cfg.EncryptedAuthToken)
		if decErr != nil {
			logger.WithFields(map[string]interface{}{
				"user_id":   userId,
				"config_id": id,
				"error":     decErr.Error(),
			}).Warn("Stored auth token unavailable, verifying without it")
			entry.Metadata = map[string]interface{}{"token_unavailable": true}
		}
		in.AuthToken = token
	}

	if check := s.urls.Validate(ctx, cfg.Url); !check.Safe {
		s.recordSecurityEvent(ctx, userId, cfg.Url, check.Reason)
		vr = models.VerificationResult{Error: "URL is not allowed: " + check.Reason}
	} else {
		vr = s.verifier.Verify(ctx, in)
	}

	updated, applied, err := s.writeVerification(ctx, cfg, cfg.Revision, vr)
	if err != nil {
		return nil, vr, err
	}
	if entry.Metadata == nil {
		entry.Metadata = map[string]interface{}{}
	}
	entry.Metadata["verified"] = vr.Success
	entry.Metadata["applied"] = applied
	if vr.Error != "" {
		entry.Metadata["verification_error"] = vr.Error
	}

	return updated, vr, nil
}

// RecordVerificationResult writes the outcome of a VerifyConnection call for a
// stored configuration, provided it is still at revision.
func (s *MCPConfigService) RecordVerificationResult(ctx context.Context, userId, id string, revision int64, vr models.VerificationResult) (result *models.RedactedMCPServerConfig, err error) {
	entry := s.startAudit(models.AuditVerify, userId, id, "")
	defer func() { s.recordAudit(ctx, entry, err) }()

	cfg, err := s.repo.Get(ctx, userId, id)
	if err != nil {
		return nil, mapRepoError(err)
	}
	entry.ServerName = cfg.ServerName

	updated, applied, err := s.writeVerification(ctx, cfg, revision, vr)
	if err != nil {
		return nil, err
	}
	entry.Metadata = map[string]interface{}{"verified": vr.Success, "applied": applied}
	return updated, nil
}

// writeVerification moves the state machine: success to verified, failure to
// failed. A result for an outdated revision is discarded and the current
// record returned.
func (s *MCPConfigService) writeVerification(ctx context.Context, cfg *models.MCPServerConfig, revision int64, vr models.VerificationResult) (*models.RedactedMCPServerConfig, bool, error) {
	updated := *cfg
	if vr.Success {
		updated.VerificationStatus = models.VerificationVerified
		updated.VerificationError = ""
		updated.Capabilities = vr.Capabilities
	} else {
		updated.VerificationStatus = models.VerificationFailed
		updated.VerificationError = vr.Error
		if updated.VerificationError == "" {
			updated.VerificationError = "verification failed"
		}
	}
	updated.UpdatedAt = s.now()

	err := s.repo.UpdateVerification(ctx, &updated, revision)
	if errors.Is(err, repository.ErrRevisionMismatch) {
		logger.WithFields(map[string]interface{}{
			"user_id":   cfg.UserId,
			"config_id": cfg.Id,
			"revision":  revision,
		}).Info("Configuration changed during verification, result discarded")

		latest, getErr := s.repo.Get(ctx, cfg.UserId, cfg.Id)
		if getErr != nil {
			return nil, false, mapRepoError(getErr)
		}
		return latest.Redacted(), false, nil
	}
	if err != nil {
		return nil, false, mapRepoError(err)
	}
	return updated.Redacted(), true, nil
}

// ResolveActiveServers returns the user's enabled servers with their tokens
// decrypted for transport use. Servers whose token cannot be decrypted are skipped.
func (s *MCPConfigService) ResolveActiveServers(ctx context.Context, userId string) ([]models.ActiveServer, error) {
	configs, err := s.repo.ListEnabledByUser(ctx, userId)
	if err != nil {
		return nil, mapRepoError(err)
	}

	active := make([]models.ActiveServer, 0, len(configs))
	for _, cfg := range configs {
		server := models.ActiveServer{
			Id:            cfg.Id,
			ServerName:    cfg.ServerName,
			TransportType: cfg.TransportType,
			Url:           cfg.Url,
		}
		if cfg.HasAuthToken() {
			token, err := s.codec.Decrypt(cfg.EncryptedAuthToken)
			if err != nil {
				logger.WithFields(map[string]interface{}{
					"user_id":   userId,
					"config_id": cfg.Id,
					"error":     err.Error(),
				}).Warn("Skipping active server with undecryptable token")
				continue
			}
			server.AuthToken = token
		}
		active = append(active, server)
	}
	return active, nil
}

// RotateEncryptionKey re-encrypts every stored token from the current key to
// next. Tokens that fail to decrypt are left untouched and reported.
func (s *MCPConfigService) RotateEncryptionKey(ctx context.Context, operator string, next TokenCodec) (result *repository.TokenRotation, err error) {
	entry := s.startAudit(models.AuditRotate, operator, "", "")
	defer func() { s.recordAudit(ctx, entry, err) }()

	result, err = s.repo.RotateTokens(ctx, func(ciphertext string) (string, error) {
		plaintext, err := s.codec.Decrypt(ciphertext)
		if err != nil {
			return "", err
		}
		return next.Encrypt(plaintext)
	})
	if err != nil {
		return nil, err
	}
	entry.Metadata = map[string]interface{}{"rotated": result.Rotated, "failed": len(result.Failed)}
	return result, nil
}

// checkURL runs the SSRF policy and records a security event on rejection.
func (s *MCPConfigService) checkURL(ctx context.Context, userId, rawURL string) error {
	check := s.urls.Validate(ctx, rawURL)
	if check.Safe {
		return nil
	}
	s.recordSecurityEvent(ctx, userId, rawURL, check.Reason)
	return &UnsafeURLError{URL: RedactURL(rawURL), Reason: check.Reason}
}

func (s *MCPConfigService) recordSecurityEvent(ctx context.Context, userId, rawURL, reason string) {
	event := &models.SecurityEvent{
		Id:        s.newID(),
		Timestamp: s.now(),
		UserId:    userId,
		Url:       RedactURL(rawURL),
		Reason:    reason,
	}
	if err := s.audit.RecordSecurityEvent(context.WithoutCancel(ctx), event); err != nil {
		logger.WithError(err).Error("Failed to record security event")
	}
}

func (s *MCPConfigService) startAudit(op models.AuditOperation, userId, configId, serverName string) *models.AuditEntry {
	return &models.AuditEntry{
		Id:              s.newID(),
		Timestamp:       s.now(),
		UserId:          userId,
		Operation:       op,
		ConfigurationId: configId,
		ServerName:      serverName,
	}
}

func (s *MCPConfigService) recordAudit(ctx context.Context, entry *models.AuditEntry, err error) {
	entry.Success = err == nil
	if err != nil {
		entry.Error = err.Error()
	}
	if auditErr := s.audit.RecordOperation(context.WithoutCancel(ctx), entry); auditErr != nil {
		logger.WithFields(map[string]interface{}{
			"audit_id":  entry.Id,
			"operation": string(entry.Operation),
			"error":     auditErr.Error(),
		}).Error("Failed to record audit entry")
	}
}

func mapRepoError(err error) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, repository.ErrAlreadyExists):
		return ErrDuplicateServerName
	case errors.Is(err, repository.ErrRevisionMismatch):
		return ErrConflict
	}
	return err
}

func validateUserId(userId string) error {
	if strings.TrimSpace(userId) == "" {
		return &ValidationError{Field: "user_id", Reason: "is required"}
	}
	return nil
}

func validateServerName(name string) error {
	switch {
	case name == "":
		return &ValidationError{Field: "server_name", Reason: "is required"}
	case utf8.RuneCountInString(name) > MaxServerNameLength:
		return &ValidationError{Field: "server_name", Reason: fmt.Sprintf("must be at most %d characters", MaxServerNameLength)}
	case !serverNamePattern.MatchString(name):
		return &ValidationError{Field: "server_name", Reason: "may contain only letters, digits, spaces, '.', '_' and '-'"}
	case strings.Contains(name, "  "):
		return &ValidationError{Field: "server_name", Reason: "must not contain consecutive spaces"}
	}
	return nil
}

func parseTransport(t models.TransportType) (models.TransportType, error) {
	parsed, err := models.ParseTransportType(string(t))
	if err != nil {
		return "", &ValidationError{Field: "transport_type", Reason: fmt.Sprintf("must be one of sse, websocket, streamablehttp (got %q)", t)}
	}
	return parsed, nil
}

// validateURLSyntax rejects malformed URLs before the SSRF policy runs.
func validateURLSyntax(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	switch {
	case raw == "":
		return "", &ValidationError{Field: "url", Reason: "is required"}
	case len(raw) > MaxURLLength:
		return "", &ValidationError{Field: "url", Reason: fmt.Sprintf("must be at most %d characters", MaxURLLength)}
	}

	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return "", &ValidationError{Field: "url", Reason: "must be an absolute http or https URL"}
	}
	return raw, nil
}

func validateAuthToken(token string) error {
	if len(token) > MaxAuthTokenLength {
		return &ValidationError{Field: "auth_token", Reason: fmt.Sprintf("must be at most %d characters", MaxAuthTokenLength)}
	}
	if token == models.AuthTokenPlaceholder {
		return &ValidationError{Field: "auth_token", Reason: "is not a valid token"}
	}
	return nil
}

func validatePatch(patch *models.MCPConfigPatch) error {
	if patch.ServerName != nil {
		if err := validateServerName(strings.TrimSpace(*patch.ServerName)); err != nil {
			return err
		}
	}
	if patch.TransportType != nil {
		parsed, err := parseTransport(*patch.TransportType)
		if err != nil {
			return err
		}
		patch.TransportType = &parsed
	}
	if patch.Url != nil {
		u, err := validateURLSyntax(*patch.Url)
		if err != nil {
			return err
		}
		patch.Url = &u
	}
	if patch.AuthToken != nil && *patch.AuthToken != models.AuthTokenPlaceholder {
		if err := validateAuthToken(*patch.AuthToken); err != nil {
			return err
		}
	}
	return nil
}
