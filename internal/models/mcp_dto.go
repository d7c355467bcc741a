package models

import "time"

// CreateMCPServerRequest represents the request body for creating a new MCP server configuration
type CreateMCPServerRequest struct {
	ServerName    string `json:"server_name" binding:"required"`
	TransportType string `json:"transport_type" binding:"required"`
	Url           string `json:"url" binding:"required"`
	AuthToken     string `json:"auth_token"`
}

// ToInput converts the request DTO into a store input
func (req *CreateMCPServerRequest) ToInput() CreateMCPConfigInput {
	return CreateMCPConfigInput{
		ServerName:    req.ServerName,
		TransportType: TransportType(req.TransportType),
		Url:           req.Url,
		AuthToken:     req.AuthToken,
	}
}

// UpdateMCPServerRequest represents a partial update. Absent fields are left unchanged.
type UpdateMCPServerRequest struct {
	ServerName       *string `json:"server_name"`
	TransportType    *string `json:"transport_type"`
	Url              *string `json:"url"`
	AuthToken        *string `json:"auth_token"`
	ExpectedRevision *int64  `json:"expected_revision"`
}

// ToPatch converts the request DTO into a store patch
func (req *UpdateMCPServerRequest) ToPatch() MCPConfigPatch {
	patch := MCPConfigPatch{
		ServerName:       req.ServerName,
		Url:              req.Url,
		AuthToken:        req.AuthToken,
		ExpectedRevision: req.ExpectedRevision,
	}
	if req.TransportType != nil {
		tt := TransportType(*req.TransportType)
		patch.TransportType = &tt
	}
	return patch
}

// VerifyMCPServerRequest is the body of the test-before-save endpoint
type VerifyMCPServerRequest struct {
	ServerName    string `json:"server_name"`
	TransportType string `json:"transport_type" binding:"required"`
	Url           string `json:"url" binding:"required"`
	AuthToken     string `json:"auth_token"`
}

// CreateMCPConfigInput carries user input for a new configuration.
type CreateMCPConfigInput struct {
	ServerName    string
	TransportType TransportType
	Url           string
	AuthToken     string
	Template      string // catalog entry the form was prefilled from, if any
}

// MCPConfigPatch carries the fields to change. Nil means unchanged. An
// AuthToken equal to AuthTokenPlaceholder is also treated as unchanged and an
// empty AuthToken clears the stored token.
type MCPConfigPatch struct {
	ServerName       *string
	TransportType    *TransportType
	Url              *string
	AuthToken        *string
	ExpectedRevision *int64
}

// Empty reports whether the patch changes nothing.
func (p MCPConfigPatch) Empty() bool {
	return p.ServerName == nil && p.TransportType == nil && p.Url == nil && p.AuthToken == nil
}

// VerifyInput is the tuple handed to the connectivity verifier. AuthToken is plaintext
// and lives only for the duration of the check.
type VerifyInput struct {
	ServerName    string
	TransportType TransportType
	Url           string
	AuthToken     string
}

// VerificationResult is the outcome of a live handshake.
type VerificationResult struct {
	Success      bool                   `json:"success"`
	Capabilities map[string]interface{} `json:"capabilities,omitempty"`
	Error        string                 `json:"error,omitempty"`
	Duration     time.Duration          `json:"-"`
}

// URLCheck is the verdict of the URL safety validator.
type URLCheck struct {
	Safe   bool
	Reason string
}

// ActiveServer is an enabled configuration with its token decrypted for transport use.
type ActiveServer struct {
	Id            string
	ServerName    string
	TransportType TransportType
	Url           string
	AuthToken     string
}

// MCPServerEditView is a redacted configuration prepared for an edit form.
// AuthToken holds AuthTokenPlaceholder when a token is stored, never the token.
type MCPServerEditView struct {
	*RedactedMCPServerConfig
	AuthToken string
}

// MCPServerResponse represents the response structure for a single MCP server configuration
type MCPServerResponse struct {
	Id                 string                 `json:"id"`
	UserId             string                 `json:"user_id"`
	ServerName         string                 `json:"server_name"`
	TransportType      string                 `json:"transport_type"`
	Url                string                 `json:"url"`
	AuthToken          string                 `json:"auth_token,omitempty"`
	HasAuthToken       bool                   `json:"has_auth_token"`
	Enabled            bool                   `json:"enabled"`
	Capabilities       map[string]interface{} `json:"capabilities,omitempty"`
	VerificationStatus string                 `json:"verification_status"`
	VerificationError  string                 `json:"verification_error,omitempty"`
	Revision           int64                  `json:"revision"`
	CreatedAt          time.Time              `json:"created_at"`
	UpdatedAt          time.Time              `json:"updated_at"`
}

// MCPServerListResponse represents the response structure for listing MCP server configurations
type MCPServerListResponse struct {
	Servers []MCPServerResponse `json:"servers"`
	Total   int                 `json:"total"`
}

// ToResponse converts a redacted configuration to its response DTO. The token is
// never included; edit views substitute the placeholder.
func (r *RedactedMCPServerConfig) ToResponse() MCPServerResponse {
	return MCPServerResponse{
		Id:                 r.Id,
		UserId:             r.UserId,
		ServerName:         r.ServerName,
		TransportType:      string(r.TransportType),
		Url:                r.Url,
		HasAuthToken:       r.TokenStored,
		Enabled:            r.Enabled,
		Capabilities:       r.Capabilities,
		VerificationStatus: string(r.VerificationStatus),
		VerificationError:  r.VerificationError,
		Revision:           r.Revision,
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
	}
}

// ToEditResponse is ToResponse with the token placeholder filled in.
func (r *RedactedMCPServerConfig) ToEditResponse() MCPServerResponse {
	resp := r.ToResponse()
	if r.TokenStored {
		resp.AuthToken = AuthTokenPlaceholder
	}
	return resp
}

// ConfigSnapshotVersion is the schema version carried in cache tokens.
const ConfigSnapshotVersion = 1

// ConfigSnapshot is the configuration summary embedded in a client-side cache
// token so an edit form can open without a lookup.
type ConfigSnapshot struct {
	V             int    `json:"v"`
	Id            string `json:"id"`
	ServerName    string `json:"server_name"`
	TransportType string `json:"transport_type"`
	Url           string `json:"url"`
	Enabled       bool   `json:"enabled"`
	HasAuthToken  bool   `json:"has_auth_token"`
	Revision      int64  `json:"revision"`
}

// NewConfigSnapshot captures cfg at its current revision.
func NewConfigSnapshot(cfg *RedactedMCPServerConfig) ConfigSnapshot {
	return ConfigSnapshot{
		V:             ConfigSnapshotVersion,
		Id:            cfg.Id,
		ServerName:    cfg.ServerName,
		TransportType: string(cfg.TransportType),
		Url:           cfg.Url,
		Enabled:       cfg.Enabled,
		HasAuthToken:  cfg.TokenStored,
		Revision:      cfg.Revision,
	}
}

// MCPTemplate is a catalog entry for a well-known MCP server.
type MCPTemplate struct {
	Name          string `yaml:"name" json:"name"`
	DisplayName   string `yaml:"display_name" json:"display_name"`
	Description   string `yaml:"description" json:"description"`
	TransportType string `yaml:"transport_type" json:"transport_type"`
	Url           string `yaml:"url" json:"url"`
	RequiresToken bool   `yaml:"requires_token" json:"requires_token"`
	TokenHint     string `yaml:"token_hint,omitempty" json:"token_hint,omitempty"`
}
