package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/imyashkale/gengar-bark/internal/logger"
	"github.com/imyashkale/gengar-bark/internal/models"
	"github.com/imyashkale/gengar-bark/internal/services"
)

// MCPConfigStore is the configuration store as seen by the presentation adapters.
type MCPConfigStore interface {
	CreateConfiguration(ctx context.Context, userId string, in models.CreateMCPConfigInput) (*models.RedactedMCPServerConfig, error)
	ListConfigurations(ctx context.Context, userId string) ([]*models.RedactedMCPServerConfig, error)
	GetConfiguration(ctx context.Context, userId, id string) (*models.RedactedMCPServerConfig, error)
	GetConfigurationByName(ctx context.Context, userId, serverName string) (*models.RedactedMCPServerConfig, error)
	GetConfigurationForEdit(ctx context.Context, userId, id string) (*models.MCPServerEditView, error)
	UpdateConfiguration(ctx context.Context, userId, id string, patch models.MCPConfigPatch) (*models.RedactedMCPServerConfig, error)
	EnableConfiguration(ctx context.Context, userId, id string) (bool, error)
	DisableConfiguration(ctx context.Context, userId, id string) (bool, error)
	DeleteConfiguration(ctx context.Context, userId, id string) error
	VerifyConnection(ctx context.Context, userId string, in models.VerifyInput) (models.VerificationResult, error)
	VerifyStoredConfiguration(ctx context.Context, userId, id string) (*models.RedactedMCPServerConfig, models.VerificationResult, error)
}

// MCPHandler handles MCP server configuration requests
type MCPHandler struct {
	store     MCPConfigStore
	templates *services.TemplateCatalog
}

// NewMCPHandler creates a new MCP handler
func NewMCPHandler(store MCPConfigStore, templates *services.TemplateCatalog) *MCPHandler {
	return &MCPHandler{
		store:     store,
		templates: templates,
	}
}

// verifyResponse is the body returned by both verify endpoints
type verifyResponse struct {
	Server *models.MCPServerResponse  `json:"server,omitempty"`
	Result models.VerificationResult `json:"result"`
}

// Create handles creating a new MCP server configuration
func (h *MCPHandler) Create(c *gin.Context) {
	userId, ok := currentUserID(c)
	if !ok {
		return
	}

	var req models.CreateMCPServerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}

	cfg, err := h.store.CreateConfiguration(c.Request.Context(), userId, req.ToInput())
	if err != nil {
		writeStoreError(c, err)
		return
	}

	c.JSON(http.StatusCreated, cfg.ToResponse())
}

// List handles listing the caller's configurations
func (h *MCPHandler) List(c *gin.Context) {
	userId, ok := currentUserID(c)
	if !ok {
		return
	}

	configs, err := h.store.ListConfigurations(c.Request.Context(), userId)
	if err != nil {
		writeStoreError(c, err)
		return
	}

	responses := make([]models.MCPServerResponse, 0, len(configs))
	for _, cfg := range configs {
		responses = append(responses, cfg.ToResponse())
	}

	c.JSON(http.StatusOK, models.MCPServerListResponse{
		Servers: responses,
		Total:   len(responses),
	})
}

// Get handles retrieving a single configuration by ID
func (h *MCPHandler) Get(c *gin.Context) {
	userId, ok := currentUserID(c)
	if !ok {
		return
	}

	cfg, err := h.store.GetConfiguration(c.Request.Context(), userId, c.Param("id"))
	if err != nil {
		writeStoreError(c, err)
		return
	}

	c.JSON(http.StatusOK, cfg.ToResponse())
}

// GetForEdit returns the configuration with the token placeholder filled in
func (h *MCPHandler) GetForEdit(c *gin.Context) {
	userId, ok := currentUserID(c)
	if !ok {
		return
	}

	view, err := h.store.GetConfigurationForEdit(c.Request.Context(), userId, c.Param("id"))
	if err != nil {
		writeStoreError(c, err)
		return
	}

	c.JSON(http.StatusOK, view.ToEditResponse())
}

// Update handles a partial update
func (h *MCPHandler) Update(c *gin.Context) {
	userId, ok := currentUserID(c)
	if !ok {
		return
	}

	var req models.UpdateMCPServerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}

	patch := req.ToPatch()
	if patch.Empty() {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "No fields to update",
		})
		return
	}

	cfg, err := h.store.UpdateConfiguration(c.Request.Context(), userId, c.Param("id"), patch)
	if err != nil {
		writeStoreError(c, err)
		return
	}

	c.JSON(http.StatusOK, cfg.ToResponse())
}

// Enable handles enabling a configuration
func (h *MCPHandler) Enable(c *gin.Context) {
	h.setEnabled(c, true)
}

// Disable handles disabling a configuration
func (h *MCPHandler) Disable(c *gin.Context) {
	h.setEnabled(c, false)
}

func (h *MCPHandler) setEnabled(c *gin.Context, enabled bool) {
	userId, ok := currentUserID(c)
	if !ok {
		return
	}

	id := c.Param("id")
	toggle := h.store.DisableConfiguration
	if enabled {
		toggle = h.store.EnableConfiguration
	}

	changed, err := toggle(c.Request.Context(), userId, id)
	if err != nil {
		writeStoreError(c, err)
		return
	}

	cfg, err := h.store.GetConfiguration(c.Request.Context(), userId, id)
	if err != nil {
		writeStoreError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"changed": changed,
		"server":  cfg.ToResponse(),
	})
}

// Delete handles deleting a configuration
func (h *MCPHandler) Delete(c *gin.Context) {
	userId, ok := currentUserID(c)
	if !ok {
		return
	}

	if err := h.store.DeleteConfiguration(c.Request.Context(), userId, c.Param("id")); err != nil {
		writeStoreError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "MCP server deleted successfully",
	})
}

// VerifyStored runs a connectivity check for a stored configuration and
// records the outcome
func (h *MCPHandler) VerifyStored(c *gin.Context) {
	userId, ok := currentUserID(c)
	if !ok {
		return
	}

	cfg, result, err := h.store.VerifyStoredConfiguration(c.Request.Context(), userId, c.Param("id"))
	if err != nil {
		writeStoreError(c, err)
		return
	}

	resp := cfg.ToResponse()
	c.JSON(http.StatusOK, verifyResponse{Server: &resp, Result: result})
}

// Verify tests connection parameters without saving them
func (h *MCPHandler) Verify(c *gin.Context) {
	userId, ok := currentUserID(c)
	if !ok {
		return
	}

	var req models.VerifyMCPServerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}

	result, err := h.store.VerifyConnection(c.Request.Context(), userId, models.VerifyInput{
		ServerName:    req.ServerName,
		TransportType: models.TransportType(req.TransportType),
		Url:           req.Url,
		AuthToken:     req.AuthToken,
	})
	if err != nil {
		writeStoreError(c, err)
		return
	}

	c.JSON(http.StatusOK, verifyResponse{Result: result})
}

// Templates lists the template catalog
func (h *MCPHandler) Templates(c *gin.Context) {
	templates := h.templates.List()
	c.JSON(http.StatusOK, gin.H{
		"templates": templates,
		"total":     len(templates),
	})
}

// currentUserID reads the user ID set by the auth middleware. It writes the
// error response itself when the ID is missing.
func currentUserID(c *gin.Context) (string, bool) {
	userId, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":   "unauthorized",
			"message": "User ID not found in context",
		})
		return "", false
	}

	userIdStr, ok := userId.(string)
	if !ok || userIdStr == "" {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Invalid user ID format",
		})
		return "", false
	}
	return userIdStr, true
}

// writeStoreError maps store errors to HTTP responses. Unknown errors are
// logged and hidden behind a generic message.
func writeStoreError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	code := "internal_error"

	var ve *services.ValidationError
	var ue *services.UnsafeURLError
	switch {
	case errors.As(err, &ve):
		status, code = http.StatusBadRequest, "validation_error"
	case errors.As(err, &ue):
		status, code = http.StatusUnprocessableEntity, "unsafe_url"
	case errors.Is(err, services.ErrDuplicateServerName):
		status, code = http.StatusConflict, "duplicate_server_name"
	case errors.Is(err, services.ErrConflict):
		status, code = http.StatusConflict, "conflict"
	case errors.Is(err, services.ErrNotFound):
		status, code = http.StatusNotFound, "not_found"
	default:
		logger.WithFields(map[string]interface{}{
			"path":  c.Request.URL.Path,
			"error": err.Error(),
		}).Error("MCP configuration request failed")
	}

	body := gin.H{
		"error":   code,
		"message": services.UserMessage(err),
	}
	if ve != nil {
		body["field"] = ve.Field
	}
	c.JSON(status, body)
}
