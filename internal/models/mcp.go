package models

import (
	"fmt"
	"strings"
	"time"
)

// TransportType is the wire protocol used to reach a remote MCP server.
type TransportType string

const (
	TransportSSE            TransportType = "sse"
	TransportWebSocket      TransportType = "websocket"
	TransportStreamableHTTP TransportType = "streamablehttp"
)

// TransportTypes lists every supported transport in display order.
var TransportTypes = []TransportType{TransportStreamableHTTP, TransportSSE, TransportWebSocket}

// ParseTransportType accepts the canonical names plus a few common spellings.
func ParseTransportType(s string) (TransportType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sse":
		return TransportSSE, nil
	case "websocket", "ws":
		return TransportWebSocket, nil
	case "streamablehttp", "streamable-http", "streamable_http", "http":
		return TransportStreamableHTTP, nil
	}
	return "", fmt.Errorf("unsupported transport type %q", s)
}

// Valid reports whether t is one of the supported transports.
func (t TransportType) Valid() bool {
	switch t {
	case TransportSSE, TransportWebSocket, TransportStreamableHTTP:
		return true
	}
	return false
}

// Label is the human readable name shown in Slack.
func (t TransportType) Label() string {
	switch t {
	case TransportSSE:
		return "Server-Sent Events"
	case TransportWebSocket:
		return "WebSocket"
	case TransportStreamableHTTP:
		return "Streamable HTTP"
	}
	return string(t)
}

// VerificationStatus records the outcome of the last connectivity check.
type VerificationStatus string

const (
	VerificationUnverified VerificationStatus = "unverified"
	VerificationVerified   VerificationStatus = "verified"
	VerificationFailed     VerificationStatus = "failed"
)

// Valid reports whether s is a known verification status.
func (s VerificationStatus) Valid() bool {
	switch s {
	case VerificationUnverified, VerificationVerified, VerificationFailed:
		return true
	}
	return false
}

// Emoji is the Slack status indicator for s.
func (s VerificationStatus) Emoji() string {
	switch s {
	case VerificationVerified:
		return ":large_green_circle:"
	case VerificationFailed:
		return ":red_circle:"
	case VerificationUnverified:
		return ":white_circle:"
	}
	return ":grey_question:"
}

// AuthTokenPlaceholder stands in for a stored token in edit forms. Submitting it
// back unchanged leaves the stored token untouched.
const AuthTokenPlaceholder = "••••••••"

// MCPServerConfig is a user's connection profile for a remote MCP server.
// EncryptedAuthToken only ever holds ciphertext.
type MCPServerConfig struct {
	Id                 string
	UserId             string // Slack user ID
	ServerName         string
	TransportType      TransportType
	Url                string
	EncryptedAuthToken string
	Enabled            bool
	Capabilities       map[string]interface{}
	VerificationStatus VerificationStatus
	VerificationError  string
	Revision           int64
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// HasAuthToken reports whether a token is stored for this configuration.
func (c *MCPServerConfig) HasAuthToken() bool {
	return c.EncryptedAuthToken != ""
}

// Redacted returns a copy with the ciphertext removed. The copy still reports
// whether a token exists through TokenStored.
func (c *MCPServerConfig) Redacted() *RedactedMCPServerConfig {
	out := &RedactedMCPServerConfig{
		MCPServerConfig: *c,
		TokenStored:     c.HasAuthToken(),
	}
	out.EncryptedAuthToken = ""
	if c.Capabilities != nil {
		caps := make(map[string]interface{}, len(c.Capabilities))
		for k, v := range c.Capabilities {
			caps[k] = v
		}
		out.Capabilities = caps
	}
	return out
}

// ToolCount returns the number of tools discovered during the last successful
// verification, or -1 when unknown.
func (c *MCPServerConfig) ToolCount() int {
	if c.Capabilities == nil {
		return -1
	}
	switch v := c.Capabilities["tools"].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return -1
}

// RedactedMCPServerConfig is the only configuration shape handed to
// presentation code.
type RedactedMCPServerConfig struct {
	MCPServerConfig
	TokenStored bool
}

// HasAuthToken reports whether the underlying record stores a token.
func (r *RedactedMCPServerConfig) HasAuthToken() bool {
	return r.TokenStored
}

// NameKey is the case-insensitive uniqueness key for server names.
func NameKey(serverName string) string {
	return strings.ToLower(strings.TrimSpace(serverName))
}
