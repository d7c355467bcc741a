package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/imyashkale/gengar-bark/internal/logger"
	"github.com/imyashkale/gengar-bark/internal/models"
	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
)

const (
	verifierClientName    = "gengar-bark"
	verifierClientVersion = "1.0.0"
	maxVerificationError  = 300
)

// ConnectivityVerifier performs a live MCP handshake and reports what the
// server offers. It never mutates stored configurations.
type ConnectivityVerifier struct {
	timeout    time.Duration
	httpClient *http.Client
	wsDialer   *websocket.Dialer
}

// VerifierOption configures a ConnectivityVerifier.
type VerifierOption func(*ConnectivityVerifier)

// WithVerifierHTTPClient replaces the SSRF-guarded HTTP client.
func WithVerifierHTTPClient(c *http.Client) VerifierOption {
	return func(v *ConnectivityVerifier) { v.httpClient = c }
}

// WithVerifierWebSocketDialer replaces the SSRF-guarded websocket dialer.
func WithVerifierWebSocketDialer(d *websocket.Dialer) VerifierOption {
	return func(v *ConnectivityVerifier) { v.wsDialer = d }
}

// NewConnectivityVerifier creates a verifier whose outbound connections refuse
// blocked addresses at dial time.
func NewConnectivityVerifier(timeout time.Duration, opts ...VerifierOption) *ConnectivityVerifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	dialer := SafeDialer(timeout)
	v := &ConnectivityVerifier{
		timeout: timeout,
		httpClient: &http.Client{
			Transport: &http.Transport{
				DialContext:         dialer.DialContext,
				TLSHandshakeTimeout: timeout,
				MaxIdleConns:        10,
				IdleConnTimeout:     30 * time.Second,
			},
		},
		wsDialer: &websocket.Dialer{
			NetDialContext:   dialer.DialContext,
			HandshakeTimeout: timeout,
			Subprotocols:     []string{"mcp"},
		},
	}

	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify runs the handshake for in.TransportType within the configured timeout.
// Failures are reported in the result, never returned as errors.
func (v *ConnectivityVerifier) Verify(ctx context.Context, in models.VerifyInput) models.VerificationResult {
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	start := time.Now()
	done := make(chan verifyOutcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- verifyOutcome{err: fmt.Errorf("verifier panic: %v", r)}
			}
		}()
		caps, err := v.handshake(ctx, in)
		done <- verifyOutcome{caps: caps, err: err}
	}()

	var out verifyOutcome
	select {
	case out = <-done:
	case <-ctx.Done():
		out = verifyOutcome{err: ctx.Err()}
	}

	result := models.VerificationResult{Duration: time.Since(start)}
	if out.err != nil {
		result.Error = describeVerifyError(ctx, out.err)
	} else {
		result.Success = true
		result.Capabilities = out.caps
	}

	logger.WithFields(map[string]interface{}{
		"server_name":    in.ServerName,
		"transport_type": string(in.TransportType),
		"success":        result.Success,
		"duration_ms":    result.Duration.Milliseconds(),
		"error":          result.Error,
	}).Info("MCP connectivity check finished")

	return result
}

type verifyOutcome struct {
	caps map[string]interface{}
	err  error
}

func (v *ConnectivityVerifier) handshake(ctx context.Context, in models.VerifyInput) (map[string]interface{}, error) {
	switch in.TransportType {
	case models.TransportSSE:
		t, err := transport.NewSSE(in.Url,
			transport.WithHeaders(authHeaders(in.AuthToken)),
			transport.WithHTTPClient(v.httpClient),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create SSE transport: %w", err)
		}
		return v.handshakeClient(ctx, client.NewClient(t))
	case models.TransportStreamableHTTP:
		t, err := transport.NewStreamableHTTP(in.Url,
			transport.WithHTTPHeaders(authHeaders(in.AuthToken)),
			transport.WithHTTPBasicClient(v.httpClient),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create HTTP transport: %w", err)
		}
		return v.handshakeClient(ctx, client.NewClient(t))
	case models.TransportWebSocket:
		return v.handshakeWebSocket(ctx, in)
	}
	return nil, fmt.Errorf("unsupported transport type %q", in.TransportType)
}

func (v *ConnectivityVerifier) handshakeClient(ctx context.Context, c *client.Client) (map[string]interface{}, error) {
	defer c.Close()

	if err := c.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	initResult, err := c.Initialize(ctx, initializeRequest())
	if err != nil {
		return nil, fmt.Errorf("initialize failed: %w", err)
	}

	caps := capabilitiesFromInit(initResult)
	if initResult.Capabilities.Tools == nil {
		return caps, nil
	}

	tools, err := c.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		caps["toolsError"] = truncate(err.Error())
		return caps, nil
	}
	addTools(caps, tools.Tools)
	return caps, nil
}

func initializeRequest() mcp.InitializeRequest {
	return mcp.InitializeRequest{
		Params: mcp.InitializeParams{
			ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
			Capabilities:    mcp.ClientCapabilities{},
			ClientInfo: mcp.Implementation{
				Name:    verifierClientName,
				Version: verifierClientVersion,
			},
		},
	}
}

func authHeaders(token string) map[string]string {
	headers := map[string]string{}
	if token != "" {
		headers["Authorization"] = "Bearer " + token
	}
	return headers
}

// capabilitiesFromInit flattens the initialize result into the stored
// capabilities blob.
func capabilitiesFromInit(res *mcp.InitializeResult) map[string]interface{} {
	caps := map[string]interface{}{
		"protocolVersion": res.ProtocolVersion,
		"serverInfo": map[string]interface{}{
			"name":    res.ServerInfo.Name,
			"version": res.ServerInfo.Version,
		},
		"tools":     0,
		"resources": res.Capabilities.Resources != nil,
		"prompts":   res.Capabilities.Prompts != nil,
		"logging":   res.Capabilities.Logging != nil,
	}
	return caps
}

func addTools(caps map[string]interface{}, tools []mcp.Tool) {
	names := make([]string, 0, len(tools))
	for _, tool := range tools {
		names = append(names, tool.Name)
	}
	sort.Strings(names)
	caps["tools"] = len(tools)
	caps["toolNames"] = names
}

func describeVerifyError(ctx context.Context, err error) string {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return "timeout"
	}
	if errors.Is(err, ErrBlockedAddress) {
		return "connection to a blocked address was refused"
	}
	return truncate(err.Error())
}

func truncate(s string) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= maxVerificationError {
		return string(r)
	}
	return string(r[:maxVerificationError]) + "…"
}
