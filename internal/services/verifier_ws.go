package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/imyashkale/gengar-bark/internal/models"
	"github.com/mark3labs/mcp-go/mcp"
)

type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      *int64      `json:"id,omitempty"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// websocketURL maps http(s) URLs onto ws(s). Stored URLs are always http(s).
func websocketURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported websocket scheme %q", u.Scheme)
	}
	return u.String(), nil
}

// handshakeWebSocket speaks JSON-RPC over a single websocket connection:
// initialize, notifications/initialized, then tools/list when offered.
func (v *ConnectivityVerifier) handshakeWebSocket(ctx context.Context, in models.VerifyInput) (map[string]interface{}, error) {
	target, err := websocketURL(in.Url)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	if in.AuthToken != "" {
		header.Set("Authorization", "Bearer "+in.AuthToken)
	}

	conn, resp, err := v.wsDialer.DialContext(ctx, target, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket handshake failed: %s", resp.Status)
		}
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
		_ = conn.SetWriteDeadline(deadline)
	}

	ws := &wsSession{conn: conn}

	var initResult mcp.InitializeResult
	if err := ws.call(ctx, "initialize", initializeRequest().Params, &initResult); err != nil {
		return nil, fmt.Errorf("initialize failed: %w", err)
	}
	if err := ws.notify("notifications/initialized"); err != nil {
		return nil, fmt.Errorf("initialized notification failed: %w", err)
	}

	caps := capabilitiesFromInit(&initResult)
	if initResult.Capabilities.Tools == nil {
		return caps, nil
	}

	var tools mcp.ListToolsResult
	if err := ws.call(ctx, "tools/list", struct{}{}, &tools); err != nil {
		caps["toolsError"] = truncate(err.Error())
		return caps, nil
	}
	addTools(caps, tools.Tools)

	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))

	return caps, nil
}

type wsSession struct {
	conn   *websocket.Conn
	nextID int64
}

func (s *wsSession) notify(method string) error {
	return s.conn.WriteJSON(rpcRequest{JSONRPC: "2.0", Method: method})
}

// call sends a request and waits for the response with the same id, skipping
// notifications and server-initiated requests.
func (s *wsSession) call(ctx context.Context, method string, params interface{}, out interface{}) error {
	s.nextID++
	id := s.nextID

	if err := s.conn.WriteJSON(rpcRequest{JSONRPC: "2.0", ID: &id, Method: method, Params: params}); err != nil {
		return err
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		var resp rpcResponse
		if err := s.conn.ReadJSON(&resp); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if resp.Method != "" || string(resp.ID) != strconv.FormatInt(id, 10) {
			continue
		}
		if resp.Error != nil {
			return fmt.Errorf("server error %d: %s", resp.Error.Code, resp.Error.Message)
		}
		if len(resp.Result) == 0 {
			return fmt.Errorf("empty result for %s", method)
		}
		return json.Unmarshal(resp.Result, out)
	}
}
