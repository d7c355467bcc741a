package router

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/imyashkale/gengar-bark/internal/database"
	"github.com/imyashkale/gengar-bark/internal/handlers"
	"github.com/imyashkale/gengar-bark/internal/middleware"
	"github.com/imyashkale/gengar-bark/internal/models"
	"github.com/imyashkale/gengar-bark/internal/queue"
	"github.com/imyashkale/gengar-bark/internal/repository"
	"github.com/imyashkale/gengar-bark/internal/services"
	"github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSigningSecret = "signing-secret"
	testJWTSecret     = "api-secret"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type publicResolver struct{}

func (publicResolver) LookupNetIP(context.Context, string, string) ([]netip.Addr, error) {
	return []netip.Addr{netip.MustParseAddr("93.184.216.34")}, nil
}

type okVerifier struct{}

func (okVerifier) Verify(context.Context, models.VerifyInput) models.VerificationResult {
	return models.VerificationResult{Success: true, Capabilities: map[string]interface{}{"tools": 1}}
}

type nopSlackAPI struct{}

func (nopSlackAPI) OpenViewContext(context.Context, string, slack.ModalViewRequest) (*slack.ViewResponse, error) {
	return &slack.ViewResponse{}, nil
}

func (nopSlackAPI) PublishViewContext(context.Context, slack.PublishViewContextRequest) (*slack.ViewResponse, error) {
	return &slack.ViewResponse{}, nil
}

func newTestRouter(t *testing.T, withAPI bool) *gin.Engine {
	t.Helper()

	db, err := database.NewMemoryDB(t.Name() + uuid.NewString())
	require.NoError(t, err)
	require.NoError(t, database.RunMigrations(db.Writer))
	t.Cleanup(func() { _ = db.Close() })

	codec, err := services.NewSecretCodec("0123456789abcdef0123456789abcdef")
	require.NoError(t, err)
	templates, err := services.LoadTemplateCatalog("")
	require.NoError(t, err)

	store := services.NewMCPConfigService(
		repository.NewMCPConfigRepository(database.NewMCPServerConfigs(db)),
		codec,
		services.NewURLValidator(publicResolver{}, time.Second),
		okVerifier{},
		repository.NewLogAuditSink(),
	)

	jobs := queue.NewJobQueue(10)
	t.Cleanup(jobs.Close)

	opts := Options{
		Health:             handlers.NewHealthHandler(db.Reader),
		Slack:              handlers.NewSlackHandler(store, nopSlackAPI{}, jobs, services.NewCacheTokenCodec("cache-secret", time.Hour), templates),
		SlackSigningSecret: testSigningSecret,
	}
	if withAPI {
		opts.MCP = handlers.NewMCPHandler(store, templates)
		opts.Auth = middleware.NewAuthConfig(testJWTSecret, "", "")
	}
	return Setup(opts)
}

func bearer(t *testing.T, sub string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": sub,
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(testJWTSecret))
	require.NoError(t, err)
	return "Bearer " + signed
}

func signedSlackRequest(path, body string) *http.Request {
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	mac := hmac.New(sha256.New, []byte(testSigningSecret))
	fmt.Fprintf(mac, "v0:%s:%s", ts, body)

	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Slack-Request-Timestamp", ts)
	req.Header.Set("X-Slack-Signature", "v0="+hex.EncodeToString(mac.Sum(nil)))
	return req
}

func TestHealth(t *testing.T) {
	r := newTestRouter(t, false)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")
}

func TestSlackRoutesRequireSignature(t *testing.T) {
	r := newTestRouter(t, false)
	body := "command=%2Fmcp&text=help&user_id=U1"

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/slack/commands", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, signedSlackRequest("/slack/commands", body))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Manage your MCP servers")
}

func TestAPIDisabledWithoutAuth(t *testing.T) {
	r := newTestRouter(t, false)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/mcp-servers", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAPIRequiresBearerToken(t *testing.T) {
	r := newTestRouter(t, true)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/mcp-servers", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/mcp-servers", nil)
	req.Header.Set("Authorization", bearer(t, "U1"))
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"servers":[],"total":0}`, w.Body.String())
}

func TestAPICreateAndListTemplates(t *testing.T) {
	r := newTestRouter(t, true)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/mcp-servers",
		strings.NewReader(`{"server_name":"github","transport_type":"sse","url":"https://api.github.com/mcp"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", bearer(t, "U1"))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/api/v1/mcp-servers/templates", nil)
	req.Header.Set("Authorization", bearer(t, "U1"))
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"templates"`)
}

func TestCORSPreflight(t *testing.T) {
	r := newTestRouter(t, true)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/mcp-servers", nil)
	req.Header.Set("Origin", "https://console.example.com")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
