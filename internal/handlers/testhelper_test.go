package handlers

import (
	"context"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/imyashkale/gengar-bark/internal/database"
	"github.com/imyashkale/gengar-bark/internal/models"
	"github.com/imyashkale/gengar-bark/internal/queue"
	"github.com/imyashkale/gengar-bark/internal/repository"
	"github.com/imyashkale/gengar-bark/internal/services"
	"github.com/slack-go/slack"
	"github.com/stretchr/testify/require"
)

const testEncryptionKey = "0123456789abcdef0123456789abcdef"

func init() {
	gin.SetMode(gin.TestMode)
}

// publicResolver resolves every name to a public address.
type publicResolver struct{}

func (publicResolver) LookupNetIP(context.Context, string, string) ([]netip.Addr, error) {
	return []netip.Addr{netip.MustParseAddr("93.184.216.34")}, nil
}

type stubVerifier struct {
	mu    sync.Mutex
	calls []models.VerifyInput
}

func (v *stubVerifier) Verify(_ context.Context, in models.VerifyInput) models.VerificationResult {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.calls = append(v.calls, in)
	return models.VerificationResult{
		Success:      true,
		Capabilities: map[string]interface{}{"tools": 2, "toolNames": []string{"a", "b"}},
	}
}

// auditRecorder keeps operation records so tests can inspect their metadata.
type auditRecorder struct {
	mu  sync.Mutex
	ops []*models.AuditEntry
}

func (a *auditRecorder) RecordOperation(_ context.Context, e *models.AuditEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ops = append(a.ops, e)
	return nil
}

func (a *auditRecorder) RecordSecurityEvent(context.Context, *models.SecurityEvent) error {
	return nil
}

func newTestStore(t *testing.T) (*services.MCPConfigService, *stubVerifier) {
	t.Helper()
	return newTestStoreWithAudit(t, repository.NewLogAuditSink())
}

func newTestStoreWithAudit(t *testing.T, audit repository.AuditSink) (*services.MCPConfigService, *stubVerifier) {
	t.Helper()

	db, err := database.NewMemoryDB(t.Name() + uuid.NewString())
	require.NoError(t, err)
	require.NoError(t, database.RunMigrations(db.Writer))
	t.Cleanup(func() { _ = db.Close() })

	codec, err := services.NewSecretCodec(testEncryptionKey)
	require.NoError(t, err)

	verifier := &stubVerifier{}
	store := services.NewMCPConfigService(
		repository.NewMCPConfigRepository(database.NewMCPServerConfigs(db)),
		codec,
		services.NewURLValidator(publicResolver{}, time.Second),
		verifier,
		audit,
	)
	return store, verifier
}

func newTestTemplates(t *testing.T) *services.TemplateCatalog {
	t.Helper()
	catalog, err := services.LoadTemplateCatalog("")
	require.NoError(t, err)
	return catalog
}

// syncQueue runs jobs inline. Operations listed in full are refused as if the
// buffer were full.
type syncQueue struct {
	mu   sync.Mutex
	ops  []string
	errs []error
	full map[string]bool
}

func (q *syncQueue) Enqueue(job *queue.Job) error {
	if q.full[job.Operation] {
		return queue.ErrQueueFull
	}
	err := job.Execute(context.Background())
	q.mu.Lock()
	q.ops = append(q.ops, job.Operation)
	q.errs = append(q.errs, err)
	q.mu.Unlock()
	return nil
}

type fakeSlackAPI struct {
	mu        sync.Mutex
	opened    []slack.ModalViewRequest
	published []slack.PublishViewContextRequest
}

func (f *fakeSlackAPI) OpenViewContext(_ context.Context, triggerID string, view slack.ModalViewRequest) (*slack.ViewResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened = append(f.opened, view)
	return &slack.ViewResponse{}, nil
}

func (f *fakeSlackAPI) PublishViewContext(_ context.Context, req slack.PublishViewContextRequest) (*slack.ViewResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, req)
	return &slack.ViewResponse{}, nil
}

func (f *fakeSlackAPI) lastPublished() *slack.PublishViewContextRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.published) == 0 {
		return nil
	}
	return &f.published[len(f.published)-1]
}

type postedMessage struct {
	url string
	msg *slack.WebhookMessage
}

type responseRecorder struct {
	mu    sync.Mutex
	posts []postedMessage
}

func (r *responseRecorder) post(_ context.Context, url string, msg *slack.WebhookMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.posts = append(r.posts, postedMessage{url: url, msg: msg})
	return nil
}
