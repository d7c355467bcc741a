package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/imyashkale/gengar-bark/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	oldKey = "0123456789abcdef0123456789abcdef"
	newKey = "fedcba9876543210fedcba9876543210"
)

func setupEnv(t *testing.T) string {
	t.Helper()
	t.Setenv("MCP_ENCRYPTION_KEY", oldKey)
	t.Setenv("SLACK_BOT_TOKEN", "")
	t.Setenv("SLACK_SIGNING_SECRET", "")
	t.Setenv("LOG_LEVEL", "ERROR")
	return filepath.Join(t.TempDir(), "gengar.db")
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

// seed stores a configuration directly. The URL is an IP literal so the
// safety check needs no DNS.
func seed(t *testing.T, dbPath, user, name, token string) {
	t.Helper()
	s, err := openSession(&rootOptions{dbPath: dbPath})
	require.NoError(t, err)
	defer s.Close()

	_, err = s.store.CreateConfiguration(context.Background(), user, models.CreateMCPConfigInput{
		ServerName:    name,
		TransportType: models.TransportSSE,
		Url:           "https://93.184.216.34/mcp",
		AuthToken:     token,
	})
	require.NoError(t, err)
}

func TestMigrate(t *testing.T) {
	dbPath := setupEnv(t)

	out, err := run(t, "migrate", "--db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, out, "is up to date")
}

func TestList(t *testing.T) {
	dbPath := setupEnv(t)
	seed(t, dbPath, "U1", "github", "ghp_secret")
	seed(t, dbPath, "U2", "other", "")

	out, err := run(t, "list", "--db", dbPath, "--user", "U1")
	require.NoError(t, err)
	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "github")
	assert.NotContains(t, out, "other")
	assert.NotContains(t, out, "ghp_secret")

	out, err = run(t, "list", "--db", dbPath, "--user", "U1", "--json")
	require.NoError(t, err)
	var list models.MCPServerListResponse
	require.NoError(t, json.Unmarshal([]byte(out), &list))
	require.Equal(t, 1, list.Total)
	assert.True(t, list.Servers[0].HasAuthToken)
	assert.Empty(t, list.Servers[0].AuthToken)

	_, err = run(t, "list", "--db", dbPath)
	assert.ErrorContains(t, err, "--user is required")
}

func TestVerify_Errors(t *testing.T) {
	dbPath := setupEnv(t)

	_, err := run(t, "verify", "--db", dbPath, "--user", "U1")
	assert.ErrorContains(t, err, "--name is required")

	_, err = run(t, "verify", "--db", dbPath, "--user", "U1", "--name", "missing")
	assert.Error(t, err)
}

func TestRotateKey(t *testing.T) {
	dbPath := setupEnv(t)
	seed(t, dbPath, "U1", "github", "ghp_secret")
	seed(t, dbPath, "U1", "public", "")

	_, err := run(t, "rotate-key", "--db", dbPath, "--new-key", oldKey)
	assert.ErrorContains(t, err, "matches the current key")

	_, err = run(t, "rotate-key", "--db", dbPath, "--new-key", "short")
	assert.Error(t, err)

	out, err := run(t, "rotate-key", "--db", dbPath, "--new-key", newKey)
	require.NoError(t, err)
	assert.Contains(t, out, "Re-encrypted 1 tokens")

	// The token now only decrypts under the new key.
	t.Setenv("MCP_ENCRYPTION_KEY", newKey)
	s, err := openSession(&rootOptions{dbPath: dbPath})
	require.NoError(t, err)
	defer s.Close()

	active, err := s.store.ResolveActiveServers(context.Background(), "U1")
	require.NoError(t, err)
	require.Len(t, active, 2)
	tokens := map[string]string{}
	for _, a := range active {
		tokens[a.ServerName] = a.AuthToken
	}
	assert.Equal(t, "ghp_secret", tokens["github"])
	assert.Empty(t, tokens["public"])
}
