package services

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/imyashkale/gengar-bark/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadTemplateCatalog_Embedded(t *testing.T) {
	catalog, err := LoadTemplateCatalog("")
	require.NoError(t, err)

	list := catalog.List()
	require.NotEmpty(t, list)
	for _, tpl := range list {
		assert.True(t, models.TransportType(tpl.TransportType).Valid(), tpl.Name)
		assert.NotEmpty(t, tpl.Url, tpl.Name)
	}

	gh, err := catalog.Get("GitHub")
	require.NoError(t, err)
	assert.Equal(t, "github", gh.Name)
	assert.True(t, gh.RequiresToken)
}

func TestLoadTemplateCatalog_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "templates.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
templates:
  - name: Internal-Docs
    description: Docs search
    transport_type: http
    url: https://docs.example.com/mcp
`), 0o600))

	catalog, err := LoadTemplateCatalog(path)
	require.NoError(t, err)

	tpl, err := catalog.Get("internal-docs")
	require.NoError(t, err)
	assert.Equal(t, "streamablehttp", tpl.TransportType)
	assert.Equal(t, "internal-docs", tpl.DisplayName)

	_, err = LoadTemplateCatalog(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestParseTemplateCatalog_Invalid(t *testing.T) {
	tests := map[string]string{
		"unknown field":     "templates:\n  - name: a\n    transport_type: sse\n    url: https://a.example.com\n    colour: red\n",
		"missing name":      "templates:\n  - transport_type: sse\n    url: https://a.example.com\n",
		"bad transport":     "templates:\n  - name: a\n    transport_type: grpc\n    url: https://a.example.com\n",
		"relative url":      "templates:\n  - name: a\n    transport_type: sse\n    url: /mcp\n",
		"duplicate":         "templates:\n  - name: a\n    transport_type: sse\n    url: https://a.example.com\n  - name: A\n    transport_type: sse\n    url: https://b.example.com\n",
		"not yaml mappings": "templates: nope\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseTemplateCatalog([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestTemplateCatalog_Input(t *testing.T) {
	catalog, err := LoadTemplateCatalog("")
	require.NoError(t, err)

	_, err = catalog.Input("github", "", "")
	assert.True(t, IsValidationError(err))

	in, err := catalog.Input("github", "", "ghp_123")
	require.NoError(t, err)
	assert.Equal(t, "github", in.ServerName)
	assert.Equal(t, "ghp_123", in.AuthToken)
	assert.Equal(t, "github", in.Template)

	in, err = catalog.Input("deepwiki", "wiki", "")
	require.NoError(t, err)
	assert.Equal(t, "wiki", in.ServerName)

	_, err = catalog.Input("nope", "", "")
	assert.ErrorIs(t, err, ErrTemplateNotFound)
}
