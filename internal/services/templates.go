package services

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/imyashkale/gengar-bark/internal/models"
	"gopkg.in/yaml.v2"
)

//go:embed templates.yaml
var defaultTemplates []byte

// ErrTemplateNotFound is returned for unknown template names.
var ErrTemplateNotFound = errors.New("template not found")

type templateFile struct {
	Templates []models.MCPTemplate `yaml:"templates"`
}

// TemplateCatalog holds the MCP server templates in file order.
type TemplateCatalog struct {
	templates []models.MCPTemplate
	byName    map[string]int
}

// LoadTemplateCatalog reads path, or the embedded catalog when path is empty.
func LoadTemplateCatalog(path string) (*TemplateCatalog, error) {
	data := defaultTemplates
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read templates file: %w", err)
		}
		data = raw
	}
	return ParseTemplateCatalog(data)
}

// ParseTemplateCatalog parses and validates a YAML catalog.
func ParseTemplateCatalog(data []byte) (*TemplateCatalog, error) {
	var file templateFile
	if err := yaml.UnmarshalStrict(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}

	catalog := &TemplateCatalog{byName: make(map[string]int, len(file.Templates))}
	for i, tpl := range file.Templates {
		tpl.Name = strings.ToLower(strings.TrimSpace(tpl.Name))
		if tpl.Name == "" {
			return nil, fmt.Errorf("template %d has no name", i)
		}
		if _, dup := catalog.byName[tpl.Name]; dup {
			return nil, fmt.Errorf("duplicate template %q", tpl.Name)
		}
		transportType, err := models.ParseTransportType(tpl.TransportType)
		if err != nil {
			return nil, fmt.Errorf("template %q: %w", tpl.Name, err)
		}
		tpl.TransportType = string(transportType)
		if _, err := validateURLSyntax(tpl.Url); err != nil {
			return nil, fmt.Errorf("template %q: %w", tpl.Name, err)
		}
		if tpl.DisplayName == "" {
			tpl.DisplayName = tpl.Name
		}

		catalog.byName[tpl.Name] = len(catalog.templates)
		catalog.templates = append(catalog.templates, tpl)
	}
	return catalog, nil
}

// List returns a copy of every template.
func (c *TemplateCatalog) List() []models.MCPTemplate {
	out := make([]models.MCPTemplate, len(c.templates))
	copy(out, c.templates)
	return out
}

// Get finds a template by case-insensitive name.
func (c *TemplateCatalog) Get(name string) (models.MCPTemplate, error) {
	i, ok := c.byName[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return models.MCPTemplate{}, ErrTemplateNotFound
	}
	return c.templates[i], nil
}

// Input builds a create input from a template. serverName defaults to the
// template name.
func (c *TemplateCatalog) Input(name, serverName, authToken string) (models.CreateMCPConfigInput, error) {
	tpl, err := c.Get(name)
	if err != nil {
		return models.CreateMCPConfigInput{}, err
	}
	if tpl.RequiresToken && authToken == "" {
		return models.CreateMCPConfigInput{}, &ValidationError{Field: "auth_token", Reason: fmt.Sprintf("%s requires a token", tpl.DisplayName)}
	}
	if strings.TrimSpace(serverName) == "" {
		serverName = tpl.Name
	}
	return models.CreateMCPConfigInput{
		ServerName:    serverName,
		TransportType: models.TransportType(tpl.TransportType),
		Url:           tpl.Url,
		AuthToken:     authToken,
		Template:      tpl.Name,
	}, nil
}
