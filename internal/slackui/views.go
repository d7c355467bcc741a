package slackui

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/imyashkale/gengar-bark/internal/models"
	"github.com/slack-go/slack"
)

// Action IDs for App Home and message buttons.
const (
	ActionAdd            = "mcp_add"
	ActionEdit           = "mcp_edit"
	ActionEnable         = "mcp_enable"
	ActionDisable        = "mcp_disable"
	ActionDelete         = "mcp_delete"
	ActionVerify         = "mcp_verify"
	ActionTemplateSelect = "mcp_template_select"
)

// Modal callback IDs.
const (
	CallbackAddModal  = "mcp_add_modal"
	CallbackEditModal = "mcp_edit_modal"
)

// Modal input block IDs. Each block holds a single element with action ID InputAction.
const (
	BlockServerName = "mcp_server_name"
	BlockTransport  = "mcp_transport_type"
	BlockURL        = "mcp_url"
	BlockAuthToken  = "mcp_auth_token"
	InputAction     = "value"
)

const (
	// MaxButtonValue is the longest value Slack accepts on a button.
	MaxButtonValue = 2000
	// MaxHomeServers bounds the App Home to stay under Slack's 100 block limit.
	MaxHomeServers = 30

	maxSectionText = 3000
	maxOptionText  = 75
)

// ButtonValue packs a configuration ID and its cache token into a button
// value. The token is dropped when the result would exceed MaxButtonValue.
func ButtonValue(id, cacheToken string) string {
	if cacheToken == "" || len(id)+1+len(cacheToken) > MaxButtonValue {
		return id
	}
	return id + "|" + cacheToken
}

// ParseButtonValue is the inverse of ButtonValue.
func ParseButtonValue(value string) (id, cacheToken string) {
	id, cacheToken, _ = strings.Cut(value, "|")
	return id, cacheToken
}

// HomeInput is everything rendered on a user's App Home.
type HomeInput struct {
	Configs     []*models.RedactedMCPServerConfig
	Templates   []models.MCPTemplate
	CacheTokens map[string]string // config ID to cache token
	Notice      string
}

// HomeView renders the App Home tab.
func HomeView(in HomeInput) slack.HomeTabViewRequest {
	blocks := []slack.Block{
		slack.NewHeaderBlock(plain("MCP servers")),
		slack.NewSectionBlock(
			mrkdwn("Connect Gengar to remote MCP servers. Tokens are encrypted at rest and never shown again after you save them."),
			nil, nil),
	}

	if in.Notice != "" {
		blocks = append(blocks, slack.NewContextBlock("mcp_notice", mrkdwn(truncate(in.Notice, maxSectionText))))
	}

	controls := []slack.BlockElement{
		slack.NewButtonBlockElement(ActionAdd, "add", plain("Add server")).WithStyle(slack.StylePrimary),
	}
	if len(in.Templates) > 0 {
		options := make([]*slack.OptionBlockObject, 0, len(in.Templates))
		for _, tpl := range in.Templates {
			label := tpl.DisplayName
			if label == "" {
				label = tpl.Name
			}
			options = append(options, slack.NewOptionBlockObject(tpl.Name, plain(truncate(label, maxOptionText)), nil))
		}
		controls = append(controls, slack.NewOptionsSelectBlockElement(
			slack.OptTypeStatic, plain("Add from template"), ActionTemplateSelect, options...))
	}
	blocks = append(blocks, slack.NewActionBlock("mcp_controls", controls...), slack.NewDividerBlock())

	if len(in.Configs) == 0 {
		blocks = append(blocks, slack.NewSectionBlock(
			mrkdwn("You have no MCP servers yet. Add one to give Gengar new tools."), nil, nil))
	}

	shown := in.Configs
	if len(shown) > MaxHomeServers {
		shown = shown[:MaxHomeServers]
	}
	for _, cfg := range shown {
		blocks = append(blocks, ConfigBlocks(cfg, in.CacheTokens[cfg.Id])...)
		blocks = append(blocks, slack.NewDividerBlock())
	}
	if hidden := len(in.Configs) - len(shown); hidden > 0 {
		blocks = append(blocks, slack.NewContextBlock("mcp_more",
			mrkdwn(fmt.Sprintf("%d more servers not shown. Use `/mcp list` to see all of them.", hidden))))
	}

	return slack.HomeTabViewRequest{
		Type:   slack.VTHomeTab,
		Blocks: slack.Blocks{BlockSet: blocks},
	}
}

// ConfigBlocks renders one configuration as a section plus its action buttons.
func ConfigBlocks(cfg *models.RedactedMCPServerConfig, cacheToken string) []slack.Block {
	value := ButtonValue(cfg.Id, cacheToken)

	toggle := slack.NewButtonBlockElement(ActionDisable, value, plain("Disable"))
	if !cfg.Enabled {
		toggle = slack.NewButtonBlockElement(ActionEnable, value, plain("Enable"))
	}

	remove := slack.NewButtonBlockElement(ActionDelete, value, plain("Delete")).WithStyle(slack.StyleDanger)
	remove.Confirm = slack.NewConfirmationBlockObject(
		plain("Delete server?"),
		mrkdwn(fmt.Sprintf("This removes *%s* and its stored token.", escape(cfg.ServerName))),
		plain("Delete"),
		plain("Cancel"))

	return []slack.Block{
		slack.NewSectionBlock(mrkdwn(ConfigSummary(cfg)), nil, nil, slack.SectionBlockOptionBlockID("mcp_cfg_"+cfg.Id)),
		slack.NewActionBlock("mcp_actions_"+cfg.Id,
			slack.NewButtonBlockElement(ActionEdit, value, plain("Edit")),
			toggle,
			slack.NewButtonBlockElement(ActionVerify, value, plain("Test connection")),
			remove,
		),
	}
}

// ConfigSummary is the mrkdwn description of a configuration used in the App
// Home and in command responses.
func ConfigSummary(cfg *models.RedactedMCPServerConfig) string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s *%s*", cfg.VerificationStatus.Emoji(), escape(cfg.ServerName))
	if !cfg.Enabled {
		b.WriteString("  _(disabled)_")
	}
	fmt.Fprintf(&b, "\n%s · `%s`", cfg.TransportType.Label(), escape(truncate(cfg.Url, 200)))
	if cfg.TokenStored {
		b.WriteString(" · :lock: token stored")
	}

	switch cfg.VerificationStatus {
	case models.VerificationVerified:
		if n := cfg.ToolCount(); n >= 0 {
			fmt.Fprintf(&b, "\nVerified · %d tools", n)
		} else {
			b.WriteString("\nVerified")
		}
	case models.VerificationFailed:
		fmt.Fprintf(&b, "\n:warning: %s", escape(truncate(cfg.VerificationError, 500)))
	default:
		b.WriteString("\nNot verified yet")
	}

	return truncate(b.String(), maxSectionText)
}

// ModalMetadata travels in a modal's private_metadata.
type ModalMetadata struct {
	ConfigId string `json:"id,omitempty"`
	Revision int64  `json:"rev,omitempty"`
	Template string `json:"tpl,omitempty"`
}

// EncodeMetadata serializes m for private_metadata.
func EncodeMetadata(m ModalMetadata) string {
	data, err := json.Marshal(m)
	if err != nil {
		return ""
	}
	return string(data)
}

// DecodeMetadata parses private_metadata written by EncodeMetadata. Empty input
// yields zero metadata.
func DecodeMetadata(s string) (ModalMetadata, error) {
	var m ModalMetadata
	if s == "" {
		return m, nil
	}
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return m, fmt.Errorf("invalid modal metadata: %w", err)
	}
	return m, nil
}

// ModalInput prefills the add/edit modal.
type ModalInput struct {
	Metadata      ModalMetadata
	ServerName    string
	TransportType models.TransportType
	Url           string
	AuthToken     string // the placeholder when editing a record with a token
	TokenHint     string
}

// AddModal renders an empty or template-prefilled add form.
func AddModal(in ModalInput) slack.ModalViewRequest {
	return configModal(CallbackAddModal, "Add MCP server", "Save", in)
}

// EditModal renders the edit form for an existing configuration.
func EditModal(in ModalInput) slack.ModalViewRequest {
	return configModal(CallbackEditModal, "Edit MCP server", "Update", in)
}

// TemplateModalInput prefills an add form from a template.
func TemplateModalInput(tpl models.MCPTemplate) ModalInput {
	transport, err := models.ParseTransportType(tpl.TransportType)
	if err != nil {
		transport = models.TransportStreamableHTTP
	}
	hint := tpl.TokenHint
	if hint == "" && tpl.RequiresToken {
		hint = "This server requires an auth token."
	}
	return ModalInput{
		Metadata:      ModalMetadata{Template: tpl.Name},
		ServerName:    tpl.Name,
		TransportType: transport,
		Url:           tpl.Url,
		TokenHint:     hint,
	}
}

// EditModalInput prefills an edit form from a stored configuration.
func EditModalInput(view *models.MCPServerEditView) ModalInput {
	return ModalInput{
		Metadata:      ModalMetadata{ConfigId: view.Id, Revision: view.Revision},
		ServerName:    view.ServerName,
		TransportType: view.TransportType,
		Url:           view.Url,
		AuthToken:     view.AuthToken,
	}
}

// SnapshotModalInput prefills an edit form from a cache token snapshot.
func SnapshotModalInput(s *models.ConfigSnapshot) ModalInput {
	in := ModalInput{
		Metadata:      ModalMetadata{ConfigId: s.Id, Revision: s.Revision},
		ServerName:    s.ServerName,
		TransportType: models.TransportType(s.TransportType),
		Url:           s.Url,
	}
	if s.HasAuthToken {
		in.AuthToken = models.AuthTokenPlaceholder
	}
	return in
}

func configModal(callbackID, title, submit string, in ModalInput) slack.ModalViewRequest {
	name := slack.NewPlainTextInputBlockElement(plain("e.g. github"), InputAction).
		WithMaxLength(64)
	if in.ServerName != "" {
		name = name.WithInitialValue(in.ServerName)
	}

	options := make([]*slack.OptionBlockObject, 0, len(models.TransportTypes))
	var initial *slack.OptionBlockObject
	for _, t := range models.TransportTypes {
		opt := slack.NewOptionBlockObject(string(t), plain(t.Label()), nil)
		if t == in.TransportType {
			initial = opt
		}
		options = append(options, opt)
	}
	if initial == nil {
		initial = options[0]
	}
	transport := slack.NewOptionsSelectBlockElement(slack.OptTypeStatic, plain("Transport"), InputAction, options...).
		WithInitialOption(initial)

	url := slack.NewURLTextInputBlockElement(plain("https://mcp.example.com/mcp"), InputAction)
	url.InitialValue = in.Url

	token := slack.NewPlainTextInputBlockElement(plain("Paste a bearer token"), InputAction)
	if in.AuthToken != "" {
		token = token.WithInitialValue(in.AuthToken)
	}

	tokenHint := in.TokenHint
	if in.AuthToken == models.AuthTokenPlaceholder {
		tokenHint = "Leave the dots to keep the stored token. Clear the field to remove it."
	}
	var hint *slack.TextBlockObject
	if tokenHint != "" {
		hint = plain(truncate(tokenHint, 150))
	}

	tokenBlock := slack.NewInputBlock(BlockAuthToken, plain("Auth token"), hint, token)
	tokenBlock.Optional = true

	return slack.ModalViewRequest{
		Type:            slack.VTModal,
		CallbackID:      callbackID,
		Title:           plain(title),
		Submit:          plain(submit),
		Close:           plain("Cancel"),
		PrivateMetadata: EncodeMetadata(in.Metadata),
		Blocks: slack.Blocks{
			BlockSet: []slack.Block{
				slack.NewInputBlock(BlockServerName, plain("Name"), nil, name),
				slack.NewInputBlock(BlockTransport, plain("Transport"), nil, transport),
				slack.NewInputBlock(BlockURL, plain("Server URL"), plain("Must be a public http or https address."), url),
				tokenBlock,
			},
		},
	}
}

// Submission holds the values of a submitted add/edit modal.
type Submission struct {
	ServerName    string
	TransportType string
	Url           string
	AuthToken     string
}

// ParseSubmission reads the input values of a submitted modal.
func ParseSubmission(view slack.View) Submission {
	var s Submission
	if view.State == nil {
		return s
	}
	values := view.State.Values

	s.ServerName = strings.TrimSpace(values[BlockServerName][InputAction].Value)
	s.TransportType = values[BlockTransport][InputAction].SelectedOption.Value
	s.Url = strings.TrimSpace(values[BlockURL][InputAction].Value)
	s.AuthToken = strings.TrimSpace(values[BlockAuthToken][InputAction].Value)
	return s
}

// FieldBlock maps a store validation field to the modal block that shows its error.
func FieldBlock(field string) string {
	switch field {
	case "server_name":
		return BlockServerName
	case "transport_type":
		return BlockTransport
	case "url":
		return BlockURL
	case "auth_token":
		return BlockAuthToken
	}
	return ""
}

// ListBlocks renders the /mcp list response.
func ListBlocks(configs []*models.RedactedMCPServerConfig) []slack.Block {
	if len(configs) == 0 {
		return []slack.Block{slack.NewSectionBlock(
			mrkdwn("You have no MCP servers. Try `/mcp add <name> <transport> <url> [token]` or `/mcp templates`."), nil, nil)}
	}

	blocks := []slack.Block{
		slack.NewSectionBlock(mrkdwn(fmt.Sprintf("*Your MCP servers* (%d)", len(configs))), nil, nil),
	}
	for i, cfg := range configs {
		if i >= MaxHomeServers {
			blocks = append(blocks, slack.NewContextBlock("", mrkdwn(fmt.Sprintf("…and %d more", len(configs)-i))))
			break
		}
		blocks = append(blocks, slack.NewSectionBlock(mrkdwn(ConfigSummary(cfg)), nil, nil))
	}
	return blocks
}

// TemplateBlocks renders the /mcp templates response.
func TemplateBlocks(templates []models.MCPTemplate) []slack.Block {
	if len(templates) == 0 {
		return []slack.Block{slack.NewSectionBlock(mrkdwn("No templates are configured."), nil, nil)}
	}

	lines := make([]string, 0, len(templates)+1)
	lines = append(lines, "*Available templates*")
	for _, tpl := range templates {
		line := fmt.Sprintf("• `%s` %s: %s", tpl.Name, escape(tpl.DisplayName), escape(tpl.Description))
		if tpl.RequiresToken {
			line += " _(token required)_"
		}
		lines = append(lines, line)
	}
	lines = append(lines, "Use `/mcp add-template <template> [token]` to add one.")
	return []slack.Block{slack.NewSectionBlock(mrkdwn(truncate(strings.Join(lines, "\n"), maxSectionText)), nil, nil)}
}

// VerificationText describes a verification outcome for a chat message.
func VerificationText(serverName string, vr models.VerificationResult) string {
	if vr.Success {
		caps := models.MCPServerConfig{Capabilities: vr.Capabilities}
		if n := caps.ToolCount(); n >= 0 {
			return fmt.Sprintf(":large_green_circle: Connected to *%s*. %d tools available.", escape(serverName), n)
		}
		return fmt.Sprintf(":large_green_circle: Connected to *%s*.", escape(serverName))
	}
	return fmt.Sprintf(":red_circle: Could not connect to *%s*: %s", escape(serverName), escape(vr.Error))
}

// HelpText is the /mcp help response.
const HelpText = "*Manage your MCP servers*\n" +
	"• `/mcp list` show your servers\n" +
	"• `/mcp add <name> <transport> <url> [token]` add a server (transport: streamablehttp, sse or websocket)\n" +
	"• `/mcp add-template <template> [token]` add a server from a template\n" +
	"• `/mcp templates` list templates\n" +
	"• `/mcp enable <name>` / `/mcp disable <name>`\n" +
	"• `/mcp verify <name>` test the connection\n" +
	"• `/mcp delete <name>`\n" +
	"Open the app's Home tab to manage servers with buttons."

func plain(text string) *slack.TextBlockObject {
	return slack.NewTextBlockObject(slack.PlainTextType, text, false, false)
}

func mrkdwn(text string) *slack.TextBlockObject {
	return slack.NewTextBlockObject(slack.MarkdownType, text, false, false)
}

// escape neutralizes the three characters Slack treats as control sequences.
func escape(s string) string {
	return strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;").Replace(s)
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max-1]) + "…"
}
