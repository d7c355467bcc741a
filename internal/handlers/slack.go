package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/imyashkale/gengar-bark/internal/logger"
	"github.com/imyashkale/gengar-bark/internal/models"
	"github.com/imyashkale/gengar-bark/internal/queue"
	"github.com/imyashkale/gengar-bark/internal/services"
	"github.com/imyashkale/gengar-bark/internal/slackui"
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
)

const busyNotice = "Gengar is busy right now. Please try again in a minute."

// SlackAPI is the subset of the Slack Web API used by the adapters.
type SlackAPI interface {
	OpenViewContext(ctx context.Context, triggerID string, view slack.ModalViewRequest) (*slack.ViewResponse, error)
	PublishViewContext(ctx context.Context, req slack.PublishViewContextRequest) (*slack.ViewResponse, error)
}

// Enqueuer accepts background jobs.
type Enqueuer interface {
	Enqueue(job *queue.Job) error
}

// ResponsePoster delivers a message to a Slack response_url.
type ResponsePoster func(ctx context.Context, url string, msg *slack.WebhookMessage) error

// SlackHandler serves the Slack events, slash command and interactivity endpoints.
type SlackHandler struct {
	store       MCPConfigStore
	api         SlackAPI
	jobs        Enqueuer
	cacheTokens *services.CacheTokenCodec
	templates   *services.TemplateCatalog
	respond     ResponsePoster
}

// SlackHandlerOption configures a SlackHandler
type SlackHandlerOption func(*SlackHandler)

// WithResponsePoster replaces slack.PostWebhookContext for response_url delivery.
func WithResponsePoster(p ResponsePoster) SlackHandlerOption {
	return func(h *SlackHandler) {
		h.respond = p
	}
}

// NewSlackHandler creates a new Slack handler
func NewSlackHandler(
	store MCPConfigStore,
	api SlackAPI,
	jobs Enqueuer,
	cacheTokens *services.CacheTokenCodec,
	templates *services.TemplateCatalog,
	opts ...SlackHandlerOption,
) *SlackHandler {
	h := &SlackHandler{
		store:       store,
		api:         api,
		jobs:        jobs,
		cacheTokens: cacheTokens,
		templates:   templates,
		respond:     slack.PostWebhookContext,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Events handles the Events API endpoint
func (h *SlackHandler) Events(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "Failed to read body"})
		return
	}

	// The signature middleware has already authenticated the request.
	event, err := slackevents.ParseEvent(json.RawMessage(body), slackevents.OptionNoVerifyToken())
	if err != nil {
		logger.WithError(err).Warn("Failed to parse Slack event")
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_event", "message": "Failed to parse event"})
		return
	}

	switch event.Type {
	case slackevents.URLVerification:
		challenge, ok := event.Data.(*slackevents.EventsAPIURLVerificationEvent)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_event", "message": "Malformed url_verification"})
			return
		}
		c.String(http.StatusOK, challenge.Challenge)
		return

	case slackevents.CallbackEvent:
		if opened, ok := event.InnerEvent.Data.(*slackevents.AppHomeOpenedEvent); ok && opened.Tab == "home" {
			h.enqueue(opened.User, "publish_home", func(ctx context.Context) error {
				return h.publishHome(ctx, opened.User, "")
			})
		}
	}

	c.Status(http.StatusOK)
}

// Commands handles the /mcp slash command
func (h *SlackHandler) Commands(c *gin.Context) {
	cmd, err := slack.SlashCommandParse(c.Request)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "Failed to parse command"})
		return
	}

	ctx := c.Request.Context()
	sub, args := splitCommand(cmd.Text)

	logger.WithFields(map[string]interface{}{
		"user_id":    cmd.UserID,
		"command":    cmd.Command,
		"subcommand": sub,
	}).Debug("Slash command received")

	switch sub {
	case "", "help":
		ephemeral(c, slackui.HelpText)
	case "list":
		h.commandList(ctx, c, cmd.UserID)
	case "templates":
		ephemeralBlocks(c, "Available templates", slackui.TemplateBlocks(h.templates.List()))
	case "add":
		h.commandAdd(ctx, c, cmd, args)
	case "add-template":
		h.commandAddTemplate(ctx, c, cmd, args)
	case "enable", "disable", "delete":
		h.commandMutate(ctx, c, cmd.UserID, sub, strings.Join(args, " "))
	case "verify":
		h.commandVerify(ctx, c, cmd, strings.Join(args, " "))
	default:
		ephemeral(c, fmt.Sprintf("Unknown subcommand `%s`.\n%s", sub, slackui.HelpText))
	}
}

func (h *SlackHandler) commandList(ctx context.Context, c *gin.Context, userId string) {
	configs, err := h.store.ListConfigurations(ctx, userId)
	if err != nil {
		ephemeral(c, services.UserMessage(err))
		return
	}
	ephemeralBlocks(c, fmt.Sprintf("You have %d MCP servers", len(configs)), slackui.ListBlocks(configs))
}

func (h *SlackHandler) commandAdd(ctx context.Context, c *gin.Context, cmd slack.SlashCommand, args []string) {
	if len(args) < 3 || len(args) > 4 {
		ephemeral(c, "Usage: `/mcp add <name> <transport> <url> [token]`")
		return
	}

	in := models.CreateMCPConfigInput{
		ServerName:    args[0],
		TransportType: models.TransportType(args[1]),
		Url:           args[2],
	}
	if len(args) == 4 {
		in.AuthToken = args[3]
	}
	h.createAndVerify(ctx, c, cmd, in)
}

func (h *SlackHandler) commandAddTemplate(ctx context.Context, c *gin.Context, cmd slack.SlashCommand, args []string) {
	if len(args) < 1 || len(args) > 2 {
		ephemeral(c, "Usage: `/mcp add-template <template> [token]`")
		return
	}

	token := ""
	if len(args) == 2 {
		token = args[1]
	}
	in, err := h.templates.Input(args[0], "", token)
	if errors.Is(err, services.ErrTemplateNotFound) {
		ephemeral(c, fmt.Sprintf("No template named `%s`. Try `/mcp templates`.", args[0]))
		return
	}
	if err != nil {
		ephemeral(c, services.UserMessage(err))
		return
	}
	h.createAndVerify(ctx, c, cmd, in)
}

func (h *SlackHandler) createAndVerify(ctx context.Context, c *gin.Context, cmd slack.SlashCommand, in models.CreateMCPConfigInput) {
	cfg, err := h.store.CreateConfiguration(ctx, cmd.UserID, in)
	if err != nil {
		ephemeral(c, services.UserMessage(err))
		return
	}

	if err := h.enqueueVerify(cmd.UserID, cfg.Id, cmd.ResponseURL); err != nil {
		ephemeral(c, fmt.Sprintf(":white_check_mark: Added *%s*. Run `/mcp verify %s` to test the connection.", cfg.ServerName, cfg.ServerName))
		return
	}
	ephemeral(c, fmt.Sprintf(":white_check_mark: Added *%s*. Testing the connection…", cfg.ServerName))
}

func (h *SlackHandler) commandMutate(ctx context.Context, c *gin.Context, userId, op, name string) {
	if name == "" {
		ephemeral(c, fmt.Sprintf("Usage: `/mcp %s <name>`", op))
		return
	}

	cfg, err := h.store.GetConfigurationByName(ctx, userId, name)
	if err != nil {
		ephemeral(c, services.UserMessage(err))
		return
	}

	var text string
	switch op {
	case "enable":
		changed, err := h.store.EnableConfiguration(ctx, userId, cfg.Id)
		if err != nil {
			ephemeral(c, services.UserMessage(err))
			return
		}
		text = fmt.Sprintf("*%s* is enabled.", cfg.ServerName)
		if !changed {
			text = fmt.Sprintf("*%s* was already enabled.", cfg.ServerName)
		}
	case "disable":
		changed, err := h.store.DisableConfiguration(ctx, userId, cfg.Id)
		if err != nil {
			ephemeral(c, services.UserMessage(err))
			return
		}
		text = fmt.Sprintf("*%s* is disabled.", cfg.ServerName)
		if !changed {
			text = fmt.Sprintf("*%s* was already disabled.", cfg.ServerName)
		}
	case "delete":
		if err := h.store.DeleteConfiguration(ctx, userId, cfg.Id); err != nil {
			ephemeral(c, services.UserMessage(err))
			return
		}
		text = fmt.Sprintf("Deleted *%s*.", cfg.ServerName)
	}

	h.refreshHome(userId, "")
	ephemeral(c, text)
}

func (h *SlackHandler) commandVerify(ctx context.Context, c *gin.Context, cmd slack.SlashCommand, name string) {
	if name == "" {
		ephemeral(c, "Usage: `/mcp verify <name>`")
		return
	}

	cfg, err := h.store.GetConfigurationByName(ctx, cmd.UserID, name)
	if err != nil {
		ephemeral(c, services.UserMessage(err))
		return
	}

	if err := h.enqueueVerify(cmd.UserID, cfg.Id, cmd.ResponseURL); err != nil {
		ephemeral(c, busyNotice)
		return
	}
	ephemeral(c, fmt.Sprintf("Testing the connection to *%s*…", cfg.ServerName))
}

// Interactions handles block actions and modal submissions
func (h *SlackHandler) Interactions(c *gin.Context) {
	var callback slack.InteractionCallback
	if err := json.Unmarshal([]byte(c.Request.FormValue("payload")), &callback); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "Failed to parse payload"})
		return
	}

	switch callback.Type {
	case slack.InteractionTypeBlockActions:
		for _, action := range callback.ActionCallback.BlockActions {
			h.handleBlockAction(c.Request.Context(), callback, action)
		}
		c.Status(http.StatusOK)

	case slack.InteractionTypeViewSubmission:
		h.handleViewSubmission(c, callback)

	default:
		c.Status(http.StatusOK)
	}
}

func (h *SlackHandler) handleBlockAction(ctx context.Context, callback slack.InteractionCallback, action *slack.BlockAction) {
	userId := callback.User.ID
	fields := map[string]interface{}{
		"user_id":   userId,
		"action_id": action.ActionID,
	}

	switch action.ActionID {
	case slackui.ActionAdd:
		h.openModal(ctx, callback.TriggerID, slackui.AddModal(slackui.ModalInput{}), fields)

	case slackui.ActionTemplateSelect:
		tpl, err := h.templates.Get(action.SelectedOption.Value)
		if err != nil {
			logger.WithFields(fields).Warn("Unknown template selected")
			return
		}
		h.openModal(ctx, callback.TriggerID, slackui.AddModal(slackui.TemplateModalInput(tpl)), fields)

	case slackui.ActionEdit:
		id, cacheToken := slackui.ParseButtonValue(action.Value)
		if snapshot, err := h.cacheTokens.Parse(userId, cacheToken); err == nil && snapshot.Id == id {
			h.openModal(ctx, callback.TriggerID, slackui.EditModal(slackui.SnapshotModalInput(snapshot)), fields)
			return
		}
		view, err := h.store.GetConfigurationForEdit(ctx, userId, id)
		if err != nil {
			h.refreshHome(userId, services.UserMessage(err))
			return
		}
		h.openModal(ctx, callback.TriggerID, slackui.EditModal(slackui.EditModalInput(view)), fields)

	case slackui.ActionEnable, slackui.ActionDisable:
		id, _ := slackui.ParseButtonValue(action.Value)
		toggle := h.store.DisableConfiguration
		if action.ActionID == slackui.ActionEnable {
			toggle = h.store.EnableConfiguration
		}
		notice := ""
		if _, err := toggle(ctx, userId, id); err != nil {
			notice = services.UserMessage(err)
		}
		h.refreshHome(userId, notice)

	case slackui.ActionDelete:
		id, _ := slackui.ParseButtonValue(action.Value)
		notice := ""
		if err := h.store.DeleteConfiguration(ctx, userId, id); err != nil {
			notice = services.UserMessage(err)
		}
		h.refreshHome(userId, notice)

	case slackui.ActionVerify:
		id, _ := slackui.ParseButtonValue(action.Value)
		if err := h.enqueueVerify(userId, id, callback.ResponseURL); err != nil {
			h.refreshHome(userId, busyNotice)
		}

	default:
		logger.WithFields(fields).Debug("Ignoring unknown block action")
	}
}

func (h *SlackHandler) handleViewSubmission(c *gin.Context, callback slack.InteractionCallback) {
	ctx := c.Request.Context()
	userId := callback.User.ID
	sub := slackui.ParseSubmission(callback.View)

	meta, err := slackui.DecodeMetadata(callback.View.PrivateMetadata)
	if err != nil {
		logger.WithError(err).Warn("Discarding modal with unreadable metadata")
		c.JSON(http.StatusOK, slack.NewErrorsViewSubmissionResponse(map[string]string{
			slackui.BlockServerName: "This form has expired. Please close it and try again.",
		}))
		return
	}

	var cfg *models.RedactedMCPServerConfig
	switch callback.View.CallbackID {
	case slackui.CallbackAddModal:
		cfg, err = h.store.CreateConfiguration(ctx, userId, models.CreateMCPConfigInput{
			ServerName:    sub.ServerName,
			TransportType: models.TransportType(sub.TransportType),
			Url:           sub.Url,
			AuthToken:     sub.AuthToken,
			Template:      meta.Template,
		})
	case slackui.CallbackEditModal:
		patch := models.MCPConfigPatch{
			ServerName: &sub.ServerName,
			Url:        &sub.Url,
			AuthToken:  &sub.AuthToken,
		}
		transport := models.TransportType(sub.TransportType)
		patch.TransportType = &transport
		if meta.Revision > 0 {
			patch.ExpectedRevision = &meta.Revision
		}
		cfg, err = h.store.UpdateConfiguration(ctx, userId, meta.ConfigId, patch)
	default:
		c.Status(http.StatusOK)
		return
	}

	if err != nil {
		c.JSON(http.StatusOK, slack.NewErrorsViewSubmissionResponse(modalErrors(err)))
		return
	}

	if cfg.VerificationStatus == models.VerificationUnverified {
		if err := h.enqueueVerify(userId, cfg.Id, ""); err != nil {
			h.refreshHome(userId, busyNotice)
		}
	} else {
		h.refreshHome(userId, "")
	}
	c.Status(http.StatusOK)
}

// modalErrors maps a store error onto the modal block that should display it.
func modalErrors(err error) map[string]string {
	var ve *services.ValidationError
	switch {
	case errors.As(err, &ve):
		if block := slackui.FieldBlock(ve.Field); block != "" {
			return map[string]string{block: ve.Reason}
		}
	case services.IsUnsafeURLError(err):
		return map[string]string{slackui.BlockURL: services.UserMessage(err)}
	}
	return map[string]string{slackui.BlockServerName: services.UserMessage(err)}
}

func (h *SlackHandler) openModal(ctx context.Context, triggerID string, modal slack.ModalViewRequest, fields map[string]interface{}) {
	if _, err := h.api.OpenViewContext(ctx, triggerID, modal); err != nil {
		fields["error"] = err.Error()
		logger.WithFields(fields).Error("Failed to open modal")
	}
}

// enqueueVerify schedules a connectivity check. The outcome goes to responseURL
// when set and the App Home is refreshed either way.
func (h *SlackHandler) enqueueVerify(userId, id, responseURL string) error {
	return h.enqueue(userId, "verify", func(ctx context.Context) error {
		cfg, result, err := h.store.VerifyStoredConfiguration(ctx, userId, id)
		if err != nil {
			h.post(ctx, responseURL, services.UserMessage(err))
			return err
		}

		h.post(ctx, responseURL, slackui.VerificationText(cfg.ServerName, result))
		return h.publishHome(ctx, userId, "")
	})
}

func (h *SlackHandler) refreshHome(userId, notice string) {
	h.enqueue(userId, "publish_home", func(ctx context.Context) error {
		return h.publishHome(ctx, userId, notice)
	})
}

func (h *SlackHandler) enqueue(userId, operation string, fn func(ctx context.Context) error) error {
	err := h.jobs.Enqueue(&queue.Job{
		ID:        uuid.New().String(),
		UserID:    userId,
		Operation: operation,
		Execute:   fn,
	})
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"user_id":   userId,
			"operation": operation,
			"error":     err.Error(),
		}).Warn("Failed to schedule Slack job")
	}
	return err
}

// publishHome renders and publishes the user's App Home.
func (h *SlackHandler) publishHome(ctx context.Context, userId, notice string) error {
	configs, err := h.store.ListConfigurations(ctx, userId)
	if err != nil {
		return err
	}

	tokens := make(map[string]string, len(configs))
	for _, cfg := range configs {
		token, err := h.cacheTokens.Issue(userId, cfg)
		if err != nil {
			logger.WithError(err).Warn("Failed to issue cache token")
			continue
		}
		tokens[cfg.Id] = token
	}

	view := slackui.HomeView(slackui.HomeInput{
		Configs:     configs,
		Templates:   h.templates.List(),
		CacheTokens: tokens,
		Notice:      notice,
	})
	if _, err := h.api.PublishViewContext(ctx, slack.PublishViewContextRequest{UserID: userId, View: view}); err != nil {
		return fmt.Errorf("failed to publish home view: %w", err)
	}
	return nil
}

func (h *SlackHandler) post(ctx context.Context, responseURL, text string) {
	if responseURL == "" {
		return
	}
	err := h.respond(ctx, responseURL, &slack.WebhookMessage{
		Text:         text,
		ResponseType: slack.ResponseTypeEphemeral,
	})
	if err != nil {
		logger.WithError(err).Warn("Failed to post to response_url")
	}
}

// splitCommand splits "/mcp" text into a lower-cased subcommand and its arguments.
func splitCommand(text string) (string, []string) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return "", nil
	}
	return strings.ToLower(fields[0]), fields[1:]
}

func ephemeral(c *gin.Context, text string) {
	c.JSON(http.StatusOK, slack.Msg{
		ResponseType: slack.ResponseTypeEphemeral,
		Text:         text,
	})
}

func ephemeralBlocks(c *gin.Context, text string, blocks []slack.Block) {
	c.JSON(http.StatusOK, slack.Msg{
		ResponseType: slack.ResponseTypeEphemeral,
		Text:         text,
		Blocks:       slack.Blocks{BlockSet: blocks},
	})
}
