package router

import (
	"github.com/gin-gonic/gin"
	"github.com/imyashkale/gengar-bark/internal/handlers"
	"github.com/imyashkale/gengar-bark/internal/middleware"
)

// Options carries the handlers and credentials the router wires together.
// A nil MCP handler or Auth leaves the REST API unmounted.
type Options struct {
	Health *handlers.HealthHandler
	MCP    *handlers.MCPHandler
	Slack  *handlers.SlackHandler

	SlackSigningSecret string
	Auth               *middleware.AuthConfig
	CORSOrigins        []string
}

// Setup configures and returns the application router
func Setup(opts Options) *gin.Engine {
	// Create a new Gin router
	router := gin.Default()

	// Apply CORS middleware globally
	router.Use(middleware.CORS(opts.CORSOrigins...))

	// Slack endpoints are authenticated by request signature
	slackGroup := router.Group("/slack", middleware.SlackSignature(opts.SlackSigningSecret))
	{
		slackGroup.POST("/events", opts.Slack.Events)
		slackGroup.POST("/commands", opts.Slack.Commands)
		slackGroup.POST("/interactions", opts.Slack.Interactions)
	}

	// API v1 routes
	v1 := router.Group("/api/v1")

	// Health check
	v1.GET("/health", opts.Health.Check)

	if opts.MCP == nil || opts.Auth == nil {
		return router
	}

	servers := v1.Group("/mcp-servers", middleware.Authentication(opts.Auth))
	{
		servers.GET("", opts.MCP.List)
		servers.POST("", opts.MCP.Create)
		servers.GET("/templates", opts.MCP.Templates)
		servers.POST("/verify", opts.MCP.Verify)
		servers.GET("/:id", opts.MCP.Get)
		servers.GET("/:id/edit", opts.MCP.GetForEdit)
		servers.PATCH("/:id", opts.MCP.Update)
		servers.DELETE("/:id", opts.MCP.Delete)
		servers.POST("/:id/enable", opts.MCP.Enable)
		servers.POST("/:id/disable", opts.MCP.Disable)
		servers.POST("/:id/verify", opts.MCP.VerifyStored)
	}

	return router
}
