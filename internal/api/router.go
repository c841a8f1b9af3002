package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"inkwell/internal/broker"
	"inkwell/internal/coauthor"
	"inkwell/internal/ratelimit"
	"inkwell/internal/scope"
)

func NewRouter(bus *broker.Broker, controller *coauthor.Controller, limiter *ratelimit.Limiter, authz *scope.Authorizer, logger *slog.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware())
	r.Use(CORSMiddleware())
	r.Use(RequestIDMiddleware())
	r.Use(PrincipalMiddleware())

	// Global health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, HealthResponse{
			Status:    "ok",
			Timestamp: formatTime(time.Now()),
		})
	})

	streamHandler := NewStreamHandler(bus, authz, logger)
	coAuthorHandler := NewCoAuthorHandler(controller, limiter, logger)

	v1 := r.Group("/api/v1")
	{
		v1.GET("/events/stream", streamHandler.Subscribe)

		sections := v1.Group("/documents/:docId/sections/:sectionId/coauthor")
		{
			sections.POST("/analyze", coAuthorHandler.StartAnalysis)
			sections.POST("/proposals", coAuthorHandler.StartProposal)

			sessions := sections.Group("/sessions/:sessionId")
			{
				sessions.POST("/cancel", coAuthorHandler.Cancel)
				sessions.POST("/retry", coAuthorHandler.Retry)
				sessions.POST("/approve", coAuthorHandler.Approve)
				sessions.POST("/reject", coAuthorHandler.Reject)
				sessions.DELETE("", coAuthorHandler.Teardown)
			}
		}
	}

	return r
}
