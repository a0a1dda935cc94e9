package http

import (
	"github.com/gin-gonic/gin"

	httpH "github.com/brightmark/assignment-backend/internal/http/handlers"
	httpMW "github.com/brightmark/assignment-backend/internal/http/middleware"
	"github.com/brightmark/assignment-backend/internal/observability"
	"github.com/brightmark/assignment-backend/internal/platform/logger"
)

type RouterConfig struct {
	Log *logger.Logger

	DocumentHandler *httpH.DocumentHandler
	HealthHandler   *httpH.HealthHandler

	Metrics *observability.Metrics
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpMW.CORS())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.Metrics(cfg.Metrics))

	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
	}

	api := r.Group("/api")
	{
		if cfg.DocumentHandler != nil {
			api.POST("/documents/extract", cfg.DocumentHandler.ExtractDocument)
			api.POST("/assignments/:id/diagrams", cfg.DocumentHandler.GenerateDiagrams)
		}
	}

	return r
}
