package main

import (
	"context"
	"fmt"
	"os"

	"github.com/brightmark/assignment-backend/internal/assignment/extract"
	"github.com/brightmark/assignment-backend/internal/assignment/parser"
	"github.com/brightmark/assignment-backend/internal/diagram/agent"
	"github.com/brightmark/assignment-backend/internal/diagram/render"
	"github.com/brightmark/assignment-backend/internal/diagram/router"
	httpserver "github.com/brightmark/assignment-backend/internal/http"
	httpH "github.com/brightmark/assignment-backend/internal/http/handlers"
	"github.com/brightmark/assignment-backend/internal/observability"
	"github.com/brightmark/assignment-backend/internal/platform/envutil"
	"github.com/brightmark/assignment-backend/internal/platform/gcp"
	"github.com/brightmark/assignment-backend/internal/platform/localmedia"
	"github.com/brightmark/assignment-backend/internal/platform/logger"
	"github.com/brightmark/assignment-backend/internal/platform/openai"
	"github.com/brightmark/assignment-backend/internal/services"
)

func main() {
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx := context.Background()

	var metrics *observability.Metrics
	if observability.Enabled() {
		metrics = observability.Init(log)
		metrics.StartServer(ctx, log, envutil.Str("METRICS_ADDR", ":9091"))
	}

	log.Info("Setting up platform clients...")
	llm, err := openai.NewClient(log)
	if err != nil {
		log.Error("Could not init OpenAI client", "error", err)
		os.Exit(1)
	}

	buckets, err := gcp.NewBucketService(log)
	if err != nil {
		log.Warn("Bucket service unavailable, storage features degraded", "error", err)
		buckets = nil
	}

	detector, err := gcp.NewObjectDetector(log)
	if err != nil {
		log.Warn("Object detector unavailable, diagram localization disabled", "error", err)
		detector = nil
	}

	media := localmedia.New(log)
	if err := media.AssertReady(ctx); err != nil {
		log.Warn("Local media tooling incomplete", "error", err)
	}

	log.Info("Setting up services...")
	extractor := extract.NewExtractor(log, media, llm, buckets)
	assignmentParser := parser.NewParser(log, llm, detector, buckets)
	domainRouter := router.NewDomainRouter(log, llm)
	renderer := render.NewRenderer(log, llm, media)
	diagramAgent := agent.NewAgent(log, llm, domainRouter, renderer, buckets)
	documentService := services.NewDocumentService(log, extractor, assignmentParser, diagramAgent, buckets)

	server := httpserver.NewServer(httpserver.RouterConfig{
		Log:             log,
		DocumentHandler: httpH.NewDocumentHandler(log, documentService),
		HealthHandler:   httpH.NewHealthHandler(),
		Metrics:         metrics,
	})

	addr := envutil.Str("SERVER_ADDR", ":8080")
	log.Info("Starting server", "addr", addr)
	if err := server.Run(addr); err != nil {
		log.Error("Server exited", "error", err)
		os.Exit(1)
	}
}
