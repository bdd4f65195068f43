package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"oliver-os/backend/internal/adapter"
	"oliver-os/backend/internal/capture"
	"oliver-os/backend/internal/graph"
	"oliver-os/backend/internal/linking"
	"oliver-os/backend/internal/organizer"
	"oliver-os/backend/internal/pipeline"
	"oliver-os/backend/pkg/config"
	"oliver-os/backend/pkg/logger"
)

func main() {
	// Load configuration first so the logger knows the environment
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load configuration: %v", err))
	}

	if err := logger.Init(cfg.Env); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	log := logger.Get()
	log.Info("Starting second brain server...")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Capture store (SQLite)
	captures, err := capture.NewStore(cfg.SQLitePath)
	if err != nil {
		log.Fatal("Failed to open capture store", zap.Error(err))
	}
	defer captures.Close()

	// LLM adapter
	llm := adapter.NewLLMAdapter(cfg.LiteLLMURL, cfg.OpenRouterAPIKey, cfg.ModelID, cfg.EmbeddingModelID)

	// Graph store
	store, cleanup, err := newGraphStore(ctx, cfg, llm)
	if err != nil {
		log.Fatal("Failed to initialize graph store", zap.Error(err))
	}
	defer cleanup()

	// Linking engine, organizer and queue driver
	engine := linking.NewEngine(store, cfg.LinkThreshold, cfg.MaxLinks)
	org := organizer.New(captures, store, llm, engine)
	driver := pipeline.NewDriver(captures, org, cfg.PollInterval, cfg.BatchSize)

	// Setup Gin router
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(ginLogger(log))
	router.Use(gin.Recovery())

	registerRoutes(router, store, captures, engine, org, log)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := driver.Run(groupCtx); err != nil && err != context.Canceled {
			return err
		}
		return nil
	})
	group.Go(func() error {
		log.Info("Server started", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		log.Error("Server exited with error", zap.Error(err))
		return
	}
	log.Info("Server exited")
}

// newGraphStore picks the configured graph backend. The in-memory store is
// the default; Neo4j requires connectivity at startup.
func newGraphStore(ctx context.Context, cfg *config.Config, embedder graph.Embedder) (graph.Store, func(), error) {
	if cfg.GraphBackend == "neo4j" {
		driver, err := neo4j.NewDriverWithContext(
			cfg.Neo4jURI,
			neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPassword, ""),
		)
		if err != nil {
			return nil, nil, err
		}
		if err := driver.VerifyConnectivity(ctx); err != nil {
			driver.Close(context.Background())
			return nil, nil, err
		}
		store := graph.NewNeo4jStore(driver, embedder)
		return store, func() { driver.Close(context.Background()) }, nil
	}
	return graph.NewMemoryStore(embedder), func() {}, nil
}

// ginLogger is a custom logger middleware for Gin
func ginLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		if raw != "" {
			path = path + "?" + raw
		}

		log.Info("HTTP Request",
			zap.Int("status", status),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Duration("latency", latency),
			zap.String("ip", c.ClientIP()),
		)
	}
}
