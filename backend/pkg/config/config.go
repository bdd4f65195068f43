package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// App
	Port string
	Env  string

	// Capture store
	SQLitePath string

	// Graph backend: "memory" (reference) or "neo4j"
	GraphBackend  string
	Neo4jURI      string
	Neo4jUser     string
	Neo4jPassword string

	// AI
	LiteLLMURL       string
	ModelID          string
	EmbeddingModelID string
	OpenRouterAPIKey string

	// Pipeline
	PollInterval time.Duration
	BatchSize    int

	// Linking
	LinkThreshold float64
	MaxLinks      int
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Try to load .env file, but don't fail if it doesn't exist
	_ = godotenv.Load()

	cfg := &Config{
		Port:             getEnv("PORT", "8080"),
		Env:              getEnv("ENV", "development"),
		SQLitePath:       getEnv("SQLITE_PATH", "data/captures.db"),
		GraphBackend:     getEnv("GRAPH_BACKEND", "memory"),
		Neo4jURI:         getEnv("NEO4J_URI", "bolt://localhost:7687"),
		Neo4jUser:        getEnv("NEO4J_USER", "neo4j"),
		Neo4jPassword:    getEnv("NEO4J_PASSWORD", "password"),
		LiteLLMURL:       getEnv("LITELLM_URL", "http://localhost:4000"),
		ModelID:          getEnv("MODEL_ID", "openrouter/anthropic/claude-3.5-sonnet"),
		EmbeddingModelID: getEnv("EMBEDDING_MODEL_ID", "text-embedding-3-small"),
		OpenRouterAPIKey: getEnv("OPENROUTER_API_KEY", ""),
		PollInterval:     getEnvDuration("QUEUE_POLL_INTERVAL", 5*time.Second),
		BatchSize:        getEnvInt("QUEUE_BATCH_SIZE", 5),
		LinkThreshold:    getEnvFloat("LINK_THRESHOLD", 0.6),
		MaxLinks:         getEnvInt("MAX_LINKS", 7),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that required configuration values are set
func (c *Config) Validate() error {
	if c.SQLitePath == "" {
		return fmt.Errorf("SQLITE_PATH is required")
	}
	if c.GraphBackend != "memory" && c.GraphBackend != "neo4j" {
		return fmt.Errorf("GRAPH_BACKEND must be 'memory' or 'neo4j', got %q", c.GraphBackend)
	}
	if c.GraphBackend == "neo4j" {
		if c.Neo4jURI == "" {
			return fmt.Errorf("NEO4J_URI is required for the neo4j graph backend")
		}
		if c.Neo4jUser == "" {
			return fmt.Errorf("NEO4J_USER is required for the neo4j graph backend")
		}
	}
	if c.LiteLLMURL == "" {
		return fmt.Errorf("LITELLM_URL is required")
	}
	if c.ModelID == "" {
		return fmt.Errorf("MODEL_ID is required")
	}
	if c.LinkThreshold < 0 || c.LinkThreshold > 1 {
		return fmt.Errorf("LINK_THRESHOLD must be in [0,1], got %f", c.LinkThreshold)
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("QUEUE_BATCH_SIZE must be at least 1")
	}
	// OpenRouter API key is optional for development (LiteLLM proxies auth)
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		var result float64
		if _, err := fmt.Sscanf(value, "%f", &result); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var result int
		if _, err := fmt.Sscanf(value, "%d", &result); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
