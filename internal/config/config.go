package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
type Config struct {
	// Embedding endpoint
	EmbeddingBaseURL   string
	EmbeddingAPIKey    string
	EmbeddingModelName string
	EmbeddingDim       int

	// Persistence
	DBPath string

	// Optional Qdrant mirror index. Empty QDRANT_URL disables it.
	QdrantURL        string
	QdrantCollection string

	// Import pipeline
	ImportBatchSize int

	// Background embedding
	EmbedBatchSize  int
	EmbedBatchDelay time.Duration

	// Message-level retrieval (RAG context)
	RAGSimilarityFloor float64
	RAGTopK            int

	// Conversation-level semantic search
	SearchSimilarityFloor float64
	SearchTopK            int
	SearchConversationCap int
	SearchMessageCap      int
	SearchDebounce        time.Duration

	// HTTP surface
	APIPort string

	// Logging
	LogLevel  slog.Level
	LogFormat string
}

// Load reads configuration from environment variables and returns a Config struct.
// It applies defaults for optional fields and validates required fields.
// If a .env file exists in the current directory or project root, it will be loaded automatically.
// Environment variables already set take precedence over .env file values.
func Load() (*Config, error) {
	_ = godotenv.Load() // Try current directory

	// Walk up from the working directory looking for a .env at the project root.
	wd, err := os.Getwd()
	if err == nil {
		dir := wd
		for i := 0; i < 5; i++ {
			envPath := filepath.Join(dir, ".env")
			if _, err := os.Stat(envPath); err == nil {
				_ = godotenv.Load(envPath)
				break
			}
			parent := filepath.Dir(dir)
			if parent == dir {
				break
			}
			dir = parent
		}
	}

	cfg := &Config{
		EmbeddingBaseURL:   getEnv("EMBEDDING_BASE_URL", "https://api.openai.com"),
		EmbeddingAPIKey:    getEnv("EMBEDDING_API_KEY", ""),
		EmbeddingModelName: getEnv("EMBEDDING_MODEL_NAME", "text-embedding-3-small"),
		DBPath:             getEnv("DB_PATH", "./data/chatvault.db"),
		QdrantURL:          getEnv("QDRANT_URL", ""),
		QdrantCollection:   getEnv("QDRANT_COLLECTION", "messages"),
		APIPort:            getEnv("API_PORT", "9000"),
		LogFormat:          getEnv("LOG_FORMAT", "text"),
	}

	// EMBEDDING_DIM must match the embedding model's output dimensionality.
	// Vectors of mismatched dimensionality are never compared; changing the
	// model means re-embedding the corpus and, if a Qdrant mirror is
	// configured, recreating the collection.
	cfg.EmbeddingDim, err = getEnvInt("EMBEDDING_DIM", 1536)
	if err != nil {
		return nil, err
	}
	if cfg.EmbeddingDim <= 0 {
		return nil, fmt.Errorf("EMBEDDING_DIM must be greater than 0")
	}

	if cfg.ImportBatchSize, err = getEnvInt("IMPORT_BATCH_SIZE", 50); err != nil {
		return nil, err
	}
	if cfg.EmbedBatchSize, err = getEnvInt("EMBED_BATCH_SIZE", 10); err != nil {
		return nil, err
	}
	if cfg.EmbedBatchDelay, err = getEnvDuration("EMBED_BATCH_DELAY", 200*time.Millisecond); err != nil {
		return nil, err
	}
	if cfg.RAGSimilarityFloor, err = getEnvFloat("RAG_SIMILARITY_FLOOR", 0.3); err != nil {
		return nil, err
	}
	if cfg.RAGTopK, err = getEnvInt("RAG_TOP_K", 5); err != nil {
		return nil, err
	}
	if cfg.SearchSimilarityFloor, err = getEnvFloat("SEARCH_SIMILARITY_FLOOR", 0.5); err != nil {
		return nil, err
	}
	if cfg.SearchTopK, err = getEnvInt("SEARCH_TOP_K", 10); err != nil {
		return nil, err
	}
	if cfg.SearchConversationCap, err = getEnvInt("SEARCH_CONVERSATION_CAP", 200); err != nil {
		return nil, err
	}
	if cfg.SearchMessageCap, err = getEnvInt("SEARCH_MESSAGE_CAP", 10); err != nil {
		return nil, err
	}
	if cfg.SearchDebounce, err = getEnvDuration("SEARCH_DEBOUNCE", 250*time.Millisecond); err != nil {
		return nil, err
	}

	cfg.LogLevel, err = parseLogLevel(getEnv("LOG_LEVEL", "info"))
	if err != nil {
		return nil, err
	}

	if cfg.ImportBatchSize <= 0 {
		return nil, fmt.Errorf("IMPORT_BATCH_SIZE must be greater than 0")
	}
	if cfg.EmbedBatchSize <= 0 {
		return nil, fmt.Errorf("EMBED_BATCH_SIZE must be greater than 0")
	}

	// Create the data directory if it doesn't exist (for the DB file).
	dataDir := filepath.Dir(cfg.DBPath)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	return cfg, nil
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be a valid integer: %w", key, err)
	}
	return n, nil
}

func getEnvFloat(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be a valid number: %w", key, err)
	}
	return f, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be a valid duration: %w", key, err)
	}
	return d, nil
}

func parseLogLevel(value string) (slog.Level, error) {
	switch value {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error; got %q", value)
	}
}
