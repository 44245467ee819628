package main

import (
	"context"
	"log"
	"log/slog"
	nethttp "net/http"
	"os"

	"chatvault/internal/config"
	"chatvault/internal/embedjobs"
	"chatvault/internal/http"
	"chatvault/internal/importer"
	"chatvault/internal/llm"
	"chatvault/internal/rag"
	"chatvault/internal/search"
	"chatvault/internal/store"
	"chatvault/internal/vectorstore"
)

func main() {
	// Load configuration first (needed for log level)
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Configure structured logging with configurable level and format
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}
	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	slog.Debug("Logging configured", "level", cfg.LogLevel.String(), "format", cfg.LogFormat)

	// Initialize database
	db, err := store.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer func() {
		_ = db.Close()
	}()

	if err := store.Migrate(db); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	slog.Info("Database initialized", "path", cfg.DBPath)

	st := store.NewSQLite(db)

	ctx := context.Background()

	// Optional Qdrant mirror index. Without QDRANT_URL similarity queries
	// scan the store in process.
	var index vectorstore.VectorIndex = vectorstore.NewNoopIndex()
	if cfg.QdrantURL != "" {
		qdrantIndex, err := vectorstore.NewQdrantIndex(cfg.QdrantURL, cfg.QdrantCollection)
		if err != nil {
			log.Fatalf("Failed to create Qdrant client: %v", err)
		}
		if err := qdrantIndex.EnsureCollection(ctx, cfg.EmbeddingDim); err != nil {
			log.Fatalf("Failed to ensure Qdrant collection: %v", err)
		}
		index = qdrantIndex
		slog.Info("Qdrant mirror index ready", "collection", cfg.QdrantCollection, "vector_size", cfg.EmbeddingDim)
	}

	embedder := llm.NewEmbeddingsClient(cfg.EmbeddingBaseURL, cfg.EmbeddingAPIKey, cfg.EmbeddingModelName, cfg.EmbeddingDim)

	imp := importer.New(st, cfg.ImportBatchSize)
	scheduler := embedjobs.New(st, embedder, index, cfg.EmbedBatchSize, cfg.EmbedBatchDelay)
	retriever := rag.NewRetriever(st, embedder, index, cfg.RAGSimilarityFloor, cfg.RAGTopK)
	searcher := search.New(st, embedder, cfg.SearchSimilarityFloor, cfg.SearchTopK,
		cfg.SearchConversationCap, cfg.SearchMessageCap, cfg.SearchDebounce)
	maintenance := importer.NewMaintenance(st, index)
	slog.Info("Import pipeline initialized",
		"import_batch_size", cfg.ImportBatchSize, "embed_batch_size", cfg.EmbedBatchSize)

	deps := &http.Deps{
		Store:       st,
		Importer:    imp,
		Scheduler:   scheduler,
		Retriever:   retriever,
		Searcher:    searcher,
		Maintenance: maintenance,
	}
	router := http.NewRouter(deps)

	// Start API server
	addr := ":" + cfg.APIPort
	slog.Info("Starting API server", "addr", addr)
	slog.Debug("Embedding configuration", "base_url", cfg.EmbeddingBaseURL, "model", cfg.EmbeddingModelName)
	if err := nethttp.ListenAndServe(addr, router); err != nil {
		log.Fatalf("API server failed to start: %v", err)
	}
}
