package memory

import (
	"context"
	"fmt"
	"strings"

	openaisdk "github.com/openai/openai-go"
)

const (
	BackendNone   = "none"
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendQdrant = "qdrant"

	EmbedderHash   = "hash"
	EmbedderOpenAI = "openai"
)

type Config struct {
	Backend          string  `envconfig:"BACKEND" split_words:"true" default:"sqlite"`
	SQLitePath       string  `envconfig:"SQLITE_PATH" split_words:"true" default:"storage/db/memory.db"`
	QdrantAddr       string  `envconfig:"QDRANT_ADDR" split_words:"true" default:"localhost:6334"`
	QdrantAPIKey     string  `envconfig:"QDRANT_API_KEY" split_words:"true"`
	QdrantCollection string  `envconfig:"QDRANT_COLLECTION" split_words:"true" default:"echobot_memory"`
	Embedder         string  `envconfig:"EMBEDDER" split_words:"true" default:"hash"`
	EmbeddingModel   string  `envconfig:"EMBEDDING_MODEL" split_words:"true" default:"text-embedding-3-small"`
	Dimensions       int     `envconfig:"DIMENSIONS" split_words:"true" default:"256"`
	MinScore         float64 `envconfig:"MIN_SCORE" split_words:"true" default:"0"`
}

// Open builds the configured memory service. It returns nil, nil when memory is disabled.
func Open(ctx context.Context, cfg Config, client *openaisdk.Client) (*Service, error) {
	backend := strings.ToLower(strings.TrimSpace(cfg.Backend))
	if backend == BackendNone || backend == "" {
		return nil, nil
	}

	embedder, err := newEmbedder(cfg, client)
	if err != nil {
		return nil, err
	}

	var index Index
	switch backend {
	case BackendMemory:
		index = NewInMemoryIndex()
	case BackendSQLite:
		index, err = OpenSQLiteIndex(cfg.SQLitePath)
	case BackendQdrant:
		index, err = OpenQdrantIndex(ctx, cfg.QdrantAddr, cfg.QdrantAPIKey, cfg.QdrantCollection, cfg.Dimensions)
	default:
		return nil, fmt.Errorf("unknown memory backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}

	return NewService(embedder, index, cfg.MinScore)
}

func newEmbedder(cfg Config, client *openaisdk.Client) (Embedder, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Embedder)) {
	case "", EmbedderHash:
		return NewHashEmbedder(cfg.Dimensions), nil
	case EmbedderOpenAI:
		return NewOpenAIEmbedder(client, cfg.EmbeddingModel, cfg.Dimensions)
	default:
		return nil, fmt.Errorf("unknown memory embedder %q", cfg.Embedder)
	}
}
