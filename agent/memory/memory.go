package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	contractx "github.com/tanpawarit/echobot/agent/contract"
)

// Record is one stored exchange. Records are append-only.
type Record struct {
	ID        string
	Text      string
	Metadata  map[string]string
	CreatedAt time.Time
}

type Hit struct {
	Record Record
	Score  float64
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Index stores vectors and answers nearest-neighbour queries.
type Index interface {
	Insert(ctx context.Context, rec Record, vector []float32) error
	Search(ctx context.Context, vector []float32, k int) ([]Hit, error)
	Close() error
}

var _ contractx.MemoryProvider = (*Service)(nil)

// Service is the retrieval store behind the orchestrator. Index and embedder
// synchronize internally so Service is safe for concurrent use.
type Service struct {
	embedder Embedder
	index    Index
	minScore float64
	now      func() time.Time
}

func NewService(embedder Embedder, index Index, minScore float64) (*Service, error) {
	if embedder == nil {
		return nil, errors.New("memory embedder is required")
	}
	if index == nil {
		return nil, errors.New("memory index is required")
	}
	return &Service{embedder: embedder, index: index, minScore: minScore, now: time.Now}, nil
}

func (s *Service) Add(ctx context.Context, text string, metadata map[string]string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return fmt.Errorf("%w: memory text is empty", contractx.ErrValidation)
	}

	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return fmt.Errorf("%w: embed: %v", contractx.ErrStorage, err)
	}

	rec := Record{
		ID:        uuid.NewString(),
		Text:      text,
		Metadata:  metadata,
		CreatedAt: s.now().UTC(),
	}
	if err := s.index.Insert(ctx, rec, vec); err != nil {
		return fmt.Errorf("%w: insert: %v", contractx.ErrStorage, err)
	}
	return nil
}

func (s *Service) Query(ctx context.Context, text string, k int) ([]string, error) {
	text = strings.TrimSpace(text)
	if text == "" || k <= 0 {
		return nil, nil
	}

	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: embed: %v", contractx.ErrStorage, err)
	}

	hits, err := s.index.Search(ctx, vec, k)
	if err != nil {
		return nil, fmt.Errorf("%w: search: %v", contractx.ErrStorage, err)
	}

	out := make([]string, 0, len(hits))
	for _, h := range hits {
		if h.Score < s.minScore {
			continue
		}
		out = append(out, h.Record.Text)
	}
	return out, nil
}

func (s *Service) Close() error {
	return s.index.Close()
}
