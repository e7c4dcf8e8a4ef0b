// Package chromem implements the memorystore port over chromem-go, an
// embedded vector database with optional on-disk persistence.
package chromem

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	chromemgo "github.com/philippgille/chromem-go"

	"github.com/quantlab/dispatch/internal/config"
	"github.com/quantlab/dispatch/internal/port/memorystore"
)

const embeddingDim = 128

// Store persists handoff content with embedding-based search.
type Store struct {
	db         *chromemgo.DB
	collection *chromemgo.Collection
}

// New creates a chromem-backed store. An empty cfg.Path keeps the index in
// memory; otherwise it persists under that directory. A nil embed falls back
// to a deterministic local embedder so the store works offline.
func New(cfg config.Memory, embed chromemgo.EmbeddingFunc) (*Store, error) {
	if embed == nil {
		embed = localEmbedding
	}

	var db *chromemgo.DB
	var err error
	if cfg.Path != "" {
		db, err = chromemgo.NewPersistentDB(filepath.Join(cfg.Path, "memory.gob"), false)
		if err != nil {
			return nil, fmt.Errorf("chromem: open persistent db: %w", err)
		}
	} else {
		db = chromemgo.NewDB()
	}

	name := cfg.Collection
	if name == "" {
		name = "handoffs"
	}

	collection, err := db.GetOrCreateCollection(name, nil, embed)
	if err != nil {
		return nil, fmt.Errorf("chromem: collection %s: %w", name, err)
	}

	return &Store{db: db, collection: collection}, nil
}

// Put stores content under a fresh id.
func (s *Store) Put(ctx context.Context, content string, metadata map[string]string) (string, error) {
	id := "mem-" + uuid.NewString()

	err := s.collection.AddDocument(ctx, chromemgo.Document{
		ID:       id,
		Content:  content,
		Metadata: metadata,
	})
	if err != nil {
		return "", fmt.Errorf("chromem: add document: %w", err)
	}
	return id, nil
}

// Get returns the content stored under id.
func (s *Store) Get(ctx context.Context, id string) (string, error) {
	doc, err := s.collection.GetByID(ctx, id)
	if err != nil {
		return "", memorystore.ErrNotFound
	}
	return doc.Content, nil
}

// Search returns up to limit results ranked by embedding similarity.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]memorystore.Result, error) {
	if limit <= 0 {
		return nil, nil
	}
	if count := s.collection.Count(); count < limit {
		limit = count
	}
	if limit == 0 {
		return nil, nil
	}

	hits, err := s.collection.Query(ctx, query, limit, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem: query: %w", err)
	}

	results := make([]memorystore.Result, 0, len(hits))
	for _, h := range hits {
		results = append(results, memorystore.Result{
			ID:       h.ID,
			Content:  h.Content,
			Metadata: h.Metadata,
			Score:    float64(h.Similarity),
		})
	}
	return results, nil
}

// localEmbedding is a deterministic bag-of-hashed-words embedding. It gives
// stable, offline similarity search; callers wanting semantic quality supply
// a real embedding function instead.
func localEmbedding(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, embeddingDim)
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(tok))
		vec[h.Sum32()%embeddingDim]++
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		vec[0] = 1
		return vec, nil
	}

	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec, nil
}
