package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	chromem "github.com/philippgille/chromem-go"
)

// NoopRetriever disables semantic recall: indexing is a no-op and searches
// come back empty.
type NoopRetriever struct{}

func (NoopRetriever) Index(context.Context, string, string, map[string]string) error { return nil }

func (NoopRetriever) Search(context.Context, string, string, int) ([]SearchResult, error) {
	return nil, nil
}

// ChromemRetriever backs semantic recall with an embedded chromem-go vector
// store. Each user gets an isolated collection; vectors come from a local
// embedder so no model endpoint is required.
type ChromemRetriever struct {
	db          *chromem.DB
	embedder    Embedder
	mu          sync.RWMutex
	collections map[string]*chromem.Collection
}

// NewChromemRetriever opens a retriever. path is the on-disk location; empty
// means in-memory only. embedder nil falls back to the chargram embedder.
func NewChromemRetriever(path string, embedder Embedder) (*ChromemRetriever, error) {
	if embedder == nil {
		embedder = NewChargramEmbedder()
	}
	var db *chromem.DB
	var err error
	if path == "" {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(path, false)
		if err != nil {
			return nil, fmt.Errorf("open chromem db: %w", err)
		}
	}
	return &ChromemRetriever{
		db:          db,
		embedder:    embedder,
		collections: make(map[string]*chromem.Collection),
	}, nil
}

func (r *ChromemRetriever) collection(userID string) (*chromem.Collection, error) {
	r.mu.RLock()
	col, ok := r.collections[userID]
	r.mu.RUnlock()
	if ok {
		return col, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if col, ok := r.collections[userID]; ok {
		return col, nil
	}

	name := "user_" + userID
	// Embeddings are supplied explicitly, so no embedding func is wired.
	col, err := r.db.GetOrCreateCollection(name, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("create collection %q: %w", name, err)
	}
	r.collections[userID] = col
	return col, nil
}

func (r *ChromemRetriever) Index(ctx context.Context, userID, text string, metadata map[string]string) error {
	col, err := r.collection(userID)
	if err != nil {
		return err
	}
	doc := chromem.Document{
		ID:        uuid.NewString(),
		Content:   text,
		Embedding: r.embedder.Embed(text),
		Metadata:  metadata,
	}
	if err := col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("add document: %w", err)
	}
	return nil
}

func (r *ChromemRetriever) Search(ctx context.Context, userID, query string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 5
	}
	col, err := r.collection(userID)
	if err != nil {
		return nil, err
	}
	// chromem requires nResults <= collection size.
	if n := col.Count(); n < limit {
		if n == 0 {
			return nil, nil
		}
		limit = n
	}

	results, err := col.QueryEmbedding(ctx, r.embedder.Embed(query), limit, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query embedding: %w", err)
	}

	out := make([]SearchResult, 0, len(results))
	for _, res := range results {
		out = append(out, SearchResult{
			Text:     res.Content,
			Score:    float64(res.Similarity),
			Metadata: res.Metadata,
		})
	}
	return out, nil
}
