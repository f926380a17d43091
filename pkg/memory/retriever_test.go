package memory

import (
	"context"
	"math"
	"testing"
)

func TestChargramEmbedder(t *testing.T) {
	e := NewChargramEmbedder()

	if e.ModelID() == "" {
		t.Fatal("empty model id")
	}

	a := e.Embed("planning a trip to Japan")
	b := e.Embed("planning a trip to Japan")
	if len(a) != 384 {
		t.Fatalf("expected 384 dims, got %d", len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("embedding not deterministic at dim %d", i)
		}
	}

	var norm float64
	for _, v := range a {
		norm += float64(v) * float64(v)
	}
	if math.Abs(norm-1) > 1e-4 {
		t.Fatalf("expected unit vector, squared norm %v", norm)
	}

	empty := e.Embed("   ")
	for _, v := range empty {
		if v != 0 {
			t.Fatal("empty text should embed to the zero vector")
		}
	}
}

func TestNoopRetriever(t *testing.T) {
	ctx := context.Background()
	var r NoopRetriever

	if err := r.Index(ctx, "u1", "anything", nil); err != nil {
		t.Fatalf("index: %v", err)
	}
	hits, err := r.Search(ctx, "u1", "anything", 5)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 0 {
		t.Fatalf("expected no hits, got %v", hits)
	}
}

func TestChromemRetriever_IndexAndSearch(t *testing.T) {
	ctx := context.Background()
	r, err := NewChromemRetriever("", nil)
	if err != nil {
		t.Fatalf("new retriever: %v", err)
	}

	docs := []string{
		"they started pottery classes on Tuesdays",
		"their sister moved back to town last month",
		"training for a 10k race in the spring",
	}
	for _, d := range docs {
		if err := r.Index(ctx, "u1", d, map[string]string{"kind": "observation"}); err != nil {
			t.Fatalf("index %q: %v", d, err)
		}
	}

	hits, err := r.Search(ctx, "u1", "pottery class", 2)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	if hits[0].Text != docs[0] {
		t.Fatalf("expected pottery doc first, got %q (score %v)", hits[0].Text, hits[0].Score)
	}
	if hits[0].Score < hits[1].Score {
		t.Fatalf("hits not ranked by score: %v then %v", hits[0].Score, hits[1].Score)
	}
	if hits[0].Metadata["kind"] != "observation" {
		t.Fatalf("metadata lost: %#v", hits[0].Metadata)
	}
}

func TestChromemRetriever_LimitClampedToCollection(t *testing.T) {
	ctx := context.Background()
	r, err := NewChromemRetriever("", nil)
	if err != nil {
		t.Fatalf("new retriever: %v", err)
	}

	if err := r.Index(ctx, "u1", "only one memory", nil); err != nil {
		t.Fatalf("index: %v", err)
	}

	hits, err := r.Search(ctx, "u1", "memory", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected 1 hit, got %d", len(hits))
	}
}

func TestChromemRetriever_UserIsolation(t *testing.T) {
	ctx := context.Background()
	r, err := NewChromemRetriever("", nil)
	if err != nil {
		t.Fatalf("new retriever: %v", err)
	}

	if err := r.Index(ctx, "u1", "u1 likes jazz", nil); err != nil {
		t.Fatalf("index: %v", err)
	}

	hits, err := r.Search(ctx, "u2", "jazz", 5)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 0 {
		t.Fatalf("u2 must not see u1 documents: %v", hits)
	}
}

func TestChromemRetriever_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	r, err := NewChromemRetriever(dir, nil)
	if err != nil {
		t.Fatalf("new retriever: %v", err)
	}
	if err := r.Index(ctx, "u1", "a memory that must survive", nil); err != nil {
		t.Fatalf("index: %v", err)
	}

	r2, err := NewChromemRetriever(dir, nil)
	if err != nil {
		t.Fatalf("reopen retriever: %v", err)
	}
	hits, err := r2.Search(ctx, "u1", "survive", 1)
	if err != nil {
		t.Fatalf("search after reopen: %v", err)
	}
	if len(hits) != 1 || hits[0].Text != "a memory that must survive" {
		t.Fatalf("document did not survive reopen: %v", hits)
	}
}
