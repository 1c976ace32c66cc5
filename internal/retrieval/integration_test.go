//go:build integration

package retrieval

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
)

// Backends are exercised only when their endpoints are provided:
// SORAKA_TEST_PG_DSN for pgvector, SORAKA_TEST_QDRANT_URL for Qdrant.

func exerciseStore(t *testing.T, s VectorStore) {
	t.Helper()
	ctx := context.Background()

	if err := s.Prepare(ctx, 3); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	near, far := uuid.NewString(), uuid.NewString()
	if err := s.Insert(ctx, []Record{
		{ID: near, Content: "What is glaucoma?", Answer: "Glaucoma damages the optic nerve.", Source: "NIH", FocusArea: "Glaucoma", Embedding: []float32{1, 0, 0}},
		{ID: far, Content: "Other", Answer: "x", Source: "y", FocusArea: "z", Embedding: []float32{0, 1, 0}},
	}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	results, err := s.Search(ctx, []float32{1, 0.01, 0}, 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) < 2 {
		t.Fatalf("got %d results, want at least 2", len(results))
	}
	if results[0].ID != near {
		t.Errorf("best match = %s, want %s", results[0].ID, near)
	}
	if results[0].Distance >= 0.2 || results[0].Distance < 0 {
		t.Errorf("near distance = %v", results[0].Distance)
	}
	if results[0].Source != "NIH" || results[0].FocusArea != "Glaucoma" {
		t.Errorf("metadata = %+v", results[0].Record)
	}

	n, err := s.Count(ctx)
	if err != nil || n < 2 {
		t.Errorf("Count = %d, %v", n, err)
	}
}

func TestPGVectorStore(t *testing.T) {
	dsn := os.Getenv("SORAKA_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("SORAKA_TEST_PG_DSN not set")
	}
	table := "medical_qa_test_" + uuid.NewString()[:8]
	s, err := NewPGVectorStore(context.Background(), dsn, table)
	if err != nil {
		t.Fatalf("NewPGVectorStore: %v", err)
	}
	t.Cleanup(func() {
		s.pool.Exec(context.Background(), "DROP TABLE IF EXISTS "+table)
		s.Close()
	})
	exerciseStore(t, s)
}

func TestQdrantStore(t *testing.T) {
	addr := os.Getenv("SORAKA_TEST_QDRANT_URL")
	if addr == "" {
		t.Skip("SORAKA_TEST_QDRANT_URL not set")
	}
	collection := "medical_qa_test_" + uuid.NewString()[:8]
	s, err := NewQdrantStore(QdrantConfig{URL: addr, Collection: collection})
	if err != nil {
		t.Fatalf("NewQdrantStore: %v", err)
	}
	t.Cleanup(func() {
		s.client.DeleteCollection(context.Background(), collection)
		s.Close()
	})
	exerciseStore(t, s)
}
