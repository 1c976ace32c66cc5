package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/sorakabot/soraka/internal/engine"
	"github.com/sorakabot/soraka/internal/tracing"
)

// ErrMalformedDocument is returned when a matched record lacks one of the
// required metadata fields (answer, source, focus_area).
var ErrMalformedDocument = errors.New("malformed document")

// ErrUnavailable wraps embedder and vector store failures.
var ErrUnavailable = errors.New("knowledge base unavailable")

// Document is a knowledge-base entry as seen by the answer pipeline.
type Document struct {
	Content   string `json:"content"`
	Answer    string `json:"answer"`
	Source    string `json:"source"`
	FocusArea string `json:"focus_area"`
}

// Result is a matched Document with its cosine distance. Lower is closer.
type Result struct {
	ID       string   `json:"id"`
	Document Document `json:"document"`
	Score    float64  `json:"score"`
}

// KnowledgeBase embeds a query and searches the vector store for the nearest
// medical Q&A entries.
type KnowledgeBase struct {
	store    VectorStore
	embedder engine.Embedder
}

func NewKnowledgeBase(store VectorStore, embedder engine.Embedder) *KnowledgeBase {
	return &KnowledgeBase{store: store, embedder: embedder}
}

// Search returns up to k results ordered by ascending distance. k below 1 is
// treated as 1. Any returned record missing answer, source or focus_area
// fails the whole call with ErrMalformedDocument.
func (kb *KnowledgeBase) Search(ctx context.Context, query string, k int) ([]Result, error) {
	if k < 1 {
		k = 1
	}
	ctx, span := tracing.Tracer().Start(ctx, "knowledge_base.search")
	defer span.End()
	span.SetAttributes(attribute.Int("k", k))

	results, err := kb.search(ctx, query, k)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if len(results) > 0 {
		span.SetAttributes(attribute.Float64("best_distance", results[0].Score))
	}
	return results, nil
}

func (kb *KnowledgeBase) search(ctx context.Context, query string, k int) ([]Result, error) {
	vec, err := kb.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: embedding query: %w", ErrUnavailable, err)
	}
	records, err := kb.store.Search(ctx, vec, k)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	sortByDistance(records)
	if len(records) > k {
		records = records[:k]
	}

	results := make([]Result, 0, len(records))
	for _, r := range records {
		if err := validate(r.Record); err != nil {
			return nil, err
		}
		results = append(results, Result{
			ID: r.ID,
			Document: Document{
				Content:   r.Content,
				Answer:    r.Answer,
				Source:    r.Source,
				FocusArea: r.FocusArea,
			},
			Score: r.Distance,
		})
	}
	return results, nil
}

// Count returns the number of entries in the knowledge base.
func (kb *KnowledgeBase) Count(ctx context.Context) (int, error) {
	return kb.store.Count(ctx)
}

func validate(r Record) error {
	var missing []string
	if strings.TrimSpace(r.Answer) == "" {
		missing = append(missing, "answer")
	}
	if strings.TrimSpace(r.Source) == "" {
		missing = append(missing, "source")
	}
	if strings.TrimSpace(r.FocusArea) == "" {
		missing = append(missing, "focus_area")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: record %s missing %s", ErrMalformedDocument, r.ID, strings.Join(missing, ", "))
	}
	return nil
}
