// Package ingest seeds the knowledge base: it embeds labeled questions and
// inserts them into the configured vector store, either synchronously or
// from queued jobs.
package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sorakabot/soraka/internal/dataset"
	"github.com/sorakabot/soraka/internal/retrieval"
)

const defaultBatchSize = 64

// BatchEmbedder embeds many texts at once, preserving order.
type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Loader embeds rows and writes them to a vector store in batches.
type Loader struct {
	embedder  BatchEmbedder
	store     retrieval.VectorStore
	batchSize int
	logger    *zap.Logger

	// OnProgress, when set, is called after each batch with the number of
	// rows stored so far and the total.
	OnProgress func(done, total int)
}

// NewLoader creates a Loader. If batchSize <= 0, it defaults to 64.
func NewLoader(embedder BatchEmbedder, store retrieval.VectorStore, batchSize int, logger *zap.Logger) *Loader {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{embedder: embedder, store: store, batchSize: batchSize, logger: logger}
}

// Load stores rows and returns how many were written. Rows without a
// question are skipped silently; rows missing an answer, source or focus
// area are skipped with a warning since search rejects them. The store is
// prepared with the dimension of the first embedding.
func (l *Loader) Load(ctx context.Context, rows []dataset.Row) (int, error) {
	var usable []dataset.Row
	skipped := 0
	for i, r := range rows {
		r.Question = dataset.NormalizeQuestion(r.Question)
		if r.Question == "" {
			continue
		}
		if missing := missingFields(r); len(missing) > 0 {
			skipped++
			l.logger.Warn("skipping incomplete knowledge base row",
				zap.Int("row", i),
				zap.String("question", r.Question),
				zap.Strings("missing", missing),
			)
			continue
		}
		usable = append(usable, r)
	}
	if skipped > 0 {
		l.logger.Warn("incomplete rows skipped", zap.Int("skipped", skipped), zap.Int("total", len(rows)))
	}
	if len(usable) == 0 {
		return 0, nil
	}

	prepared := false
	stored := 0
	for start := 0; start < len(usable); start += l.batchSize {
		end := min(start+l.batchSize, len(usable))
		batch := usable[start:end]

		texts := make([]string, len(batch))
		for i, r := range batch {
			texts[i] = r.Question
		}
		vecs, err := l.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return stored, fmt.Errorf("embedding rows %d-%d: %w", start, end-1, err)
		}

		if !prepared {
			if err := l.store.Prepare(ctx, len(vecs[0])); err != nil {
				return stored, fmt.Errorf("preparing vector store: %w", err)
			}
			prepared = true
		}

		now := time.Now().UTC()
		records := make([]retrieval.Record, len(batch))
		for i, r := range batch {
			records[i] = retrieval.Record{
				ID:        uuid.NewString(),
				Content:   r.Question,
				Answer:    r.Answer,
				Source:    r.Source,
				FocusArea: r.FocusArea,
				Embedding: vecs[i],
				CreatedAt: now,
			}
		}
		if err := l.store.Insert(ctx, records); err != nil {
			return stored, fmt.Errorf("inserting rows %d-%d: %w", start, end-1, err)
		}
		stored += len(records)

		l.logger.Debug("knowledge base batch stored", zap.Int("stored", stored), zap.Int("total", len(usable)))
		if l.OnProgress != nil {
			l.OnProgress(stored, len(usable))
		}
	}
	return stored, nil
}

func missingFields(r dataset.Row) []string {
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
	return missing
}
