package retrieval

import (
	"context"
	"fmt"
	"regexp"
	"time"
)

// VectorStore is the interface for the knowledge-base storage and similarity
// search backends: SQLite (brute-force cosine), Postgres with pgvector, and
// Qdrant. All backends report cosine distance, so lower is more similar.
type VectorStore interface {
	// Prepare ensures the table or collection exists for vectors of size dim. Idempotent.
	Prepare(ctx context.Context, dim int) error

	// Insert adds records to the store.
	Insert(ctx context.Context, records []Record) error

	// Search returns up to topK records ordered by ascending distance.
	Search(ctx context.Context, vector []float32, topK int) ([]ScoredRecord, error)

	// Count returns the number of stored records.
	Count(ctx context.Context) (int, error)

	Close() error
}

// Record is one knowledge-base entry: the question text that was embedded
// and the metadata returned with a match. Metadata fields may be empty when
// the underlying row is incomplete.
type Record struct {
	ID        string
	Content   string
	Answer    string
	Source    string
	FocusArea string
	Embedding []float32
	CreatedAt time.Time
}

// ScoredRecord is a Record with its cosine distance to the query.
type ScoredRecord struct {
	Record
	Distance float64
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// validIdent guards table names interpolated into SQL.
func validIdent(name string) error {
	if !identRe.MatchString(name) {
		return fmt.Errorf("invalid table name %q", name)
	}
	return nil
}

// sortByDistance sorts ScoredRecords by Distance ascending. Used for small slices (topK).
func sortByDistance(results []ScoredRecord) {
	for i := 1; i < len(results); i++ {
		for j := i; j > 0 && results[j].Distance < results[j-1].Distance; j-- {
			results[j], results[j-1] = results[j-1], results[j]
		}
	}
}
