package retrieval

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

var _ VectorStore = (*PGVectorStore)(nil)

// PGVectorStore stores knowledge-base records in Postgres with the pgvector
// extension. Rows follow the langchain layout (id, content, embedding,
// metadata jsonb) so tables seeded by other tooling can be searched as-is.
type PGVectorStore struct {
	pool  *pgxpool.Pool
	table string
}

// NewPGVectorStore connects to dsn and verifies the connection.
func NewPGVectorStore(ctx context.Context, dsn, table string) (*PGVectorStore, error) {
	if err := validIdent(table); err != nil {
		return nil, err
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return &PGVectorStore{pool: pool, table: table}, nil
}

func (s *PGVectorStore) Prepare(ctx context.Context, dim int) error {
	if _, err := s.pool.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		return fmt.Errorf("enabling pgvector: %w", err)
	}
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id uuid PRIMARY KEY,
		content text NOT NULL,
		embedding vector(%d) NOT NULL,
		metadata jsonb NOT NULL DEFAULT '{}'::jsonb,
		created_at timestamptz NOT NULL DEFAULT now()
	)`, s.table, dim))
	if err != nil {
		return fmt.Errorf("creating table %s: %w", s.table, err)
	}
	return nil
}

type pgMetadata struct {
	Answer    string `json:"answer,omitempty"`
	Source    string `json:"source,omitempty"`
	FocusArea string `json:"focus_area,omitempty"`
}

// Insert writes all records in one batch. Record IDs that are not UUIDs are
// mapped to a stable name-based UUID.
func (s *PGVectorStore) Insert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	query := `INSERT INTO ` + s.table + ` (id, content, embedding, metadata) VALUES ($1, $2, $3::vector, $4::jsonb)
		ON CONFLICT (id) DO UPDATE SET content = EXCLUDED.content, embedding = EXCLUDED.embedding, metadata = EXCLUDED.metadata`
	for _, r := range records {
		meta, err := json.Marshal(pgMetadata{Answer: r.Answer, Source: r.Source, FocusArea: r.FocusArea})
		if err != nil {
			return fmt.Errorf("encoding metadata for %s: %w", r.ID, err)
		}
		batch.Queue(query, pointID(r.ID), r.Content, pgvector.NewVector(r.Embedding), string(meta))
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for _, r := range records {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("inserting record %s: %w", r.ID, err)
		}
	}
	return nil
}

// Search orders by pgvector's cosine distance operator.
func (s *PGVectorStore) Search(ctx context.Context, vector []float32, topK int) ([]ScoredRecord, error) {
	if topK < 1 {
		topK = 1
	}
	rows, err := s.pool.Query(ctx, `SELECT id::text, content,
			metadata->>'answer', metadata->>'source', metadata->>'focus_area',
			embedding <=> $1::vector AS distance
		FROM `+s.table+`
		ORDER BY distance ASC
		LIMIT $2`, pgvector.NewVector(vector), topK)
	if err != nil {
		return nil, fmt.Errorf("querying pgvector: %w", err)
	}
	defer rows.Close()

	var results []ScoredRecord
	for rows.Next() {
		var r ScoredRecord
		var answer, source, focusArea *string
		if err := rows.Scan(&r.ID, &r.Content, &answer, &source, &focusArea, &r.Distance); err != nil {
			return nil, fmt.Errorf("scanning pgvector row: %w", err)
		}
		r.Answer, r.Source, r.FocusArea = deref(answer), deref(source), deref(focusArea)
		if r.Distance < 0 {
			r.Distance = 0
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating pgvector rows: %w", err)
	}
	return results, nil
}

func (s *PGVectorStore) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM "+s.table).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting rows: %w", err)
	}
	return count, nil
}

func (s *PGVectorStore) Close() error {
	s.pool.Close()
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// pointID returns id when it is already a UUID, otherwise a SHA-1 name-based
// UUID derived from it. Qdrant and the pgvector schema both key on UUIDs.
func pointID(id string) string {
	if _, err := uuid.Parse(id); err == nil {
		return id
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(id)).String()
}
