package retrieval

import (
	"container/heap"
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"time"
)

// Compile-time check that SQLiteStore implements VectorStore.
var _ VectorStore = (*SQLiteStore)(nil)

// SQLiteStore provides knowledge-base storage and brute-force cosine search
// backed by SQLite. This is the default backend; it shares the database file
// opened by storage.Open.
type SQLiteStore struct {
	db    *sql.DB
	table string
}

// NewSQLiteStore wraps an existing *sql.DB. The default medical_qa table is
// created by migrations; other names are created by Prepare.
func NewSQLiteStore(db *sql.DB, table string) (*SQLiteStore, error) {
	if err := validIdent(table); err != nil {
		return nil, err
	}
	return &SQLiteStore{db: db, table: table}, nil
}

func (s *SQLiteStore) Prepare(ctx context.Context, _ int) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS `+s.table+` (
		id TEXT PRIMARY KEY,
		content TEXT NOT NULL,
		answer TEXT,
		source TEXT,
		focus_area TEXT,
		embedding BLOB NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		return fmt.Errorf("creating table %s: %w", s.table, err)
	}
	return nil
}

// Insert adds records in a single transaction.
func (s *SQLiteStore) Insert(ctx context.Context, records []Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning insert transaction: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO `+s.table+` (id, content, answer, source, focus_area, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("preparing insert statement: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		createdAt := r.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		_, err := stmt.ExecContext(ctx, r.ID, r.Content, nullIfEmpty(r.Answer), nullIfEmpty(r.Source),
			nullIfEmpty(r.FocusArea), encodeFloat32s(r.Embedding), createdAt.Format(time.RFC3339))
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("inserting record %s: %w", r.ID, err)
		}
	}

	return tx.Commit()
}

// idDistance holds only the ID and distance during the scan phase of Search.
// Full record details are fetched only for top-K winners.
type idDistance struct {
	ID       string
	Distance float64
}

// Search performs brute-force cosine search over all vectors, returning the
// topK nearest records by ascending cosine distance (1 - cosine similarity).
func (s *SQLiteStore) Search(ctx context.Context, vector []float32, topK int) ([]ScoredRecord, error) {
	if topK < 1 {
		topK = 1
	}
	queryNorm := norm(vector)
	if queryNorm == 0 {
		return nil, nil
	}

	// Phase 1: scan only id + embedding to find top-K candidates.
	rows, err := s.db.QueryContext(ctx, `SELECT id, embedding FROM `+s.table)
	if err != nil {
		return nil, fmt.Errorf("querying vectors: %w", err)
	}
	defer rows.Close()

	h := &distanceHeap{}
	heap.Init(h)

	// Reusable buffer for decoding embeddings to avoid per-row allocations.
	var buf []float32

	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}

		buf, err = decodeFloat32sInto(buf, blob)
		if err != nil {
			return nil, fmt.Errorf("decoding embedding for %s: %w", id, err)
		}
		if len(buf) != len(vector) {
			continue
		}

		d := cosineDistance(vector, buf, queryNorm)
		if h.Len() < topK {
			heap.Push(h, idDistance{ID: id, Distance: d})
		} else if d < (*h)[0].Distance {
			(*h)[0] = idDistance{ID: id, Distance: d}
			heap.Fix(h, 0)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}

	if h.Len() == 0 {
		return nil, nil
	}

	// Phase 2: fetch full records only for the top-K IDs.
	distances := make(map[string]float64, h.Len())
	queryArgs := make([]any, 0, h.Len())
	for h.Len() > 0 {
		item := heap.Pop(h).(idDistance)
		distances[item.ID] = item.Distance
		queryArgs = append(queryArgs, item.ID)
	}

	fullRows, err := s.db.QueryContext(ctx, `SELECT id, content, answer, source, focus_area, created_at
		FROM `+s.table+` WHERE id IN (?`+strings.Repeat(",?", len(queryArgs)-1)+`)`, queryArgs...)
	if err != nil {
		return nil, fmt.Errorf("fetching top-K records: %w", err)
	}
	defer fullRows.Close()

	var results []ScoredRecord
	for fullRows.Next() {
		var r Record
		var answer, source, focusArea sql.NullString
		var createdAt string
		if err := fullRows.Scan(&r.ID, &r.Content, &answer, &source, &focusArea, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning full record: %w", err)
		}
		r.Answer, r.Source, r.FocusArea = answer.String, source.String, focusArea.String
		if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
			r.CreatedAt = t
		}
		results = append(results, ScoredRecord{Record: r, Distance: distances[r.ID]})
	}
	if err := fullRows.Err(); err != nil {
		return nil, fmt.Errorf("iterating full records: %w", err)
	}

	// IN query doesn't preserve order.
	sortByDistance(results)

	return results, nil
}

func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+s.table).Scan(&count)
	return count, err
}

// Close is a no-op; the database handle is owned by storage.Store.
func (s *SQLiteStore) Close() error {
	return nil
}

func nullIfEmpty(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// encodeFloat32s serializes a float32 slice to little-endian bytes.
func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeFloat32sInto decodes little-endian bytes into the provided buffer,
// reusing it to avoid per-row allocations during search scans.
func decodeFloat32sInto(buf []float32, b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	if cap(buf) < n {
		buf = make([]float32, n)
	} else {
		buf = buf[:n]
	}
	for i := range buf {
		buf[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return buf, nil
}

// norm returns the L2 norm of a vector.
func norm(v []float32) float64 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return math.Sqrt(sum)
}

// cosineDistance computes 1 - dot(a,b)/(aNorm*bNorm), clamped to [0, 2].
// aNorm is the precomputed L2 norm of vector a.
func cosineDistance(a, b []float32, aNorm float64) float64 {
	var dot, bNormSq float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		bNormSq += float64(b[i]) * float64(b[i])
	}
	if bNormSq == 0 {
		return 1
	}
	d := 1 - dot/(aNorm*math.Sqrt(bNormSq))
	return math.Min(math.Max(d, 0), 2)
}

// distanceHeap is a max-heap of idDistance ordered by Distance, so the
// worst of the current top-K candidates sits at the root.
type distanceHeap []idDistance

func (h distanceHeap) Len() int           { return len(h) }
func (h distanceHeap) Less(i, j int) bool { return h[i].Distance > h[j].Distance }
func (h distanceHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *distanceHeap) Push(x any)        { *h = append(*h, x.(idDistance)) }
func (h *distanceHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
