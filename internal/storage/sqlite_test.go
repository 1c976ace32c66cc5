package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err, "Open(:memory:)")
	t.Cleanup(func() { s.Close() })
	return s
}

// TestMigrationsIdempotent runs Open twice on the same directory and verifies
// migrations are not re-applied.
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	require.NoError(t, err)
	v1, err := s1.AppliedMigrations()
	require.NoError(t, err)
	s1.Close()

	s2, err := Open(dir)
	require.NoError(t, err)
	defer s2.Close()
	v2, err := s2.AppliedMigrations()
	require.NoError(t, err)

	assert.Equal(t, v1, v2)
}

func TestMigrationsOrdered(t *testing.T) {
	s := openTestStore(t)

	versions, err := s.AppliedMigrations()
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, versions)
}

func TestPendingMigrations(t *testing.T) {
	pending, err := pendingMigrations(migrationsFS, map[int]bool{1: true})
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, 2, pending[0].version)
	assert.Equal(t, 3, pending[1].version)
}

func TestParseMigrationVersion(t *testing.T) {
	v, err := parseMigrationVersion("010_add_column.sql")
	require.NoError(t, err)
	assert.Equal(t, 10, v)

	_, err = parseMigrationVersion("nounderscore.sql")
	assert.Error(t, err)
	_, err = parseMigrationVersion("x_bad.sql")
	assert.Error(t, err)
}

func TestIndexesExist(t *testing.T) {
	s := openTestStore(t)

	for _, idx := range []string{"idx_medical_qa_focus_area", "idx_interactions_created_at", "idx_interactions_session", "idx_jobs_claim"} {
		var count int
		err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?", idx).Scan(&count)
		require.NoError(t, err)
		assert.Equal(t, 1, count, "index %q", idx)
	}
}

func TestMedicalQATableAcceptsMissingMetadata(t *testing.T) {
	s := openTestStore(t)

	_, err := s.DB().Exec(`INSERT INTO medical_qa (id, content, embedding) VALUES ('q1', 'What is glaucoma?', X'00000000')`)
	require.NoError(t, err)

	var answer *string
	require.NoError(t, s.DB().QueryRow(`SELECT answer FROM medical_qa WHERE id = 'q1'`).Scan(&answer))
	assert.Nil(t, answer)
}

func TestSaveAndGetInteraction(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	score := 0.0523
	in := Interaction{
		ID:        "i1",
		CreatedAt: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
		SessionID: "sess-1",
		Question:  "What is glaucoma?",
		Mode:      "grounded",
		Answer:    "Glaucoma damages the optic nerve.",
		Score:     &score,
		Source:    "NIH",
		LatencyMS: 120,
	}
	require.NoError(t, s.SaveInteraction(ctx, in))

	got, err := s.GetInteraction(ctx, "i1")
	require.NoError(t, err)
	assert.Equal(t, in.SessionID, got.SessionID)
	assert.Equal(t, in.Question, got.Question)
	assert.Equal(t, "grounded", got.Mode)
	require.NotNil(t, got.Score)
	assert.InDelta(t, score, *got.Score, 1e-12)
	assert.True(t, in.CreatedAt.Equal(got.CreatedAt))
	assert.Equal(t, int64(120), got.LatencyMS)
}

func TestSaveInteractionWithoutScore(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveInteraction(ctx, Interaction{ID: "i2", SessionID: "s", Question: "q", Mode: "free"}))
	got, err := s.GetInteraction(ctx, "i2")
	require.NoError(t, err)
	assert.Nil(t, got.Score)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestGetInteractionNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetInteraction(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetRecentInteractions(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		session := "a"
		if i%2 == 1 {
			session = "b"
		}
		require.NoError(t, s.SaveInteraction(ctx, Interaction{
			ID:        fmt.Sprintf("i%d", i),
			CreatedAt: base.Add(time.Duration(i) * 500 * time.Millisecond),
			SessionID: session,
			Question:  fmt.Sprintf("q%d", i),
			Mode:      "free",
		}))
	}

	all, err := s.GetRecentInteractions(ctx, "", 3)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"i4", "i3", "i2"}, []string{all[0].ID, all[1].ID, all[2].ID})

	onlyB, err := s.GetRecentInteractions(ctx, "b", 10)
	require.NoError(t, err)
	require.Len(t, onlyB, 2)
	assert.Equal(t, "i3", onlyB[0].ID)

	none, err := s.GetRecentInteractions(ctx, "nobody", 10)
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestEnqueueAndClaimJob(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.EnqueueJob(ctx, Job{ID: "j1", Type: "kb_ingest", PayloadJSON: `{"entries":[]}`}))

	got, err := s.ClaimNextJob(ctx, []string{"kb_ingest"})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "j1", got.ID)
	assert.Equal(t, `{"entries":[]}`, got.PayloadJSON)
	assert.Equal(t, "running", got.Status)
	assert.Equal(t, 3, got.MaxAttempts)

	stored, err := s.GetJob(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, "running", stored.Status)
}

func TestClaimNextJob_Empty(t *testing.T) {
	s := openTestStore(t)

	got, err := s.ClaimNextJob(context.Background(), []string{"kb_ingest"})
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestClaimNextJob_RespectRunAfter(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.EnqueueJob(ctx, Job{ID: "later", Type: "x", PayloadJSON: `{}`, RunAfter: time.Now().Add(time.Hour)}))

	got, err := s.ClaimNextJob(ctx, []string{"x"})
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestClaimNextJob_TypeFilterAndSkipsRunning(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.EnqueueJob(ctx, Job{ID: "j-a", Type: "a", PayloadJSON: `{}`}))
	require.NoError(t, s.EnqueueJob(ctx, Job{ID: "j-b", Type: "b", PayloadJSON: `{}`}))

	got, err := s.ClaimNextJob(ctx, []string{"b"})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "j-b", got.ID)

	again, err := s.ClaimNextJob(ctx, []string{"b"})
	require.NoError(t, err)
	assert.Nil(t, again)
}

func TestCompleteJob(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.EnqueueJob(ctx, Job{ID: "j", Type: "x", PayloadJSON: `{}`}))
	_, err := s.ClaimNextJob(ctx, []string{"x"})
	require.NoError(t, err)
	require.NoError(t, s.CompleteJob(ctx, "j"))

	got, err := s.GetJob(ctx, "j")
	require.NoError(t, err)
	assert.Equal(t, "completed", got.Status)

	assert.ErrorIs(t, s.CompleteJob(ctx, "missing"), ErrNotFound)
}

func TestFailJob_RetriesThenFails(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.EnqueueJob(ctx, Job{ID: "j", Type: "x", PayloadJSON: `{}`, MaxAttempts: 2}))
	_, err := s.ClaimNextJob(ctx, []string{"x"})
	require.NoError(t, err)

	before := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, s.FailJob(ctx, "j", "embedder down"))

	got, err := s.GetJob(ctx, "j")
	require.NoError(t, err)
	assert.Equal(t, "pending", got.Status)
	assert.Equal(t, 1, got.Attempts)
	assert.Equal(t, "embedder down", got.LastError)
	assert.True(t, got.RunAfter.After(before), "run_after %v should be after %v", got.RunAfter, before)

	require.NoError(t, s.FailJob(ctx, "j", "still down"))
	got, err = s.GetJob(ctx, "j")
	require.NoError(t, err)
	assert.Equal(t, "failed", got.Status)
	assert.Equal(t, 2, got.Attempts)

	assert.ErrorIs(t, s.FailJob(ctx, "missing", "x"), ErrNotFound)
}
