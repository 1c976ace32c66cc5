package evaluation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sorakabot/soraka/internal/composer"
	"github.com/sorakabot/soraka/internal/dataset"
	"github.com/sorakabot/soraka/internal/pipeline"
)

type fakeSource struct {
	respondFn func(question string) (Output, error)
	asked     []string
}

func (f *fakeSource) Respond(_ context.Context, question string) (Output, error) {
	f.asked = append(f.asked, question)
	return f.respondFn(question)
}

type fakeHandler struct {
	got  pipeline.Request
	resp pipeline.Response
}

func (f *fakeHandler) Handle(_ context.Context, req pipeline.Request) pipeline.Response {
	f.got = req
	return f.resp
}

func rows(n int) []dataset.Row {
	out := make([]dataset.Row, n)
	for i := range out {
		out[i] = dataset.Row{Question: fmt.Sprintf("question %d?", i), Answer: fmt.Sprintf("answer number %d", i)}
	}
	return out
}

func ptr(f float64) *float64 { return &f }

func TestRelevance_Grounded(t *testing.T) {
	out := Output{
		Mode:            composer.ModeGrounded,
		Answer:          "glaucoma damages the optic nerve",
		ReferenceAnswer: "glaucoma damages the optic nerve",
		Score:           ptr(0.1),
	}
	// (1 + 0.9) / 2, regardless of the labeled answer.
	assert.InDelta(t, 0.95, Relevance(out, "unrelated"), 1e-9)
}

func TestRelevance_GroundedNotClamped(t *testing.T) {
	out := Output{Mode: composer.ModeGrounded, Answer: "x1 y1", ReferenceAnswer: "x1 y1", Score: ptr(-0.5)}
	assert.InDelta(t, 1.25, Relevance(out, ""), 1e-9)
}

func TestRelevance_Free(t *testing.T) {
	out := Output{Mode: composer.ModeFree, Answer: "glaucoma damages the optic nerve"}
	assert.InDelta(t, 1, Relevance(out, "Glaucoma damages the optic nerve."), 1e-9)
	assert.Equal(t, 0.0, Relevance(out, "weather forecast"))
}

func TestRelevance_Failed(t *testing.T) {
	out := Output{Mode: composer.ModeGrounded, Answer: "x", Score: ptr(0), Error: "timeout: deadline"}
	assert.Equal(t, 0.0, Relevance(out, "x"))
	assert.False(t, RetrievalHit(out))
}

func TestRetrievalHit(t *testing.T) {
	assert.True(t, RetrievalHit(Output{Mode: composer.ModeGrounded}))
	assert.False(t, RetrievalHit(Output{Mode: composer.ModeFree}))
	assert.False(t, RetrievalHit(Output{}))
}

func TestHarnessRun_Aggregates(t *testing.T) {
	src := &fakeSource{respondFn: func(q string) (Output, error) {
		var i int
		fmt.Sscanf(q, "question %d?", &i)
		if i%2 == 0 {
			return Output{Mode: composer.ModeGrounded, Answer: "same words", ReferenceAnswer: "same words", Score: ptr(0)}, nil
		}
		return Output{Mode: composer.ModeFree, Answer: "nothing shared"}, nil
	}}
	h := NewHarness(src, DefaultSeed, nil)

	report, err := h.Run(context.Background(), rows(30), 10)
	require.NoError(t, err)
	require.Len(t, report.Records, 10)

	var grounded int
	for _, rec := range report.Records {
		if rec.RetrievalHit {
			grounded++
			assert.InDelta(t, 1, rec.Relevance, 1e-9)
		} else {
			assert.Equal(t, 0.0, rec.Relevance)
		}
	}
	assert.InDelta(t, float64(grounded)/10, report.HitRate, 1e-9)
	assert.InDelta(t, float64(grounded)/10, report.MeanRelevance, 1e-9)
	assert.Len(t, report.Details(5), 5)
	assert.Len(t, report.Details(50), 10)
}

func TestHarnessRun_Reproducible(t *testing.T) {
	run := func() []string {
		src := &fakeSource{respondFn: func(string) (Output, error) { return Output{Mode: composer.ModeFree}, nil }}
		_, err := NewHarness(src, DefaultSeed, nil).Run(context.Background(), rows(50), 10)
		require.NoError(t, err)
		return src.asked
	}
	assert.Equal(t, run(), run())
}

func TestHarnessRun_SourceErrorScoresZero(t *testing.T) {
	src := &fakeSource{respondFn: func(string) (Output, error) { return Output{}, errors.New("connection refused") }}

	report, err := NewHarness(src, DefaultSeed, nil).Run(context.Background(), rows(3), 3)
	require.NoError(t, err)
	for _, rec := range report.Records {
		assert.Equal(t, 0.0, rec.Relevance)
		assert.False(t, rec.RetrievalHit)
		assert.Contains(t, rec.Output.Error, "connection refused")
	}
	assert.Equal(t, 0.0, report.HitRate)
}

func TestHarnessRun_DatasetError(t *testing.T) {
	src := &fakeSource{respondFn: func(string) (Output, error) { return Output{}, nil }}
	_, err := NewHarness(src, DefaultSeed, nil).Run(context.Background(), rows(2), 10)
	assert.ErrorIs(t, err, dataset.ErrDataset)
	assert.Empty(t, src.asked)
}

func TestHarnessRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	src := &fakeSource{respondFn: func(string) (Output, error) { return Output{}, nil }}

	_, err := NewHarness(src, DefaultSeed, nil).Run(ctx, rows(5), 5)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReportPrint(t *testing.T) {
	report := Report{
		Records: []Record{
			{Question: "What is glaucoma?", Output: Output{Mode: composer.ModeGrounded, Score: ptr(0.05)}, Relevance: 0.91234, RetrievalHit: true, Latency: 1500 * time.Millisecond},
			{Question: "Weather?", Output: Output{Mode: composer.ModeFree}, Relevance: 0.1, Latency: 500 * time.Millisecond},
		},
	}
	aggregate(&report)

	var buf bytes.Buffer
	report.Print(&buf)
	out := buf.String()

	assert.Contains(t, out, "Pertinence moyenne: 0.5062")
	assert.Contains(t, out, "Taux de récupération DB: 0.5000")
	assert.Contains(t, out, "Temps de réponse moyen: 1.0000")
	assert.Contains(t, out, "Type de réponse: grounded")
	assert.Contains(t, out, "Score de similarité: 0.0500")
	assert.Contains(t, out, "Score de similarité: N/A")
	assert.Contains(t, out, "Pertinence: 0.9123")
}

func TestInProcessSource(t *testing.T) {
	h := &fakeHandler{resp: pipeline.Response{
		Mode:   composer.ModeGrounded,
		Answer: "generated",
		Metadata: &pipeline.Metadata{
			Source: "NIH", FocusArea: "Glaucoma", SimilarityScore: "0.0500", ReferenceAnswer: "reference", Score: 0.05,
		},
	}}
	out, err := NewInProcessSource(h, 0.5, "English").Respond(context.Background(), "What is glaucoma?")
	require.NoError(t, err)

	assert.Equal(t, "What is glaucoma?", h.got.Question)
	assert.Empty(t, h.got.SessionID)
	assert.InDelta(t, 0.5, h.got.Temperature, 1e-12)
	assert.Equal(t, "English", h.got.Language)

	assert.Equal(t, composer.ModeGrounded, out.Mode)
	require.NotNil(t, out.Score)
	assert.InDelta(t, 0.05, *out.Score, 1e-12)
	assert.Equal(t, "reference", out.ReferenceAnswer)
}

func TestInProcessSource_FreeModeKeepsDistance(t *testing.T) {
	h := &fakeHandler{resp: pipeline.Response{Mode: composer.ModeFree, Answer: "generated", Distance: ptr(0.42)}}
	out, err := NewInProcessSource(h, 0.5, "Francais").Respond(context.Background(), "Weather?")
	require.NoError(t, err)

	require.NotNil(t, out.Score)
	assert.InDelta(t, 0.42, *out.Score, 1e-12)
	assert.Empty(t, out.ReferenceAnswer)
	assert.InDelta(t, TextSimilarity("generated", "labeled"), Relevance(out, "labeled"), 1e-12, "free relevance ignores the distance")

	report := Report{Records: []Record{{Question: "Weather?", Output: out}}}
	var buf bytes.Buffer
	report.Print(&buf)
	assert.Contains(t, buf.String(), "Type de réponse: free")
	assert.Contains(t, buf.String(), "Score de similarité: 0.4200")
}

func TestHTTPSource(t *testing.T) {
	var got answerRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/answer", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(pipeline.Response{
			Message:   "Le glaucome...",
			Mode:      composer.ModeFree,
			Answer:    "Le glaucome...",
			SessionID: "s1",
		})
	}))
	defer srv.Close()

	out, err := NewHTTPSource(srv.URL+"/", 0.5, "Francais", time.Second).Respond(context.Background(), "What is glaucoma?")
	require.NoError(t, err)

	assert.Equal(t, "What is glaucoma?", got.Question)
	assert.InDelta(t, 0.5, got.Temperature, 1e-12)
	assert.Equal(t, composer.ModeFree, out.Mode)
	assert.Equal(t, "Le glaucome...", out.Answer)
	assert.Nil(t, out.Score)
}

func TestHTTPSource_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"question is required"}}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := NewHTTPSource(srv.URL, 0.5, "Francais", time.Second).Respond(context.Background(), "")
	assert.ErrorContains(t, err, "server returned 400")
}
