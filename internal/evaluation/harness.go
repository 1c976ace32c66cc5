// Package evaluation scores the answer pipeline offline against a labeled
// question/answer dataset.
package evaluation

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sorakabot/soraka/internal/composer"
	"github.com/sorakabot/soraka/internal/dataset"
)

const (
	DefaultSamples = 10
	DefaultSeed    = 42
	detailCount    = 5
)

// Record is the evaluation of one sampled question.
type Record struct {
	Question     string        `json:"question"`
	TrueAnswer   string        `json:"true_answer"`
	Output       Output        `json:"output"`
	Relevance    float64       `json:"relevance"`
	RetrievalHit bool          `json:"retrieval_hit"`
	Latency      time.Duration `json:"latency"`
}

// Report aggregates a run.
type Report struct {
	Records       []Record      `json:"records"`
	MeanRelevance float64       `json:"mean_relevance"`
	HitRate       float64       `json:"hit_rate"`
	MeanLatency   time.Duration `json:"mean_latency"`
}

// Details returns the first k records, or all of them when fewer exist.
func (r Report) Details(k int) []Record {
	if k > len(r.Records) {
		k = len(r.Records)
	}
	return r.Records[:k]
}

// Harness drives a ResponseSource over a reproducible sample.
type Harness struct {
	source ResponseSource
	seed   int64
	logger *zap.Logger
}

func NewHarness(source ResponseSource, seed int64, logger *zap.Logger) *Harness {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Harness{source: source, seed: seed, logger: logger}
}

// Run samples n rows with the harness seed, asks each question and scores
// the answers. Dataset errors abort the run; a failing question scores zero.
func (h *Harness) Run(ctx context.Context, rows []dataset.Row, n int) (Report, error) {
	sample, err := dataset.Sample(rows, n, h.seed)
	if err != nil {
		return Report{}, err
	}

	report := Report{Records: make([]Record, 0, len(sample))}
	for i, row := range sample {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		start := time.Now()
		out, err := h.source.Respond(ctx, row.Question)
		latency := time.Since(start)
		if err != nil {
			h.logger.Warn("evaluation question failed", zap.Int("index", i), zap.Error(err))
			out = Output{Error: err.Error()}
		} else if out.Failed() {
			h.logger.Warn("pipeline reported an error", zap.Int("index", i), zap.String("error", out.Error))
		}

		report.Records = append(report.Records, Record{
			Question:     row.Question,
			TrueAnswer:   row.Answer,
			Output:       out,
			Relevance:    Relevance(out, row.Answer),
			RetrievalHit: RetrievalHit(out),
			Latency:      latency,
		})
	}

	aggregate(&report)
	return report, nil
}

// Relevance scores an answer. Grounded answers average the text similarity to
// the reference answer with 1 - distance; free answers use the text
// similarity to the labeled answer. Failed answers score 0.
func Relevance(out Output, trueAnswer string) float64 {
	if out.Failed() {
		return 0
	}
	if out.Mode == composer.ModeGrounded && out.Score != nil {
		return (TextSimilarity(out.Answer, out.ReferenceAnswer) + (1 - *out.Score)) / 2
	}
	return TextSimilarity(out.Answer, trueAnswer)
}

// RetrievalHit reports whether the answer was grounded in a knowledge-base match.
func RetrievalHit(out Output) bool {
	return !out.Failed() && out.Mode == composer.ModeGrounded
}

func aggregate(r *Report) {
	if len(r.Records) == 0 {
		return
	}
	var relevance, hits float64
	var latency time.Duration
	for _, rec := range r.Records {
		relevance += rec.Relevance
		if rec.RetrievalHit {
			hits++
		}
		latency += rec.Latency
	}
	n := float64(len(r.Records))
	r.MeanRelevance = relevance / n
	r.HitRate = hits / n
	r.MeanLatency = latency / time.Duration(len(r.Records))
}

// Print writes the averages with four decimals followed by the first five
// records.
func (r Report) Print(w io.Writer) {
	fmt.Fprintf(w, "Résultats de l'évaluation sur %d exemples :\n", len(r.Records))
	fmt.Fprintln(w, strings.Repeat("-", 50))
	fmt.Fprintf(w, "Pertinence moyenne: %.4f\n", r.MeanRelevance)
	fmt.Fprintf(w, "Taux de récupération DB: %.4f\n", r.HitRate)
	fmt.Fprintf(w, "Temps de réponse moyen: %.4f\n", r.MeanLatency.Seconds())

	fmt.Fprintf(w, "\nExemples détaillés (%d premiers) :\n", detailCount)
	for i, rec := range r.Details(detailCount) {
		score := "N/A"
		if rec.Output.Score != nil {
			score = fmt.Sprintf("%.4f", *rec.Output.Score)
		}
		mode := string(rec.Output.Mode)
		if mode == "" {
			mode = "error"
		}
		fmt.Fprintf(w, "\nExemple %d:\n", i+1)
		fmt.Fprintf(w, "Question: %s\n", rec.Question)
		fmt.Fprintf(w, "Type de réponse: %s\n", mode)
		fmt.Fprintf(w, "Score de similarité: %s\n", score)
		fmt.Fprintf(w, "Pertinence: %.4f\n", rec.Relevance)
	}
}
