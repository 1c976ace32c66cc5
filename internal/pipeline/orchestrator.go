// Package pipeline answers medical questions: it searches the knowledge
// base, routes between grounded and free answers, generates the reply and
// records the exchange in the session history.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/sorakabot/soraka/internal/composer"
	"github.com/sorakabot/soraka/internal/conversation"
	"github.com/sorakabot/soraka/internal/engine"
	"github.com/sorakabot/soraka/internal/retrieval"
	"github.com/sorakabot/soraka/internal/storage"
	"github.com/sorakabot/soraka/internal/tracing"
)

// ApologyMessage is returned to callers whenever a request fails.
const ApologyMessage = "Une erreur s'est produite lors du traitement de votre demande."

const (
	DefaultTemperature   = 0.3
	DefaultLanguage      = "Francais"
	DefaultHistoryWindow = 10
	DefaultTimeout       = 30 * time.Second
)

// Diagnostic kinds prefixed to Response.Error.
const (
	KindUpstreamUnavailable = "upstream_unavailable"
	KindMalformedDocument   = "malformed_document"
	KindTimeout             = "timeout"
	KindInternal            = "internal"
)

// ErrUpstreamUnavailable wraps generator failures.
var ErrUpstreamUnavailable = errors.New("upstream unavailable")

// Searcher finds the nearest knowledge-base entries for a query.
type Searcher interface {
	Search(ctx context.Context, query string, k int) ([]retrieval.Result, error)
}

// Recorder persists answered requests for operators.
type Recorder interface {
	SaveInteraction(ctx context.Context, in storage.Interaction) error
}

// Request is one question from a caller.
type Request struct {
	Question    string
	Temperature float64
	Language    string
	SessionID   string
}

// Metadata describes the grounding match of a grounded answer.
type Metadata struct {
	Source          string  `json:"source"`
	FocusArea       string  `json:"focus_area"`
	SimilarityScore string  `json:"similarity_score"`
	ReferenceAnswer string  `json:"reference_answer"`
	Score           float64 `json:"score"`
}

// Response is the pipeline result. On failure Message is ApologyMessage and
// Error carries "<kind>: <detail>".
type Response struct {
	Message   string        `json:"message"`
	Mode      composer.Mode `json:"mode,omitempty"`
	Answer    string        `json:"answer,omitempty"`
	Metadata  *Metadata     `json:"metadata,omitempty"`
	// Distance is the best retrieval distance in either mode, nil when the
	// knowledge base returned nothing.
	Distance  *float64      `json:"distance,omitempty"`
	SessionID string        `json:"session_id"`
	Error     string        `json:"error,omitempty"`
}

// Options tunes an Orchestrator. Zero values take the package defaults.
type Options struct {
	// Threshold is the grounding distance cutoff. Nil means DefaultThreshold;
	// zero never grounds.
	Threshold     *float64
	HistoryWindow int
	Timeout       time.Duration
	Composer      *composer.Composer
	Recorder      Recorder
	Logger        *zap.Logger
}

// Orchestrator is the single entrypoint of the answer pipeline.
type Orchestrator struct {
	kb        Searcher
	sessions  conversation.Store
	gen       engine.Generator
	composer  *composer.Composer
	recorder  Recorder
	logger    *zap.Logger
	threshold float64
	window    int
	timeout   time.Duration

	// Requests on one session run one at a time so each user turn is
	// directly followed by its own assistant turn.
	sessionLocks [sessionLockStripes]sync.Mutex
}

const sessionLockStripes = 64

func New(kb Searcher, sessions conversation.Store, gen engine.Generator, opts Options) *Orchestrator {
	o := &Orchestrator{
		kb:        kb,
		sessions:  sessions,
		gen:       gen,
		composer:  opts.Composer,
		recorder:  opts.Recorder,
		logger:    opts.Logger,
		threshold: DefaultThreshold,
		window:    opts.HistoryWindow,
		timeout:   opts.Timeout,
	}
	if o.composer == nil {
		o.composer = composer.New(0)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if opts.Threshold != nil {
		o.threshold = *opts.Threshold
	}
	if o.window <= 0 {
		o.window = DefaultHistoryWindow
	}
	if o.timeout <= 0 {
		o.timeout = DefaultTimeout
	}
	return o
}

// Handle answers req. It never returns an error: failures are logged and
// reported through Response.Error alongside ApologyMessage.
func (o *Orchestrator) Handle(ctx context.Context, req Request) Response {
	start := time.Now()
	sessionID := conversation.EnsureSession(req.SessionID)
	if req.Language == "" {
		req.Language = DefaultLanguage
	}

	ctx, span := tracing.Tracer().Start(ctx, "pipeline.handle")
	defer span.End()
	span.SetAttributes(attribute.String("session_id", sessionID))

	resp, err := o.answer(ctx, sessionID, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.logger.Error("answer pipeline failed",
			zap.String("session_id", sessionID),
			zap.String("mode", string(resp.Mode)),
			zap.Error(err),
		)
		resp = Response{
			Message:   ApologyMessage,
			SessionID: sessionID,
			Error:     Diagnose(err),
		}
	} else {
		span.SetAttributes(attribute.String("mode", string(resp.Mode)))
	}

	o.record(ctx, req, resp, time.Since(start))
	return resp
}

func (o *Orchestrator) sessionLock(sessionID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(sessionID))
	return &o.sessionLocks[h.Sum32()%sessionLockStripes]
}

func (o *Orchestrator) answer(ctx context.Context, sessionID string, req Request) (Response, error) {
	mu := o.sessionLock(sessionID)
	mu.Lock()
	defer mu.Unlock()

	// The window counts the question being answered, so the history read
	// before appending it holds window-1 turns.
	var recent []conversation.Turn
	if prior := o.window - 1; prior > 0 {
		var err error
		recent, err = o.sessions.Recent(ctx, sessionID, prior)
		if err != nil {
			return Response{}, fmt.Errorf("loading history: %w", err)
		}
	}
	historyText := o.composer.RenderHistory(recent)

	if err := o.sessions.Append(ctx, sessionID, conversation.Turn{Role: conversation.RoleUser, Content: req.Question}); err != nil {
		return Response{}, fmt.Errorf("recording question: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	results, err := o.kb.Search(ctx, req.Question, 1)
	if err != nil {
		return Response{}, fmt.Errorf("searching knowledge base: %w", err)
	}

	mode, match := Route(results, o.threshold)
	resp := Response{Mode: mode, SessionID: sessionID}
	if len(results) > 0 {
		d := results[0].Score
		resp.Distance = &d
	}

	reference := ""
	if match != nil {
		reference = match.Document.Answer
	}
	prompt, err := o.composer.Build(mode, req.Question, req.Language, historyText, reference)
	if err != nil {
		return resp, fmt.Errorf("building prompt: %w", err)
	}

	generated, err := o.generate(ctx, prompt, req.Temperature)
	if err != nil {
		return resp, err
	}

	if err := o.sessions.Append(ctx, sessionID, conversation.Turn{Role: conversation.RoleAssistant, Content: generated}); err != nil {
		return resp, fmt.Errorf("recording answer: %w", err)
	}

	resp.Answer = generated
	if mode == composer.ModeGrounded {
		resp.Metadata = &Metadata{
			Source:          match.Document.Source,
			FocusArea:       match.Document.FocusArea,
			SimilarityScore: fmt.Sprintf("%.4f", match.Score),
			ReferenceAnswer: match.Document.Answer,
			Score:           match.Score,
		}
		resp.Message = groundedMessage(generated, resp.Metadata)
	} else {
		resp.Message = generated
	}
	return resp, nil
}

func (o *Orchestrator) generate(ctx context.Context, p composer.Prompt, temperature float64) (string, error) {
	ctx, span := tracing.Tracer().Start(ctx, "generator.generate")
	defer span.End()

	text, err := o.gen.Generate(ctx, engine.GenerateRequest{
		System:      p.System,
		User:        p.User,
		Temperature: temperature,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("%w: generating answer: %w", ErrUpstreamUnavailable, err)
	}
	return text, nil
}

func groundedMessage(generated string, m *Metadata) string {
	return fmt.Sprintf("Réponse: %s\n\nPour plus de détails :\n%s\n\nSource : %s\nDomaine médical : %s\nScore de similarité : %s",
		generated, m.ReferenceAnswer, m.Source, m.FocusArea, m.SimilarityScore)
}

// Diagnose renders err as "<kind>: <detail>".
func Diagnose(err error) string {
	kind := KindInternal
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		kind = KindTimeout
	case errors.Is(err, retrieval.ErrMalformedDocument):
		kind = KindMalformedDocument
	case errors.Is(err, ErrUpstreamUnavailable), errors.Is(err, retrieval.ErrUnavailable):
		kind = KindUpstreamUnavailable
	}
	return kind + ": " + err.Error()
}

// record saves the interaction. Failures are logged only.
func (o *Orchestrator) record(ctx context.Context, req Request, resp Response, latency time.Duration) {
	if o.recorder == nil {
		return
	}
	in := storage.Interaction{
		ID:        uuid.NewString(),
		CreatedAt: time.Now().UTC(),
		SessionID: resp.SessionID,
		Question:  req.Question,
		Mode:      string(resp.Mode),
		Answer:    resp.Answer,
		LatencyMS: latency.Milliseconds(),
		Error:     resp.Error,
	}
	if resp.Metadata != nil {
		score := resp.Metadata.Score
		in.Score = &score
		in.Source = resp.Metadata.Source
	}
	if err := o.recorder.SaveInteraction(context.WithoutCancel(ctx), in); err != nil {
		o.logger.Warn("failed to record interaction", zap.String("session_id", resp.SessionID), zap.Error(err))
	}
}
