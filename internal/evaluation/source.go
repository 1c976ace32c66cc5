package evaluation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sorakabot/soraka/internal/composer"
	"github.com/sorakabot/soraka/internal/pipeline"
)

// Output is what a ResponseSource reports for one question. Evaluation reads
// only these structured fields, never the prose message.
type Output struct {
	Mode            composer.Mode `json:"mode"`
	Answer          string        `json:"answer"`
	ReferenceAnswer string        `json:"reference_answer,omitempty"`
	Score           *float64      `json:"score,omitempty"`
	Source          string        `json:"source,omitempty"`
	FocusArea       string        `json:"focus_area,omitempty"`
	Error           string        `json:"error,omitempty"`
}

// Failed reports whether the pipeline answered with an error.
func (o Output) Failed() bool {
	return o.Error != ""
}

// ResponseSource answers one evaluation question.
type ResponseSource interface {
	Respond(ctx context.Context, question string) (Output, error)
}

// Handler is the pipeline entrypoint used by InProcessSource.
type Handler interface {
	Handle(ctx context.Context, req pipeline.Request) pipeline.Response
}

// InProcessSource calls the orchestrator directly. Every question runs in a
// fresh session so samples do not share history.
type InProcessSource struct {
	handler     Handler
	temperature float64
	language    string
}

func NewInProcessSource(h Handler, temperature float64, language string) *InProcessSource {
	return &InProcessSource{handler: h, temperature: temperature, language: language}
}

func (s *InProcessSource) Respond(ctx context.Context, question string) (Output, error) {
	resp := s.handler.Handle(ctx, pipeline.Request{
		Question:    question,
		Temperature: s.temperature,
		Language:    s.language,
	})
	return outputFrom(resp), nil
}

// HTTPSource posts questions to a running server's /answer endpoint.
type HTTPSource struct {
	baseURL     string
	temperature float64
	language    string
	httpClient  *http.Client
}

func NewHTTPSource(baseURL string, temperature float64, language string, timeout time.Duration) *HTTPSource {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPSource{
		baseURL:     strings.TrimRight(baseURL, "/"),
		temperature: temperature,
		language:    language,
		httpClient:  &http.Client{Timeout: timeout},
	}
}

type answerRequest struct {
	Question    string  `json:"question"`
	Temperature float64 `json:"temperature"`
	Language    string  `json:"language"`
}

func (s *HTTPSource) Respond(ctx context.Context, question string) (Output, error) {
	body, err := json.Marshal(answerRequest{Question: question, Temperature: s.temperature, Language: s.language})
	if err != nil {
		return Output{}, fmt.Errorf("marshalling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/answer", bytes.NewReader(body))
	if err != nil {
		return Output{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return Output{}, fmt.Errorf("posting question: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Output{}, fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out pipeline.Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Output{}, fmt.Errorf("decoding response: %w", err)
	}
	return outputFrom(out), nil
}

func outputFrom(resp pipeline.Response) Output {
	out := Output{
		Mode:   resp.Mode,
		Answer: resp.Answer,
		Error:  resp.Error,
	}
	if m := resp.Metadata; m != nil {
		score := m.Score
		out.Score = &score
		out.ReferenceAnswer = m.ReferenceAnswer
		out.Source = m.Source
		out.FocusArea = m.FocusArea
	} else if resp.Distance != nil {
		d := *resp.Distance
		out.Score = &d
	}
	return out
}
