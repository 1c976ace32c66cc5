package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sorakabot/soraka/internal/conversation"
	"github.com/sorakabot/soraka/internal/pipeline"
	"github.com/sorakabot/soraka/internal/retrieval"
)

// AnswerRequest is the body of POST /answer.
type AnswerRequest struct {
	Question    string   `json:"question" validate:"notblank,max=4000"`
	Temperature *float64 `json:"temperature" validate:"omitempty,gte=0,lte=1"`
	Language    string   `json:"language" validate:"max=64"`
	// SessionID is kept raw: a non-string id is treated like a missing one.
	SessionID json.RawMessage `json:"session_id"`
	// PreviousContext is accepted for compatibility and not used.
	PreviousContext []map[string]any `json:"previous_context"`
}

func (a AnswerRequest) toPipeline() pipeline.Request {
	req := pipeline.Request{
		Question:    a.Question,
		Temperature: pipeline.DefaultTemperature,
		Language:    strings.TrimSpace(a.Language),
		SessionID:   rawSessionID(a.SessionID),
	}
	if a.Temperature != nil {
		req.Temperature = *a.Temperature
	}
	if req.Language == "" {
		req.Language = pipeline.DefaultLanguage
	}
	return req
}

func rawSessionID(raw json.RawMessage) string {
	var s string
	if len(raw) == 0 || json.Unmarshal(raw, &s) != nil {
		return ""
	}
	return s
}

func handleAnswer(p Answerer, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var body AnswerRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if err := validateStruct(body); err != nil {
			var ve *ValidationError
			if errors.As(err, &ve) {
				writeJSON(w, http.StatusBadRequest, map[string]any{
					"error": map[string]any{
						"message": ve.Error(),
						"type":    "invalid_request_error",
						"fields":  ve.Fields,
					},
				})
				return
			}
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		resp := p.Handle(r.Context(), body.toPipeline())
		if resp.Error != "" {
			logger.Debug("answer failed", zap.String("session_id", resp.SessionID), zap.String("diagnostic", resp.Error))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func handleSearch(kb KnowledgeBase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := strings.TrimSpace(r.URL.Query().Get("q"))
		if q == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "q is required")
			return
		}
		k, err := parseIntParam(r, "k", 1, 20)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		results, err := kb.Search(r.Context(), q, k)
		if err != nil {
			if errors.Is(err, retrieval.ErrMalformedDocument) {
				httpError(w, http.StatusUnprocessableEntity, "malformed_document", "%v", err)
				return
			}
			httpError(w, http.StatusBadGateway, "api_error", "searching knowledge base: %v", err)
			return
		}
		if results == nil {
			results = []retrieval.Result{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"query": q, "results": results})
	}
}

type sessionView struct {
	SessionID string              `json:"session_id"`
	Turns     []conversation.Turn `json:"turns"`
}

func handleGetSession(sessions conversation.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if !conversation.ValidSessionID(id) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid session id")
			return
		}
		turns, err := sessions.Recent(r.Context(), id, 0)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "loading session: %v", err)
			return
		}
		if len(turns) == 0 {
			httpError(w, http.StatusNotFound, "not_found", "session not found")
			return
		}
		writeJSON(w, http.StatusOK, sessionView{SessionID: id, Turns: turns})
	}
}
