package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sorakabot/soraka/internal/dataset"
	"github.com/sorakabot/soraka/internal/ingest"
	"github.com/sorakabot/soraka/internal/storage"
)

// DocumentEntry is one Q&A pair submitted for ingestion.
type DocumentEntry struct {
	Question  string `json:"question" validate:"notblank"`
	Answer    string `json:"answer" validate:"notblank"`
	Source    string `json:"source" validate:"notblank"`
	FocusArea string `json:"focus_area" validate:"notblank"`
}

// IngestRequest is the body of POST /knowledge-base/documents.
type IngestRequest struct {
	Entries []DocumentEntry `json:"entries" validate:"required,min=1,max=1000,dive"`
}

type ingestResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
	Count  int    `json:"count"`
}

func handleEnqueueDocuments(store *storage.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req IngestRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if err := validateStruct(req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		rows := make([]dataset.Row, len(req.Entries))
		for i, e := range req.Entries {
			rows[i] = dataset.Row{
				Question:  dataset.NormalizeQuestion(e.Question),
				Answer:    e.Answer,
				Source:    e.Source,
				FocusArea: e.FocusArea,
			}
		}

		job, err := ingest.NewJob(rows)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "building job: %v", err)
			return
		}
		if err := store.EnqueueJob(r.Context(), job); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "enqueueing job: %v", err)
			return
		}
		writeJSON(w, http.StatusAccepted, ingestResponse{JobID: job.ID, Status: "pending", Count: len(rows)})
	}
}

func handleGetJob(store *storage.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := store.GetJob(r.Context(), chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "job not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "loading job: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, job)
	}
}

func handleKBStats(kb KnowledgeBase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := kb.Count(r.Context())
		if err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "counting documents: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"documents": n})
	}
}

func handleListInteractions(store *storage.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := parseIntParam(r, "limit", 20, 100)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		interactions, err := store.GetRecentInteractions(r.Context(), r.URL.Query().Get("session_id"), limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing interactions: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, interactions)
	}
}

func handleGetInteraction(store *storage.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		in, err := store.GetInteraction(r.Context(), chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "interaction not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "loading interaction: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, in)
	}
}
