package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRequest() ChatRequest {
	temp := 0.3
	return ChatRequest{
		Model: "mistralai/mistral-nemo",
		Messages: []Message{
			{Role: "system", Content: "Tu es SorakaBot"},
			{Role: "user", Content: "What is glaucoma?"},
		},
		Temperature: &temp,
	}
}

func TestChat_ReturnsFirstChoice(t *testing.T) {
	var got ChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"gen-1","choices":[{"index":0,"message":{"role":"assistant","content":"Le glaucome..."}}]}`)
	}))
	defer srv.Close()

	c := NewClientWithBaseURL("test-key", srv.URL)
	content, err := c.Chat(context.Background(), testRequest())
	require.NoError(t, err)

	assert.Equal(t, "Le glaucome...", content)
	assert.Equal(t, "mistralai/mistral-nemo", got.Model)
	require.NotNil(t, got.Temperature)
	assert.InDelta(t, 0.3, *got.Temperature, 1e-9)
	assert.Len(t, got.Messages, 2)
}

func TestChat_Headers(t *testing.T) {
	var headers http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers = r.Header.Clone()
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"ok"}}]}`)
	}))
	defer srv.Close()

	_, err := NewClientWithBaseURL("sk-test", srv.URL).Chat(context.Background(), testRequest())
	require.NoError(t, err)

	assert.Equal(t, "Bearer sk-test", headers.Get("Authorization"))
	assert.Equal(t, "application/json", headers.Get("Content-Type"))
	assert.Equal(t, "SorakaBot", headers.Get("X-Title"))
	assert.NotEmpty(t, headers.Get("HTTP-Referer"))
}

func TestChat_NoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"gen-1","choices":[]}`)
	}))
	defer srv.Close()

	_, err := NewClientWithBaseURL("k", srv.URL).Chat(context.Background(), testRequest())
	assert.ErrorContains(t, err, "no content")
}

func TestChat_RetryOn429(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"finally"}}]}`)
	}))
	defer srv.Close()

	content, err := NewClientWithBaseURL("k", srv.URL).Chat(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, "finally", content)
	assert.Equal(t, int32(3), calls.Load())
}

func TestChat_RateLimitExhausted(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewClientWithBaseURL("k", srv.URL).Chat(context.Background(), testRequest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limited after 3 retries")
	assert.Equal(t, int32(maxRetries), calls.Load())
}

func TestChat_ServerErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"error":"boom"}`, http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewClientWithBaseURL("k", srv.URL).Chat(context.Background(), testRequest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 500")
	assert.Equal(t, int32(1), calls.Load())
}

func TestChat_ContextCancelledDuringBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := NewClientWithBaseURL("k", srv.URL).Chat(ctx, testRequest())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestListModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models", r.URL.Path)
		json.NewEncoder(w).Encode(ModelList{
			Object: "list",
			Data:   []Model{{ID: "mistralai/mistral-nemo", Object: "model"}},
		})
	}))
	defer srv.Close()

	models, err := NewClientWithBaseURL("k", srv.URL).ListModels(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 1)
	assert.Equal(t, "mistralai/mistral-nemo", models[0].ID)
}

func TestListModels_NullData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"object":"list","data":null}`)
	}))
	defer srv.Close()

	models, err := NewClientWithBaseURL("k", srv.URL).ListModels(context.Background())
	require.NoError(t, err)
	assert.Empty(t, models)
	assert.NotNil(t, models)
}
