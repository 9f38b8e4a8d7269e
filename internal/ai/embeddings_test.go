package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type embeddingCall struct {
	Input      []string `json:"input"`
	Model      string   `json:"model"`
	Dimensions int      `json:"dimensions"`
}

func newEmbeddingServer(t *testing.T, vec []float32, calls *[]embeddingCall) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/embeddings" {
			http.NotFound(w, r)
			return
		}
		var call embeddingCall
		if err := json.NewDecoder(r.Body).Decode(&call); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		*calls = append(*calls, call)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"model":  call.Model,
			"data": []map[string]any{
				{"object": "embedding", "index": 0, "embedding": vec},
			},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestEncode(t *testing.T) {
	var calls []embeddingCall
	srv := newEmbeddingServer(t, []float32{0.25, 0.5, 0.75}, &calls)

	svc := NewAIService("test-key", srv.URL+"/v1", "text-embedding-3-small", 3)
	vec, err := svc.Encode(context.Background(), "breaking news")
	require.NoError(t, err)

	assert.Equal(t, []float32{0.25, 0.5, 0.75}, vec)
	require.Len(t, calls, 1)
	assert.Equal(t, []string{"breaking news"}, calls[0].Input)
	assert.Equal(t, "text-embedding-3-small", calls[0].Model)
	assert.Equal(t, 3, calls[0].Dimensions)
	assert.Equal(t, 3, svc.Dimension())
}

func TestEncodeOmitsDimensionsForOtherModels(t *testing.T) {
	var calls []embeddingCall
	srv := newEmbeddingServer(t, []float32{1, 0}, &calls)

	svc := NewAIService("", srv.URL+"/v1", "nomic-embed-text", 2)
	_, err := svc.Encode(context.Background(), "hello")
	require.NoError(t, err)

	require.Len(t, calls, 1)
	assert.Zero(t, calls[0].Dimensions)
}

func TestEncodeRejectsEmptyText(t *testing.T) {
	svc := NewAIService("k", "http://127.0.0.1:0/v1", "text-embedding-3-small", 3)
	_, err := svc.Encode(context.Background(), "")
	assert.Error(t, err)
}

func TestEncodeServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
	}))
	defer srv.Close()

	svc := NewAIService("k", srv.URL+"/v1", "text-embedding-3-small", 3)
	_, err := svc.Encode(context.Background(), "hello")
	assert.Error(t, err)
}
