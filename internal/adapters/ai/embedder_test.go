package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func embedderForServer(t *testing.T, srv *httptest.Server) *OpenAIEmbedder {
	t.Helper()
	e, err := NewOpenAIEmbedder(EmbedderOptions{
		APIKey:     "test-key",
		BaseURL:    srv.URL,
		Model:      "text-embedding-3-small",
		HTTPClient: srv.Client(),
		Pacer:      fastPacer(),
	})
	require.NoError(t, err)
	return e
}

func TestNewOpenAIEmbedder_RequiresAPIKey(t *testing.T) {
	_, err := NewOpenAIEmbedder(EmbedderOptions{})
	require.EqualError(t, err, "embedder api key is required")
}

func TestEmbed_ReturnsVectorAndModelTag(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req embedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "text-embedding-3-small", req.Model)
		assert.Equal(t, "senior gopher wanted", req.Input)

		require.NoError(t, json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"embedding": []float64{0.25, -0.5, 1.0}}},
		}))
	}))
	defer srv.Close()

	e := embedderForServer(t, srv)
	result, err := e.Embed(context.Background(), "senior gopher wanted")
	require.NoError(t, err)

	assert.Equal(t, []float32{0.25, -0.5, 1.0}, result.Vector)
	assert.Equal(t, "text-embedding-3-small", result.ModelTag)
}

func TestEmbed_EmptyTextIsPermanent(t *testing.T) {
	e, err := NewOpenAIEmbedder(EmbedderOptions{APIKey: "k", Pacer: fastPacer()})
	require.NoError(t, err)

	_, err = e.Embed(context.Background(), "   ")
	require.Error(t, err)
	assert.False(t, IsTransient(err))

	var opErr *OperationError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, KindPermanent, opErr.Kind)
}

func TestEmbed_TruncatesOversizedInput(t *testing.T) {
	var gotLen int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req embedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		gotLen = len(req.Input)
		require.NoError(t, json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"embedding": []float64{0.1}}},
		}))
	}))
	defer srv.Close()

	e := embedderForServer(t, srv)
	_, err := e.Embed(context.Background(), strings.Repeat("x", maxEmbedInputBytes+100))
	require.NoError(t, err)
	assert.Equal(t, maxEmbedInputBytes, gotLen)
}

func TestEmbed_TruncationKeepsRuneBoundary(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req embedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		got = req.Input
		require.NoError(t, json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"embedding": []float64{0.1}}},
		}))
	}))
	defer srv.Close()

	// A two-byte rune straddling the size limit must be dropped whole, not
	// split into a mangled trailing byte.
	input := strings.Repeat("a", maxEmbedInputBytes-1) + "é" + strings.Repeat("b", 10)

	e := embedderForServer(t, srv)
	_, err := e.Embed(context.Background(), input)
	require.NoError(t, err)

	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, strings.Repeat("a", maxEmbedInputBytes-1), got)
}

func TestEmbed_ServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream exploded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	e := embedderForServer(t, srv)
	_, err := e.Embed(context.Background(), "text")
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}

func TestEmbed_EmptyVectorRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		require.NoError(t, json.NewEncoder(w).Encode(map[string]any{"data": []map[string]any{}}))
	}))
	defer srv.Close()

	e := embedderForServer(t, srv)
	_, err := e.Embed(context.Background(), "text")
	require.Error(t, err)

	var opErr *OperationError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, KindUnknown, opErr.Kind)
}
