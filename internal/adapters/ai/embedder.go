package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/matchops/leadsweep/internal/core"
)

// Compile-time assurance this adapter satisfies the port.
var _ core.Embedder = (*OpenAIEmbedder)(nil)

const defaultEmbedderModel = "text-embedding-3-small"

// maxEmbedInputBytes bounds the text sent per embedding call; the provider
// rejects oversized inputs anyway, so truncate up front.
const maxEmbedInputBytes = 32 * 1024

// EmbedderOptions configures an OpenAIEmbedder.
type EmbedderOptions struct {
	APIKey     string
	BaseURL    string
	Model      string
	HTTPClient *http.Client
	Pacer      *Pacer
	Logger     *slog.Logger
}

// OpenAIEmbedder implements core.Embedder against the Embeddings API.
type OpenAIEmbedder struct {
	apiKey string
	base   string
	model  string
	client *http.Client
	pacer  *Pacer
	logger *slog.Logger
}

// NewOpenAIEmbedder creates an OpenAIEmbedder from options, applying defaults
// for everything but the API key.
func NewOpenAIEmbedder(opts EmbedderOptions) (*OpenAIEmbedder, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("embedder api key is required")
	}
	base := opts.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	mdl := opts.Model
	if mdl == "" {
		mdl = defaultEmbedderModel
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	pacer := opts.Pacer
	if pacer == nil {
		pacer = NewPacer(DefaultPaceInterval)
	}
	return &OpenAIEmbedder{
		apiKey: opts.APIKey,
		base:   strings.TrimRight(base, "/"),
		model:  mdl,
		client: client,
		pacer:  pacer,
		logger: opts.Logger,
	}, nil
}

type embedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

// Embed computes an embedding for the given text. Failures come back as
// *OperationError so the caller can classify them.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) (*core.EmbedResult, error) {
	if strings.TrimSpace(text) == "" {
		return nil, Permanentf("cannot embed empty text")
	}
	if err := e.pacer.Wait(ctx); err != nil {
		return nil, err
	}

	if len(text) > maxEmbedInputBytes {
		// Back the cut up to a rune boundary so the provider never sees a
		// split multi-byte character.
		cut := maxEmbedInputBytes
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut]
	}

	b, err := json.Marshal(embedRequest{Model: e.model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.base+"/embeddings", bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("build embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	start := time.Now()
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, ClassifyTransportError(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return nil, ClassifyStatus(resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload embedResponse
	if derr := json.NewDecoder(resp.Body).Decode(&payload); derr != nil {
		return nil, &OperationError{Kind: KindUnknown, Message: "decode embed response", Cause: derr}
	}
	if len(payload.Data) == 0 || len(payload.Data[0].Embedding) == 0 {
		return nil, &OperationError{Kind: KindUnknown, Message: "embed response contained no vector"}
	}

	vector := make([]float32, len(payload.Data[0].Embedding))
	for i, f := range payload.Data[0].Embedding {
		vector[i] = float32(f)
	}

	if e.logger != nil {
		e.logger.DebugContext(ctx, "embedding computed",
			"model", e.model,
			"dims", len(vector),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
	return &core.EmbedResult{Vector: vector, ModelTag: e.model}, nil
}
