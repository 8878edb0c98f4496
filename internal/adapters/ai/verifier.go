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

	jmespath "github.com/jmespath-community/go-jmespath"

	"github.com/matchops/leadsweep/internal/core"
	"github.com/matchops/leadsweep/internal/domain/model"
)

// Compile-time assurance this adapter satisfies the port.
var _ core.LinkVerifier = (*OpenAIVerifier)(nil)

const (
	defaultVerifierModel = "gpt-4o-mini"
	defaultBaseURL       = "https://api.openai.com/v1"
	defaultHTTPTimeout   = 60 * time.Second

	// maxErrorBodyBytes bounds how much of a provider error body we keep.
	maxErrorBodyBytes = 2048
)

// verifierSystemPrompt constrains the model to the JSON shape the extraction
// expressions below expect.
const verifierSystemPrompt = `You verify procurement lead URLs. Given a lead and its current source URL,
assess the URL and search for a better official one. Respond with JSON only:
{
  "current": {"accessible": bool, "structural_match": bool, "content_match": bool, "specific": bool},
  "candidate_url": "string or empty when no replacement found",
  "candidate": {"accessible": bool, "structural_match": bool, "content_match": bool, "specific": bool},
  "rationale": "one sentence"
}`

// JMESPath expressions for pulling fields out of the verifier model's JSON.
const (
	exprCandidateURL = "candidate_url"
	exprRationale    = "rationale"
	exprCurrent      = "current"
	exprCandidate    = "candidate"
)

// VerifierOptions configures an OpenAIVerifier.
type VerifierOptions struct {
	APIKey     string
	BaseURL    string
	Model      string
	HTTPClient *http.Client
	Pacer      *Pacer
	Logger     *slog.Logger
}

// OpenAIVerifier implements core.LinkVerifier against the Chat Completions API.
type OpenAIVerifier struct {
	apiKey string
	base   string
	model  string
	client *http.Client
	pacer  *Pacer
	logger *slog.Logger
}

// NewOpenAIVerifier creates an OpenAIVerifier from options, applying defaults
// for everything but the API key.
func NewOpenAIVerifier(opts VerifierOptions) (*OpenAIVerifier, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("verifier api key is required")
	}
	base := opts.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	mdl := opts.Model
	if mdl == "" {
		mdl = defaultVerifierModel
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	pacer := opts.Pacer
	if pacer == nil {
		pacer = NewPacer(DefaultPaceInterval)
	}
	return &OpenAIVerifier{
		apiKey: opts.APIKey,
		base:   strings.TrimRight(base, "/"),
		model:  mdl,
		client: client,
		pacer:  pacer,
		logger: opts.Logger,
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	ResponseFormat struct {
		Type string `json:"type"`
	} `json:"response_format"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Verify assesses a lead's source URL and optionally proposes a replacement.
// Failures come back as *OperationError so the caller can classify them.
func (v *OpenAIVerifier) Verify(ctx context.Context, lead *model.Lead) (*core.VerifyResult, error) {
	if lead == nil {
		return nil, errors.New("lead is required")
	}
	if err := v.pacer.Wait(ctx); err != nil {
		return nil, err
	}

	content, err := v.complete(ctx, lead)
	if err != nil {
		return nil, err
	}

	result, err := parseVerifyContent(content)
	if err != nil {
		if v.logger != nil {
			v.logger.WarnContext(ctx, "verifier returned unparseable content",
				"lead_id", lead.ID,
				"error", err,
			)
		}
		return nil, &OperationError{Kind: KindUnknown, Message: "unparseable verifier response", Cause: err}
	}
	return result, nil
}

func (v *OpenAIVerifier) complete(ctx context.Context, lead *model.Lead) (string, error) {
	userPrompt := fmt.Sprintf("Lead title: %s\nAgency: %s\nCurrent source URL: %s",
		lead.Title, lead.Agency, lead.SourceURL)

	reqBody := chatRequest{
		Model: v.model,
		Messages: []chatMessage{
			{Role: "system", Content: verifierSystemPrompt},
			{Role: "user", Content: userPrompt},
		},
	}
	reqBody.ResponseFormat.Type = "json_object"

	b, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.base+"/chat/completions", bytes.NewReader(b))
	if err != nil {
		return "", fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+v.apiKey)

	resp, err := v.client.Do(req)
	if err != nil {
		return "", ClassifyTransportError(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return "", ClassifyStatus(resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload chatResponse
	if derr := json.NewDecoder(resp.Body).Decode(&payload); derr != nil {
		return "", &OperationError{Kind: KindUnknown, Message: "decode chat response", Cause: derr}
	}
	for _, c := range payload.Choices {
		if c.Message.Content != "" {
			return c.Message.Content, nil
		}
	}
	return "", &OperationError{Kind: KindUnknown, Message: "no choice content in chat response"}
}

// parseVerifyContent extracts the structured verdict from the model's JSON.
func parseVerifyContent(content string) (*core.VerifyResult, error) {
	var doc any
	if err := json.Unmarshal([]byte(content), &doc); err != nil {
		return nil, fmt.Errorf("unmarshal verifier content: %w", err)
	}

	result := &core.VerifyResult{
		CandidateURL: stringAt(exprCandidateURL, doc),
		Rationale:    stringAt(exprRationale, doc),
	}

	current, err := assessmentAt(exprCurrent, doc)
	if err != nil {
		return nil, fmt.Errorf("current assessment: %w", err)
	}
	result.Current = current

	// The candidate block only matters when a replacement was proposed.
	if result.CandidateURL != "" {
		candidate, cerr := assessmentAt(exprCandidate, doc)
		if cerr != nil {
			return nil, fmt.Errorf("candidate assessment: %w", cerr)
		}
		result.Candidate = candidate
	}
	return result, nil
}

func stringAt(expr string, doc any) string {
	v, err := jmespath.Search(expr, doc)
	if err != nil {
		return ""
	}
	s, _ := v.(string)
	return s
}

func assessmentAt(expr string, doc any) (model.LinkAssessment, error) {
	v, err := jmespath.Search(expr, doc)
	if err != nil || v == nil {
		return model.LinkAssessment{}, errors.New("assessment block missing")
	}
	fields, ok := v.(map[string]any)
	if !ok {
		return model.LinkAssessment{}, errors.New("assessment block is not an object")
	}
	return model.LinkAssessment{
		Accessible:      boolField(fields, "accessible"),
		StructuralMatch: boolField(fields, "structural_match"),
		ContentMatch:    boolField(fields, "content_match"),
		Specific:        boolField(fields, "specific"),
	}, nil
}

func boolField(fields map[string]any, name string) bool {
	b, _ := fields[name].(bool)
	return b
}
