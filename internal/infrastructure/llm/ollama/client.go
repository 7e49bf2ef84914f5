package ollama

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/time/rate"

	"github.com/kbcore/ingest-pipeline/internal/core/ports"
	"github.com/kbcore/ingest-pipeline/internal/infrastructure/resilience"
)

// Client talks to an ollama-compatible endpoint. Generation calls may
// legitimately take minutes; the HTTP client itself carries no timeout
// and callers bound each request through its context. A process-wide
// rate limiter keeps concurrent segment extraction from flooding the
// model server.
type Client struct {
	baseURL    string
	genModel   string
	embedModel string
	httpClient *http.Client
	limiter    *rate.Limiter
	executor   *resilience.Executor
}

type Options struct {
	RateLimitRPS       float64
	RateLimitBurst     int
	ResilienceExecutor *resilience.Executor
}

func New(baseURL, genModel, embedModel string, options Options) *Client {
	rps := options.RateLimitRPS
	if rps <= 0 {
		rps = 2
	}
	burst := options.RateLimitBurst
	if burst <= 0 {
		burst = 4
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		genModel:   genModel,
		embedModel: embedModel,
		httpClient: &http.Client{},
		limiter:    rate.NewLimiter(rate.Limit(rps), burst),
		executor:   options.ResilienceExecutor,
	}
}

// Generate performs one synchronous completion. Request fields override
// the client defaults: BaseURL for agents with their own endpoint,
// Model for per-agent model selection, Images for multimodal
// transcription.
func (c *Client) Generate(ctx context.Context, req ports.GenerateRequest) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit wait: %w", err)
	}

	model := req.Model
	if model == "" {
		model = c.genModel
	}

	body := map[string]any{
		"model":  model,
		"prompt": req.Prompt,
		"stream": false,
		"options": map[string]any{
			"temperature": req.Temperature,
		},
	}
	if req.MaxTokens > 0 {
		body["options"].(map[string]any)["num_predict"] = req.MaxTokens
	}
	if len(req.Images) > 0 {
		images := make([]string, 0, len(req.Images))
		for _, img := range req.Images {
			images = append(images, base64.StdEncoding.EncodeToString(img))
		}
		body["images"] = images
	}

	var response struct {
		Response string `json:"response"`
	}
	call := func(ctx context.Context) error {
		return c.postJSON(ctx, c.resolveBaseURL(req.BaseURL), "/api/generate", body, &response, "generate")
	}

	var err error
	if c.executor != nil {
		err = c.executor.Execute(ctx, "ollama.generate", call, classifyOllamaError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return "", wrapTemporaryIfNeeded("generate", err)
	}
	return strings.TrimSpace(response.Response), nil
}

// Embed builds dense vectors for a batch of texts.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	body := map[string]any{
		"model": c.embedModel,
		"input": texts,
	}
	var response struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	call := func(ctx context.Context) error {
		return c.postJSON(ctx, c.baseURL, "/api/embed", body, &response, "embed")
	}

	var err error
	if c.executor != nil {
		err = c.executor.Execute(ctx, "ollama.embed", call, classifyOllamaError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return nil, wrapTemporaryIfNeeded("embed", err)
	}
	if len(response.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embeddings/texts mismatch: %d/%d", len(response.Embeddings), len(texts))
	}
	return response.Embeddings, nil
}

func (c *Client) resolveBaseURL(override string) string {
	if override == "" {
		return c.baseURL
	}
	return strings.TrimRight(override, "/")
}
