package review

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	config "github.com/openscribe/backend/config/transcription"
	"github.com/openscribe/backend/services/transcription/entity"
)

// Client talks to a local Ollama instance for text review. All failures
// wrap entity.ErrReviewUnavailable so callers can degrade gracefully
// instead of failing the request that triggered the review.
type Client struct {
	baseURL    string
	model      string
	httpClient *http.Client
	log        *slog.Logger
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
}

var actionPrompts = map[entity.ReviewAction]string{
	entity.ReviewFixGrammar: "Fix the grammar and spelling of the following transcription. Return only the corrected text, nothing else:\n\n%s",
	entity.ReviewRephrase:   "Rephrase the following transcription to read more naturally while keeping its meaning. Return only the rephrased text, nothing else:\n\n%s",
	entity.ReviewImprove:    "Improve the clarity and flow of the following transcription. Return only the improved text, nothing else:\n\n%s",
	entity.ReviewSummarize:  "Summarize the following transcription in a few sentences. Return only the summary, nothing else:\n\n%s",
}

const titlePrompt = "Suggest a short descriptive title (at most 8 words) for the following transcription. Return only the title, no quotes, nothing else:\n\n%s"

func New(cfg *config.ReviewConfig) *Client {
	log := slog.Default()
	log.Debug("creating review client",
		slog.String("base_url", cfg.URL),
		slog.String("model", cfg.Model))
	return &Client{
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		model:      cfg.Model,
		httpClient: &http.Client{Timeout: 2 * time.Minute},
		log:        log,
	}
}

func (c *Client) Review(ctx context.Context, text string, action entity.ReviewAction) (string, error) {
	c.log.Info("Review called",
		slog.String("action", string(action)),
		slog.Int("text_length", len(text)))

	tmpl, ok := actionPrompts[action]
	if !ok {
		return "", fmt.Errorf("unknown review action %q", action)
	}
	return c.generate(ctx, fmt.Sprintf(tmpl, text))
}

// SuggestTitle asks the model for a title for freshly saved content. The
// content is truncated; the opening is enough to name a recording.
func (c *Client) SuggestTitle(ctx context.Context, content string) (string, error) {
	c.log.Info("SuggestTitle called", slog.Int("content_length", len(content)))

	if len(content) > 2000 {
		content = content[:2000]
	}
	title, err := c.generate(ctx, fmt.Sprintf(titlePrompt, content))
	if err != nil {
		return "", err
	}
	return strings.Trim(strings.TrimSpace(title), `"`), nil
}

func (c *Client) generate(ctx context.Context, prompt string) (string, error) {
	c.log.Debug("marshaling generate request", slog.String("model", c.model))
	jsonData, err := json.Marshal(generateRequest{
		Model:  c.model,
		Prompt: prompt,
		Stream: false,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	url := c.baseURL + "/api/generate"
	c.log.Debug("sending POST request to review model", slog.String("url", url))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Error("review request failed",
			slog.String("error", err.Error()),
			slog.String("url", url))
		return "", fmt.Errorf("%w: %v", entity.ErrReviewUnavailable, err)
	}
	defer resp.Body.Close()
	c.log.Debug("response received", slog.Int("status_code", resp.StatusCode))

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		c.log.Error("review model returned error",
			slog.Int("status_code", resp.StatusCode),
			slog.String("response_body", string(body)))
		return "", fmt.Errorf("%w: status %d: %s", entity.ErrReviewUnavailable, resp.StatusCode, string(body))
	}

	var result generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		c.log.Error("failed to decode response", slog.String("error", err.Error()))
		return "", fmt.Errorf("%w: decode response: %v", entity.ErrReviewUnavailable, err)
	}

	c.log.Info("review completed", slog.Int("response_length", len(result.Response)))
	return strings.TrimSpace(result.Response), nil
}
