package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	ctxpkg "github.com/stupiduntilnot/enerlytic/internal/context"
	"github.com/stupiduntilnot/enerlytic/internal/control"
	modelpkg "github.com/stupiduntilnot/enerlytic/internal/model"
)

// DefaultBaseURL is the public OpenAI API root.
const DefaultBaseURL = "https://api.openai.com/v1"

// Config holds the fixed request parameters of a Client.
type Config struct {
	APIKey          string
	BaseURL         string // without trailing slash; DefaultBaseURL if empty
	Model           string
	TranscribeModel string
	Temperature     float32
	MaxTokens       int
	MaxRetries      int
	// Timeout bounds a single HTTP attempt. The caller's context bounds the
	// whole call including retries.
	Timeout time.Duration
	Logger  *slog.Logger
}

// Client is a minimal OpenAI chat completions and transcription client.
type Client struct {
	cfg        Config
	httpClient *http.Client
	retry      control.Policy
	backoff    func(attempt int) time.Duration
	logger     *slog.Logger
}

// NewClient creates an OpenAI client.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.TranscribeModel == "" {
		cfg.TranscribeModel = "whisper-1"
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		retry:   control.Policy{MaxRetries: cfg.MaxRetries},
		backoff: control.RetryBackoff,
		logger:  logger,
	}
}

// Message is a chat message on the wire. Content is either a string or a
// list of content parts.
type Message struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float32   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage *usage `json:"usage"`
}

type usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

type transcriptionResponse struct {
	Text string `json:"text"`
}

type errorEnvelope struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error"`
}

// ToWire converts pipeline messages to the request shape. Multi-part
// messages become a content array; others stay plain strings.
func ToWire(messages []ctxpkg.Message) []Message {
	out := make([]Message, 0, len(messages))
	for _, m := range messages {
		if !m.IsMultipart() {
			out = append(out, Message{Role: m.Role, Content: m.Content})
			continue
		}
		parts := make([]contentPart, 0, len(m.Parts))
		for _, p := range m.Parts {
			switch p.Type {
			case "image_url":
				parts = append(parts, contentPart{Type: "image_url", ImageURL: &imageURL{URL: p.ImageURL}})
			default:
				parts = append(parts, contentPart{Type: "text", Text: p.Text})
			}
		}
		out = append(out, Message{Role: m.Role, Content: parts})
	}
	return out
}

// ChatCompletion sends a chat completion request. Errors are always
// *model.Failure.
func (c *Client) ChatCompletion(ctx context.Context, messages []ctxpkg.Message) (modelpkg.CompletionResponse, error) {
	payload, err := json.Marshal(chatRequest{
		Model:       c.cfg.Model,
		Messages:    ToWire(messages),
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	})
	if err != nil {
		return modelpkg.CompletionResponse{}, &modelpkg.Failure{
			Kind: modelpkg.FailureUnclassified,
			Err:  fmt.Errorf("failed to marshal openai request: %w", err),
		}
	}

	body, err := c.doWithRetry(ctx, "chat", func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return modelpkg.CompletionResponse{}, err
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return modelpkg.CompletionResponse{}, &modelpkg.Failure{
			Kind: modelpkg.FailureUnclassified,
			Err:  fmt.Errorf("failed to parse openai response: %s", truncate(string(body), 400)),
		}
	}

	result := modelpkg.CompletionResponse{}
	if parsed.Usage != nil {
		result.InputTokens = parsed.Usage.PromptTokens
		result.OutputTokens = parsed.Usage.CompletionTokens
	}
	if len(parsed.Choices) > 0 {
		result.Content = strings.TrimSpace(parsed.Choices[0].Message.Content)
	}
	return result, nil
}

// Transcribe sends audio to the transcription endpoint and returns the text.
func (c *Client) Transcribe(ctx context.Context, audio []byte, filename string) (string, error) {
	if filename == "" {
		filename = "audio.ogg"
	}
	var form bytes.Buffer
	mw := multipart.NewWriter(&form)
	if err := mw.WriteField("model", c.cfg.TranscribeModel); err != nil {
		return "", &modelpkg.Failure{Kind: modelpkg.FailureUnclassified, Err: err}
	}
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", &modelpkg.Failure{Kind: modelpkg.FailureUnclassified, Err: err}
	}
	if _, err := fw.Write(audio); err != nil {
		return "", &modelpkg.Failure{Kind: modelpkg.FailureUnclassified, Err: err}
	}
	if err := mw.Close(); err != nil {
		return "", &modelpkg.Failure{Kind: modelpkg.FailureUnclassified, Err: err}
	}
	formBytes := form.Bytes()
	contentType := mw.FormDataContentType()

	body, err := c.doWithRetry(ctx, "transcribe", func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/audio/transcriptions", bytes.NewReader(formBytes))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", contentType)
		return req, nil
	})
	if err != nil {
		return "", err
	}

	var parsed transcriptionResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", &modelpkg.Failure{
			Kind: modelpkg.FailureUnclassified,
			Err:  fmt.Errorf("failed to parse transcription response: %s", truncate(string(body), 400)),
		}
	}
	return strings.TrimSpace(parsed.Text), nil
}

// doWithRetry runs one request, retrying connectivity failures up to
// MaxRetries times with exponential backoff.
func (c *Client) doWithRetry(ctx context.Context, op string, build func(context.Context) (*http.Request, error)) ([]byte, error) {
	for attempt := 0; ; attempt++ {
		body, err := c.do(ctx, build)
		if err == nil {
			return body, nil
		}
		var f *modelpkg.Failure
		if !errors.As(err, &f) || !f.Retryable() || !control.ShouldRetry(c.retry, attempt+1) {
			return nil, err
		}

		wait := c.backoff(attempt + 1)
		c.logger.Debug("openai request failed, retrying",
			"op", op, "attempt", attempt+1, "backoff", wait, "error", err)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, transportFailure(ctx.Err())
		case <-timer.C:
		}
	}
}

func (c *Client) do(ctx context.Context, build func(context.Context) (*http.Request, error)) ([]byte, error) {
	req, err := build(ctx)
	if err != nil {
		return nil, &modelpkg.Failure{
			Kind: modelpkg.FailureUnclassified,
			Err:  fmt.Errorf("failed to create openai request: %w", err),
		}
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, transportFailure(fmt.Errorf("openai request failed: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportFailure(fmt.Errorf("failed reading openai response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, statusFailure(resp.StatusCode, body)
	}
	return body, nil
}

func transportFailure(err error) *modelpkg.Failure {
	kind := modelpkg.Classify(err)
	if errors.Is(err, context.Canceled) {
		kind = modelpkg.FailureTimeout
	}
	if kind == modelpkg.FailureUnclassified {
		kind = modelpkg.FailureConnectivity
	}
	return &modelpkg.Failure{Kind: kind, Err: err}
}

// statusFailure maps a non-2xx response to a failure kind using the status
// code and the provider's error code.
func statusFailure(status int, body []byte) *modelpkg.Failure {
	var env errorEnvelope
	_ = json.Unmarshal(body, &env)
	code := ""
	if s, ok := env.Error.Code.(string); ok {
		code = s
	}
	if code == "" {
		code = env.Error.Type
	}

	f := &modelpkg.Failure{
		StatusCode: status,
		Code:       code,
		Err:        fmt.Errorf("openai non-success status=%d body=%s", status, truncate(string(body), 400)),
	}
	switch {
	case code == "invalid_api_key" || status == http.StatusUnauthorized || status == http.StatusForbidden:
		f.Kind = modelpkg.FailureAuth
	case code == "insufficient_quota" || code == "billing_hard_limit_reached":
		f.Kind = modelpkg.FailureQuota
	case status == http.StatusRequestTimeout:
		f.Kind = modelpkg.FailureTimeout
	case status == http.StatusTooManyRequests || status >= 500:
		f.Kind = modelpkg.FailureConnectivity
	default:
		f.Kind = modelpkg.FailureUnclassified
	}
	return f
}

func truncate(s string, maxChars int) string {
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[:maxChars])
}
