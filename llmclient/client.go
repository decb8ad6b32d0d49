package llmclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"chatdesk/config"
	apperrors "chatdesk/errors"
	"chatdesk/prompts"
	"chatdesk/web/types"

	"go.uber.org/zap"
)

// ErrContextWindowExceeded is returned when the model reports the prompt
// exceeds the available context size.
var ErrContextWindowExceeded = errors.New("context window exceeded")

type streamChoice struct {
	Delta struct {
		Content string `json:"content"`
	} `json:"delta"`
	Index int `json:"index"`
}

type streamResponse struct {
	Choices []streamChoice `json:"choices"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"` // string, or []contentPart when an image is attached
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
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type imageRequest struct {
	Model          string `json:"model"`
	Prompt         string `json:"prompt"`
	N              int    `json:"n"`
	Size           string `json:"size"`
	ResponseFormat string `json:"response_format"`
}

type imageResponse struct {
	Data []struct {
		B64JSON string `json:"b64_json"`
	} `json:"data"`
}

// Client talks to an OpenAI-compatible endpoint (llama.cpp, vLLM, OpenAI).
type Client struct {
	cfg        *config.Config
	baseURL    string
	models     Models
	httpClient *http.Client
	rec        recorder
	logger     *zap.Logger
}

func NewClient(cfg *config.Config, activity ActivityLog, logger *zap.Logger) *Client {
	// Streaming requests rely on context cancellation or the server closing
	// the stream; the timeout bounds the whole exchange.
	return &Client{
		cfg:        cfg,
		baseURL:    strings.TrimRight(cfg.OpenAIBaseURL, "/"),
		models:     ModelsFromConfig(cfg),
		httpClient: &http.Client{Timeout: cfg.LLMRequestTimeout},
		rec:        recorder{activity: activity, logger: logger},
		logger:     logger,
	}
}

// StreamText performs a streaming chat completion call and returns a channel of chunks.
func (c *Client) StreamText(ctx context.Context, req StreamRequest) (<-chan StreamChunk, error) {
	model := c.models.ForMode(req.Mode)
	c.rec.requested(ctx, req.Mode, model)

	messages, err := buildChatMessages(req)
	if err != nil {
		c.rec.failed(ctx, "stream", err)
		return nil, apperrors.NewGenerationError("stream", err)
	}
	jsonBody, err := json.Marshal(chatRequest{Model: model, Messages: messages, Stream: true})
	if err != nil {
		return nil, apperrors.NewGenerationError("stream", fmt.Errorf("marshal chat request: %w", err))
	}

	out := make(chan StreamChunk)
	go func() {
		defer close(out)

		fail := func(err error) {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("Chat stream failed", zap.String("model", model), zap.Error(err))
			c.rec.failed(ctx, "stream", err)
			select {
			case out <- StreamChunk{Err: apperrors.NewGenerationError("stream", err)}:
			case <-ctx.Done():
			}
		}

		resp, err := c.post(ctx, "/v1/chat/completions", jsonBody, "text/event-stream")
		if err != nil {
			fail(err)
			return
		}
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			data := strings.TrimPrefix(line, "data: ")
			if data == "[DONE]" {
				return
			}
			var sr streamResponse
			if err := json.Unmarshal([]byte(data), &sr); err != nil {
				c.logger.Debug("Skipping undecodable stream event", zap.Error(err))
				continue
			}
			if len(sr.Choices) == 0 || sr.Choices[0].Delta.Content == "" {
				continue
			}
			select {
			case out <- StreamChunk{Text: sr.Choices[0].Delta.Content}:
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			fail(fmt.Errorf("read chat stream: %w", err))
		}
	}()

	return out, nil
}

// GenerateImage requests a single square image and returns it as a data URI.
func (c *Client) GenerateImage(ctx context.Context, prompt string) (string, error) {
	model := c.models.Image
	c.rec.imageRequested(ctx, model)

	jsonBody, err := json.Marshal(imageRequest{
		Model:          model,
		Prompt:         prompts.ImagePromptPrefix + prompt,
		N:              1,
		Size:           "1024x1024",
		ResponseFormat: "b64_json",
	})
	if err != nil {
		return "", apperrors.NewGenerationError("image", fmt.Errorf("marshal image request: %w", err))
	}

	fail := func(err error) (string, error) {
		c.logger.Error("Image generation failed", zap.String("model", model), zap.Error(err))
		c.rec.failed(ctx, "image", err)
		return "", apperrors.NewGenerationError("image", err)
	}

	resp, err := c.post(ctx, "/v1/images/generations", jsonBody, "application/json")
	if err != nil {
		return fail(err)
	}
	defer resp.Body.Close()

	var ir imageResponse
	if err := json.NewDecoder(resp.Body).Decode(&ir); err != nil {
		return fail(fmt.Errorf("decode image response: %w", err))
	}
	if len(ir.Data) == 0 || ir.Data[0].B64JSON == "" {
		return fail(errors.New("no image data in response"))
	}
	return "data:" + defaultImageMIME + ";base64," + ir.Data[0].B64JSON, nil
}

// post sends body to path, retrying while the server reports 503 (model
// loading). A non-200 response is returned as an error.
func (c *Client) post(ctx context.Context, path string, body []byte, accept string) (*http.Response, error) {
	url := c.baseURL + path

	attempts := c.cfg.MaxRetries
	if attempts <= 0 {
		attempts = 1
	}

	var resp *http.Response
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", accept)
		if c.cfg.OpenAIAPIKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.cfg.OpenAIAPIKey)
		}

		r, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			// Do not retry on context cancellation/deadline
			if ctx.Err() != nil {
				break
			}
			continue
		}

		if r.StatusCode == http.StatusServiceUnavailable {
			io.Copy(io.Discard, r.Body)
			r.Body.Close()
			lastErr = fmt.Errorf("llm server status %s", r.Status)
			c.logger.Warn("LLM service unavailable, retrying", zap.Int("attempt", attempt+1))
			if attempt+1 < attempts {
				c.backoffSleep(ctx, attempt)
			}
			continue
		}

		resp = r
		break
	}
	if resp == nil {
		return nil, fmt.Errorf("no response from LLM server: %w", lastErr)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		bodyBytes, _ := io.ReadAll(resp.Body)
		bodyString := string(bodyBytes)
		if strings.Contains(bodyString, "exceeds the available context size") {
			return nil, ErrContextWindowExceeded
		}
		return nil, fmt.Errorf("llm server status %s: %s", resp.Status, strings.TrimSpace(bodyString))
	}
	return resp, nil
}

func (c *Client) backoffSleep(ctx context.Context, attempt int) {
	// Exponential backoff with configurable jitter and cap
	base := c.cfg.RetryDelaySeconds
	if base <= 0 {
		base = time.Second // config normalization should prevent this
	}
	d := base * time.Duration(1<<attempt)
	maxWait := c.cfg.LLMBackoffMaxSeconds
	if maxWait > 0 && d > maxWait {
		d = maxWait
	}
	jitterRatio := c.cfg.LLMBackoffJitterRatio
	if jitterRatio < 0 || jitterRatio > 1 {
		jitterRatio = 0.1
	}
	jitter := time.Duration(float64(d) * jitterRatio)
	wait := d - jitter + time.Duration(time.Now().UnixNano()%int64(2*jitter+1))

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

func buildChatMessages(req StreamRequest) ([]chatMessage, error) {
	messages := make([]chatMessage, 0, len(req.History)+2)
	if req.SystemInstruction != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.SystemInstruction})
	}
	for _, m := range req.History {
		if strings.TrimSpace(m.Text) == "" {
			continue
		}
		role := "user"
		if m.Role == types.RoleModel {
			role = "assistant"
		}
		messages = append(messages, chatMessage{Role: role, Content: m.Text})
	}

	switch {
	case req.Image != "":
		if _, _, err := ParseDataURI(req.Image); err != nil {
			return nil, fmt.Errorf("attach image: %w", err)
		}
		parts := []contentPart{{Type: "image_url", ImageURL: &imageURL{URL: req.Image}}}
		if req.Prompt != "" {
			parts = append(parts, contentPart{Type: "text", Text: req.Prompt})
		}
		messages = append(messages, chatMessage{Role: "user", Content: parts})
	case req.Prompt != "":
		messages = append(messages, chatMessage{Role: "user", Content: req.Prompt})
	default:
		return nil, errors.New("empty prompt")
	}
	return messages, nil
}
