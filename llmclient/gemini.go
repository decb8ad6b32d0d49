package llmclient

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"chatdesk/config"
	apperrors "chatdesk/errors"
	"chatdesk/prompts"
	"chatdesk/web/types"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

// GeminiClient generates text and images through the Gemini API.
type GeminiClient struct {
	client *genai.Client
	models Models
	rec    recorder
	logger *zap.Logger
}

func NewGemini(ctx context.Context, cfg *config.Config, activity ActivityLog, logger *zap.Logger) (*GeminiClient, error) {
	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required for the gemini provider")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating Gemini client: %w", err)
	}
	return &GeminiClient{
		client: client,
		models: ModelsFromConfig(cfg),
		rec:    recorder{activity: activity, logger: logger},
		logger: logger,
	}, nil
}

func (g *GeminiClient) StreamText(ctx context.Context, req StreamRequest) (<-chan StreamChunk, error) {
	model := g.models.ForMode(req.Mode)
	g.rec.requested(ctx, req.Mode, model)

	contents, err := buildGeminiContents(req)
	if err != nil {
		g.rec.failed(ctx, "stream", err)
		return nil, apperrors.NewGenerationError("stream", err)
	}

	var genCfg *genai.GenerateContentConfig
	if req.SystemInstruction != "" {
		genCfg = &genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(req.SystemInstruction, genai.RoleUser),
		}
	}

	out := make(chan StreamChunk)
	go func() {
		defer close(out)
		for resp, err := range g.client.Models.GenerateContentStream(ctx, model, contents, genCfg) {
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				g.logger.Error("Gemini stream failed", zap.String("model", model), zap.Error(err))
				g.rec.failed(ctx, "stream", err)
				select {
				case out <- StreamChunk{Err: apperrors.NewGenerationError("stream", err)}:
				case <-ctx.Done():
				}
				return
			}
			text := resp.Text()
			if text == "" {
				continue
			}
			select {
			case out <- StreamChunk{Text: text}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (g *GeminiClient) GenerateImage(ctx context.Context, prompt string) (string, error) {
	model := g.models.Image
	g.rec.imageRequested(ctx, model)

	contents := []*genai.Content{
		genai.NewContentFromText(prompts.ImagePromptPrefix+prompt, genai.RoleUser),
	}
	genCfg := &genai.GenerateContentConfig{
		ImageConfig: &genai.ImageConfig{AspectRatio: "1:1"},
	}

	resp, err := g.client.Models.GenerateContent(ctx, model, contents, genCfg)
	if err != nil {
		g.logger.Error("Gemini image generation failed", zap.String("model", model), zap.Error(err))
		g.rec.failed(ctx, "image", err)
		return "", apperrors.NewGenerationError("image", err)
	}

	uri, err := imageFromResponse(resp)
	if err != nil {
		g.rec.failed(ctx, "image", err)
		return "", apperrors.NewGenerationError("image", err)
	}
	return uri, nil
}

// buildGeminiContents turns the history window and the new prompt into the
// request contents. History carries text only; the image rides on the prompt.
func buildGeminiContents(req StreamRequest) ([]*genai.Content, error) {
	contents := make([]*genai.Content, 0, len(req.History)+1)
	for _, m := range req.History {
		if strings.TrimSpace(m.Text) == "" {
			continue
		}
		var role genai.Role = genai.RoleUser
		if m.Role == types.RoleModel {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Text, role))
	}

	var parts []*genai.Part
	if req.Image != "" {
		mime, data, err := ParseDataURI(req.Image)
		if err != nil {
			return nil, fmt.Errorf("attach image: %w", err)
		}
		parts = append(parts, genai.NewPartFromBytes(data, mime))
	}
	if req.Prompt != "" {
		parts = append(parts, genai.NewPartFromText(req.Prompt))
	}
	if len(parts) == 0 {
		return nil, errors.New("empty prompt")
	}
	return append(contents, genai.NewContentFromParts(parts, genai.RoleUser)), nil
}

// imageFromResponse returns the first inline image part as a data URI.
func imageFromResponse(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil {
		return "", errors.New("empty response")
	}
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part != nil && part.InlineData != nil && len(part.InlineData.Data) > 0 {
				return EncodeDataURI(part.InlineData.MIMEType, part.InlineData.Data), nil
			}
		}
	}
	if text := strings.TrimSpace(resp.Text()); text != "" {
		return "", fmt.Errorf("no image data in response: %s", text)
	}
	return "", errors.New("no image data in response")
}
