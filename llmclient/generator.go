package llmclient

import (
	"context"
	"fmt"

	"chatdesk/config"
	"chatdesk/web/types"

	"go.uber.org/zap"
)

// StreamRequest is one streamed text generation call.
type StreamRequest struct {
	// History is the trailing window of prior messages, oldest first.
	History []*types.Message
	Prompt  string
	// Image is an optional data URI sent alongside the prompt.
	Image             string
	Mode              types.SubmissionMode
	SystemInstruction string
}

// StreamChunk carries either a text fragment or the error that ended the
// stream. A chunk with Err set is always the last one.
type StreamChunk struct {
	Text string
	Err  error
}

// Generator is the hosted model the chat reducer talks to.
type Generator interface {
	// StreamText starts a streamed completion. The returned channel is closed
	// when the stream ends or ctx is cancelled.
	StreamText(ctx context.Context, req StreamRequest) (<-chan StreamChunk, error)
	// GenerateImage returns the generated image as a data URI.
	GenerateImage(ctx context.Context, prompt string) (string, error)
}

// ActivityLog receives the admin-visible log lines written for each request.
type ActivityLog interface {
	AppendLog(ctx context.Context, entry types.LogEntry) error
}

// Models names the model used for each kind of request.
type Models struct {
	Chat   string
	Coding string
	Image  string
}

func ModelsFromConfig(cfg *config.Config) Models {
	return Models{Chat: cfg.ChatModel, Coding: cfg.CodingModel, Image: cfg.ImageModel}
}

// ForMode picks the text model for a streamed request.
func (m Models) ForMode(mode types.SubmissionMode) string {
	if mode == types.ModeCoding {
		return m.Coding
	}
	return m.Chat
}

// New builds the Generator selected by cfg.LLMProvider.
func New(ctx context.Context, cfg *config.Config, activity ActivityLog, logger *zap.Logger) (Generator, error) {
	switch cfg.LLMProvider {
	case "", "gemini":
		return NewGemini(ctx, cfg, activity, logger)
	case "openai":
		return NewClient(cfg, activity, logger), nil
	}
	return nil, fmt.Errorf("unknown LLM provider %q", cfg.LLMProvider)
}

// recorder writes activity log lines; write failures only reach the zap log.
type recorder struct {
	activity ActivityLog
	logger   *zap.Logger
}

func (r recorder) record(ctx context.Context, typ types.LogType, format string, args ...any) {
	if r.activity == nil {
		return
	}
	msg := fmt.Sprintf(format, args...)
	// Logging must outlive a cancelled request.
	if err := r.activity.AppendLog(context.WithoutCancel(ctx), types.LogEntry{Type: typ, Message: msg}); err != nil {
		r.logger.Warn("Failed to append activity log", zap.String("message", msg), zap.Error(err))
	}
}

func (r recorder) requested(ctx context.Context, mode types.SubmissionMode, model string) {
	r.record(ctx, types.LogInfo, "Generation: %s mode using %s", mode, model)
}

func (r recorder) failed(ctx context.Context, op string, err error) {
	r.record(ctx, types.LogError, "Generation %s failed: %v", op, err)
}

func (r recorder) imageRequested(ctx context.Context, model string) {
	r.record(ctx, types.LogAction, "Image generation requested using %s", model)
}
