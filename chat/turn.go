package chat

import (
	"context"
	"strings"

	apperrors "chatdesk/errors"
	"chatdesk/llmclient"
	"chatdesk/metrics"
	"chatdesk/prompts"
	"chatdesk/web/types"

	"go.uber.org/zap"
)

const (
	imagePlaceholder = "Generating image..."
	streamFailure    = "Sorry, I encountered an error."
	imageDisabled    = "image generation is disabled"
)

func imageCaption(prompt string) string {
	return `Generated image for: "` + prompt + `"`
}

func imageFailure(reason string) string {
	return "Sorry, I failed to generate an image. Reason: " + reason
}

type turnInput struct {
	sessionID string
	userMsgID string
	prompt    string
	image     string
	mode      types.SubmissionMode
	history   []*types.Message
}

// run executes one turn on a context detached from the caller, bounded by
// the request timeout and cancelled when the reducer closes.
func (r *Reducer) run(parent context.Context, in turnInput, turn *Turn) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), r.opts.RequestTimeout)
	stop := context.AfterFunc(r.life, cancel)
	defer func() {
		stop()
		cancel()
		r.settle(turn)
	}()

	if in.mode == types.ModeImage {
		r.runImage(ctx, in)
		return
	}
	r.runStream(ctx, in)
}

func (r *Reducer) settle(turn *Turn) {
	r.mu.Lock()
	r.busy = false
	r.emitLocked(Event{Type: EventBusyChanged, SessionID: turn.SessionID, Busy: false})
	hook := r.takeIdleHookLocked()
	r.mu.Unlock()
	r.runIdleHook(hook)
	close(turn.done)
}

func (r *Reducer) runImage(ctx context.Context, in turnInput) {
	h := r.openHandle(in.sessionID, imagePlaceholder)
	if h == nil {
		return
	}

	if !r.imageGenerationAllowed(ctx) {
		h.SetText(imageFailure(imageDisabled))
		h.Seal()
		r.deps.Metrics.Generation("image", metrics.OutcomeError)
		r.settleFailed(ctx, in.sessionID)
		return
	}

	uri, err := r.deps.Generator.GenerateImage(ctx, in.prompt)
	if err != nil {
		r.logger.Warn("Image generation failed", zap.String("session_id", in.sessionID), zap.Error(err))
		h.SetText(imageFailure(apperrors.Reason(err)))
		h.Seal()
		r.deps.Metrics.Generation("image", metrics.OutcomeError)
		r.settleFailed(ctx, in.sessionID)
		return
	}

	h.SetText(imageCaption(in.prompt))
	h.Attach(uri)
	h.Seal()
	r.deps.Metrics.Generation("image", metrics.OutcomeSuccess)
	r.persist(ctx, in.sessionID)
}

func (r *Reducer) runStream(ctx context.Context, in turnInput) {
	streamCtx, stopStream := context.WithCancel(ctx)
	defer stopStream()

	ch, err := r.deps.Generator.StreamText(streamCtx, llmclient.StreamRequest{
		History:           in.history,
		Prompt:            in.prompt,
		Image:             in.image,
		Mode:              in.mode,
		SystemInstruction: prompts.SystemInstruction(in.mode),
	})
	if err != nil {
		r.failStream(ctx, in, nil, err)
		return
	}

	h := r.openHandle(in.sessionID, "")
	if h == nil {
		stopStream()
		drain(ch)
		return
	}

	var buf strings.Builder
	for chunk := range ch {
		if chunk.Err != nil {
			err = chunk.Err
			break
		}
		buf.WriteString(chunk.Text)
		if strings.Contains(buf.String(), prompts.ImageDirective) {
			stopStream()
			drain(ch)
			h.Discard()
			r.deps.Metrics.Generation("stream", metrics.OutcomeRedirect)
			r.logger.Info("Model requested an image, switching to image generation", zap.String("session_id", in.sessionID))
			r.mu.Lock()
			r.setModeLocked(types.ModeImage)
			r.mu.Unlock()
			r.runImage(ctx, in)
			return
		}
		h.SetText(buf.String())
		r.deps.Metrics.StreamChunk()
	}
	drain(ch)

	if err == nil && ctx.Err() != nil {
		err = apperrors.NewGenerationError("stream", ctx.Err())
	}
	if err != nil {
		r.failStream(ctx, in, h, err)
		return
	}

	h.Seal()
	r.deps.Metrics.Generation("stream", metrics.OutcomeSuccess)
	r.persist(ctx, in.sessionID)
}

// failStream resets the session to its pre-call context followed by the
// fixed error message.
func (r *Reducer) failStream(ctx context.Context, in turnInput, h *MessageHandle, err error) {
	r.logger.Warn("Text generation failed", zap.String("session_id", in.sessionID), zap.Error(err))
	r.deps.Metrics.Generation("stream", metrics.OutcomeError)

	r.mu.Lock()
	if h != nil {
		h.done = true
	}
	sess := r.findLocked(in.sessionID)
	if r.closed || sess == nil {
		r.mu.Unlock()
		return
	}
	keep := indexOf(sess.Messages, in.userMsgID) + 1
	if keep == 0 {
		keep = len(sess.Messages)
		if h != nil {
			if i := indexOf(sess.Messages, h.id); i >= 0 {
				keep = i
			}
		}
	}
	var msgID string
	if h != nil {
		msgID = h.id
	} else {
		msgID = formatID(r.ids.next())
	}
	msgs := append(sess.Messages[:keep:keep], &types.Message{
		ID:        msgID,
		Role:      types.RoleModel,
		Text:      streamFailure,
		Timestamp: r.now().UnixMilli(),
	})
	sess.Messages = msgs
	r.emitSessionLocked(EventSessionUpdated, sess)
	r.mu.Unlock()

	r.settleFailed(ctx, in.sessionID)
}

func (r *Reducer) settleFailed(ctx context.Context, sessionID string) {
	if r.opts.PersistFailedTurns {
		r.persist(ctx, sessionID)
	}
}

func (r *Reducer) imageGenerationAllowed(ctx context.Context) bool {
	if r.deps.Settings == nil {
		return true
	}
	settings, err := r.deps.Settings.GetSettings(ctx)
	if err != nil {
		r.logger.Warn("Could not read settings, allowing image generation", zap.Error(err))
		return true
	}
	return settings.AllowImageGen
}

// persist stamps updatedAt and mirrors the session to the store. Writes for
// closed reducers and deleted sessions are dropped.
func (r *Reducer) persist(ctx context.Context, sessionID string) {
	r.storeMu.Lock()
	defer r.storeMu.Unlock()

	r.mu.Lock()
	sess := r.findLocked(sessionID)
	if r.closed || sess == nil {
		r.mu.Unlock()
		return
	}
	sess.UpdatedAt = r.now().UnixMilli()
	r.emitSessionLocked(EventSessionUpdated, sess)
	snapshot := sess.Clone()
	r.mu.Unlock()

	r.save(ctx, snapshot)
}

func (r *Reducer) save(ctx context.Context, snapshot *types.Session) {
	res, err := r.deps.Store.SaveSession(context.WithoutCancel(ctx), r.userID, snapshot)
	r.deps.Metrics.SessionSaved(res.Degraded, res.StrippedImages, err)
	switch {
	case err != nil:
		r.logger.Error("Failed to persist session", zap.String("session_id", snapshot.ID), zap.Error(err))
	case res.Degraded:
		r.logger.Warn("Session persisted without images",
			zap.String("session_id", snapshot.ID),
			zap.Int("stripped_images", res.StrippedImages))
	}
}

func drain(ch <-chan llmclient.StreamChunk) {
	for range ch {
	}
}
