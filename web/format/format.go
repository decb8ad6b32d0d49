package format

import (
	"strings"

	"chatdesk/web/types"
)

// RenderedMessage is a message as sent to browsers: the stored fields plus
// an HTML rendering of model text.
type RenderedMessage struct {
	*types.Message
	Rendered string `json:"rendered,omitempty"`
}

// RenderedSession mirrors types.Session with rendered messages.
type RenderedSession struct {
	ID        string             `json:"id"`
	Title     string             `json:"title"`
	Messages  []*RenderedMessage `json:"messages"`
	UpdatedAt int64              `json:"updatedAt"`
}

// Message renders a single message. User text is left as typed.
func Message(m *types.Message) *RenderedMessage {
	if m == nil {
		return nil
	}
	out := &RenderedMessage{Message: m}
	if m.Role == types.RoleModel && strings.TrimSpace(m.Text) != "" {
		out.Rendered = ToHTML(m.Text)
	}
	return out
}

func Session(s *types.Session) *RenderedSession {
	if s == nil {
		return nil
	}
	out := &RenderedSession{
		ID:        s.ID,
		Title:     s.Title,
		UpdatedAt: s.UpdatedAt,
		Messages:  make([]*RenderedMessage, 0, len(s.Messages)),
	}
	for _, m := range s.Messages {
		out.Messages = append(out.Messages, Message(m))
	}
	return out
}

func Sessions(sessions []*types.Session) []*RenderedSession {
	out := make([]*RenderedSession, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, Session(s))
	}
	return out
}
