package chat

import (
	"chatdesk/web/types"
)

// MessageHandle owns the in-flight model message of a turn. Every mutation
// is published as its own event; once sealed or discarded the handle is inert.
type MessageHandle struct {
	r         *Reducer
	sessionID string
	id        string
	done      bool // guarded by r.mu
}

// openHandle appends a model placeholder to the session and returns its
// handle, or nil when the session is gone or the reducer is closed.
func (r *Reducer) openHandle(sessionID, text string) *MessageHandle {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	sess := r.findLocked(sessionID)
	if sess == nil {
		return nil
	}
	t := r.ids.next()
	msg := &types.Message{ID: formatID(t), Role: types.RoleModel, Text: text, Timestamp: t}
	sess.Messages = append(sess.Messages, msg)
	r.emitSessionLocked(EventSessionUpdated, sess)
	return &MessageHandle{r: r, sessionID: sessionID, id: msg.ID}
}

func (h *MessageHandle) ID() string { return h.id }

// SetText replaces the message text.
func (h *MessageHandle) SetText(text string) {
	h.mutate(func(m *types.Message) { m.Text = text })
}

// Attach sets the message's image payload.
func (h *MessageHandle) Attach(image string) {
	h.mutate(func(m *types.Message) { m.Image = image })
}

// Discard removes the message from its session and closes the handle.
func (h *MessageHandle) Discard() {
	r := h.r
	r.mu.Lock()
	defer r.mu.Unlock()

	if h.done {
		return
	}
	h.done = true
	if r.closed {
		return
	}
	sess := r.findLocked(h.sessionID)
	if sess == nil {
		return
	}
	for i, m := range sess.Messages {
		if m.ID == h.id {
			sess.Messages = append(sess.Messages[:i:i], sess.Messages[i+1:]...)
			r.emitSessionLocked(EventSessionUpdated, sess)
			return
		}
	}
}

// Seal freezes the message; later mutations are ignored.
func (h *MessageHandle) Seal() {
	h.r.mu.Lock()
	h.done = true
	h.r.mu.Unlock()
}

func (h *MessageHandle) mutate(fn func(*types.Message)) {
	r := h.r
	r.mu.Lock()
	defer r.mu.Unlock()

	if h.done || r.closed {
		return
	}
	sess := r.findLocked(h.sessionID)
	if sess == nil {
		return
	}
	for _, m := range sess.Messages {
		if m.ID == h.id {
			fn(m)
			r.emitSessionLocked(EventSessionUpdated, sess)
			return
		}
	}
}
