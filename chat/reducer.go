package chat

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"chatdesk/auth"
	apperrors "chatdesk/errors"
	"chatdesk/web/types"

	"go.uber.org/zap"
)

// ErrClosed is returned by operations on a reducer that has been closed.
var ErrClosed = errors.New("chat: reducer closed")

const (
	titleNewChat         = "New Chat"
	titleNewConversation = "New Conversation"
	titleBranchPrefix    = "Branch: "
	titleMaxRunes        = 30
)

// Reducer owns one user's session collection and runs that user's
// generation turns. At most one turn is in flight at a time.
type Reducer struct {
	userID string
	deps   Deps
	opts   Options
	logger *zap.Logger
	ids    *idSource
	now    func() time.Time

	// storeMu orders store writes against deletions so a late save cannot
	// resurrect a deleted session. Always taken before mu.
	storeMu sync.Mutex

	mu        sync.Mutex
	sessions  []*types.Session // newest first
	activeID  string
	mode      types.SubmissionMode
	busy      bool
	closed    bool
	listeners []subscription
	nextSub   int

	// onIdle, when set, closes the reducer as soon as the in-flight turn
	// settles and is then called.
	onIdle func()

	life   context.Context
	cancel context.CancelFunc
}

type subscription struct {
	id int
	fn Listener
}

// Turn tracks one generation turn started by Submit or Regenerate.
type Turn struct {
	SessionID string
	done      chan struct{}
}

// Done is closed once the turn has settled and the busy flag is cleared.
func (t *Turn) Done() <-chan struct{} { return t.done }

// Wait blocks until the turn settles.
func (t *Turn) Wait() { <-t.done }

func NewReducer(userID string, deps Deps, opts Options, logger *zap.Logger) *Reducer {
	if logger == nil {
		logger = zap.NewNop()
	}
	life, cancel := context.WithCancel(context.Background())
	return &Reducer{
		userID: userID,
		deps:   deps,
		opts:   opts.withDefaults(),
		logger: logger.With(zap.String("user_id", userID)),
		ids:    &idSource{now: time.Now},
		now:    time.Now,
		mode:   types.ModeChat,
		life:   life,
		cancel: cancel,
	}
}

// Load replaces the in-memory collection with the user's stored sessions.
func (r *Reducer) Load(ctx context.Context) error {
	sessions, err := r.deps.Store.GetSessionsForUser(ctx, r.userID)
	if err != nil {
		return apperrors.WrapError(err, "load sessions")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	if r.busy {
		return apperrors.ErrBusy
	}
	r.sessions = sessions
	if r.findLocked(r.activeID) == nil {
		r.activeID = ""
		if len(sessions) > 0 {
			r.activeID = sessions[0].ID
		}
		r.emitLocked(Event{Type: EventActiveChanged, SessionID: r.activeID, Busy: r.busy})
	}
	return nil
}

// Submit appends the user's message to the active session, creating one when
// none is active, and starts a generation turn in the current mode. The new
// message is visible to subscribers before Submit returns.
func (r *Reducer) Submit(ctx context.Context, text, image string) (*Turn, error) {
	if strings.TrimSpace(text) == "" && image == "" {
		return nil, apperrors.ErrEmptySubmission
	}
	p := r.principal(ctx)

	if err := r.reserve(); err != nil {
		return nil, err
	}
	if err := r.admit(ctx, p, true); err != nil {
		r.unreserve()
		return nil, err
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	sess := r.findLocked(r.activeID)
	if sess == nil {
		sess = r.createLocked(titleFromInput(text, titleNewConversation))
	} else if len(sess.Messages) == 0 && strings.TrimSpace(text) != "" {
		sess.Title = titleFromInput(text, sess.Title)
	}

	history := window(sess.Messages, r.opts.HistoryWindow)
	t := r.ids.next()
	msg := &types.Message{ID: formatID(t), Role: types.RoleUser, Text: text, Timestamp: t, Image: image}
	sess.Messages = append(sess.Messages, msg)
	r.emitSessionLocked(EventSessionUpdated, sess)
	r.emitLocked(Event{Type: EventBusyChanged, SessionID: sess.ID, Busy: true})

	in := turnInput{
		sessionID: sess.ID,
		userMsgID: msg.ID,
		prompt:    text,
		image:     image,
		mode:      r.mode,
		history:   history,
	}
	turn := &Turn{SessionID: sess.ID, done: make(chan struct{})}
	r.mu.Unlock()

	r.logger.Debug("Turn submitted", zap.String("session_id", sess.ID), zap.String("mode", string(in.mode)))
	go r.run(ctx, in, turn)
	return turn, nil
}

// Regenerate truncates the active session after its last user message and
// runs that message again. It returns a nil Turn when there is nothing to
// regenerate.
func (r *Reducer) Regenerate(ctx context.Context) (*Turn, error) {
	p := r.principal(ctx)
	if err := r.reserve(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	_, idx := r.lastUserMessageLocked()
	r.mu.Unlock()
	if idx < 0 {
		r.unreserve()
		return nil, nil
	}

	if err := r.admit(ctx, p, false); err != nil {
		r.unreserve()
		return nil, err
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	sess, idx := r.lastUserMessageLocked()
	if idx < 0 {
		r.mu.Unlock()
		r.unreserve()
		return nil, nil
	}
	user := sess.Messages[idx]
	sess.Messages = sess.Messages[:idx+1]
	r.emitSessionLocked(EventSessionUpdated, sess)
	r.emitLocked(Event{Type: EventBusyChanged, SessionID: sess.ID, Busy: true})

	in := turnInput{
		sessionID: sess.ID,
		userMsgID: user.ID,
		prompt:    user.Text,
		image:     user.Image,
		mode:      r.mode,
		history:   window(sess.Messages[:idx], r.opts.HistoryWindow),
	}
	turn := &Turn{SessionID: sess.ID, done: make(chan struct{})}
	r.mu.Unlock()

	go r.run(ctx, in, turn)
	return turn, nil
}

// Branch copies the active session up to and including messageID into a new
// session, makes it active and persists it right away. It returns nil when
// the message is not in the active session.
func (r *Reducer) Branch(ctx context.Context, messageID string) (*types.Session, error) {
	r.storeMu.Lock()
	defer r.storeMu.Unlock()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	src := r.findLocked(r.activeID)
	idx := -1
	if src != nil {
		idx = indexOf(src.Messages, messageID)
	}
	if idx < 0 {
		r.mu.Unlock()
		return nil, nil
	}

	t := r.ids.next()
	branch := &types.Session{
		ID:        fmt.Sprintf("%s_%d", r.userID, t),
		Title:     titleBranchPrefix + src.Title,
		Messages:  types.CloneMessages(src.Messages[:idx+1]),
		UpdatedAt: t,
		UserID:    r.userID,
	}
	r.sessions = append([]*types.Session{branch}, r.sessions...)
	r.activeID = branch.ID
	r.emitSessionLocked(EventSessionCreated, branch)
	r.emitLocked(Event{Type: EventActiveChanged, SessionID: branch.ID, Busy: r.busy})
	snapshot := branch.Clone()
	r.mu.Unlock()

	r.save(ctx, snapshot)
	return snapshot.Clone(), nil
}

// Delete removes a session from memory and, best effort, from the store.
func (r *Reducer) Delete(ctx context.Context, sessionID string) error {
	r.storeMu.Lock()
	defer r.storeMu.Unlock()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	idx := -1
	for i, s := range r.sessions {
		if s.ID == sessionID {
			idx = i
			break
		}
	}
	if idx < 0 {
		r.mu.Unlock()
		return apperrors.WrapErrorf(apperrors.ErrNotFound, "session %s", sessionID)
	}
	r.sessions = append(r.sessions[:idx:idx], r.sessions[idx+1:]...)
	r.emitLocked(Event{Type: EventSessionDeleted, SessionID: sessionID, Busy: r.busy})
	if r.activeID == sessionID {
		r.activeID = ""
		r.emitLocked(Event{Type: EventActiveChanged, Busy: r.busy})
	}
	r.mu.Unlock()

	if err := r.deps.Store.DeleteSession(context.WithoutCancel(ctx), sessionID); err != nil {
		r.logger.Error("Failed to delete session from store", zap.String("session_id", sessionID), zap.Error(err))
	}
	return nil
}

// NewChat starts an empty session, makes it active and resets the mode.
func (r *Reducer) NewChat(ctx context.Context) (*types.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrClosed
	}
	sess := r.createLocked(titleNewChat)
	r.setModeLocked(types.ModeChat)
	return sess.Clone(), nil
}

// Select makes sessionID the active session.
func (r *Reducer) Select(sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}
	if r.findLocked(sessionID) == nil {
		return apperrors.WrapErrorf(apperrors.ErrNotFound, "session %s", sessionID)
	}
	if r.activeID != sessionID {
		r.activeID = sessionID
		r.emitLocked(Event{Type: EventActiveChanged, SessionID: sessionID, Busy: r.busy})
	}
	return nil
}

// SetMode switches how the next submission is interpreted. Coding and image
// modes need a pro plan or an administrator.
func (r *Reducer) SetMode(ctx context.Context, mode types.SubmissionMode) error {
	if mode != types.ModeChat && !r.principal(ctx).CanUsePremiumModes() {
		return apperrors.WrapErrorf(apperrors.ErrForbidden, "%s mode requires a pro plan", mode)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	r.setModeLocked(mode)
	return nil
}

// Sessions returns deep copies of the collection, newest first.
func (r *Reducer) Sessions() []*types.Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*types.Session, len(r.sessions))
	for i, s := range r.sessions {
		out[i] = s.Clone()
	}
	return out
}

// Active returns a copy of the active session, or nil.
func (r *Reducer) Active() *types.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.findLocked(r.activeID).Clone()
}

func (r *Reducer) Mode() types.SubmissionMode {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mode
}

func (r *Reducer) Busy() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.busy
}

// Subscribe registers l for all later events and returns its cancel func.
func (r *Reducer) Subscribe(l Listener) func() {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.nextSub
	r.nextSub++
	r.listeners = append(r.listeners, subscription{id: id, fn: l})
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		for i, s := range r.listeners {
			if s.id == id {
				r.listeners = append(r.listeners[:i:i], r.listeners[i+1:]...)
				return
			}
		}
	}
}

// Close cancels any in-flight turn and drops every later write.
func (r *Reducer) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.listeners = nil
	r.mu.Unlock()
	r.cancel()
}

func (r *Reducer) principal(ctx context.Context) auth.Principal {
	if p, ok := auth.FromContext(ctx); ok {
		return p
	}
	return auth.Principal{UserID: r.userID, Role: auth.RoleGuest}
}

// reserve takes the busy flag without announcing it; the caller either
// announces it with its first mutation or releases it with unreserve.
func (r *Reducer) reserve() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	if r.busy {
		return apperrors.ErrBusy
	}
	r.busy = true
	return nil
}

func (r *Reducer) unreserve() {
	r.mu.Lock()
	r.busy = false
	hook := r.takeIdleHookLocked()
	r.mu.Unlock()
	r.runIdleHook(hook)
}

// closeWhenIdle defers Close until the in-flight turn settles, then calls
// done. It reports false and does nothing when no turn is in flight.
func (r *Reducer) closeWhenIdle(done func()) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || !r.busy {
		return false
	}
	r.onIdle = done
	return true
}

// keepOpen cancels a pending closeWhenIdle. It reports false when the turn
// has already settled and the close is under way or done.
func (r *Reducer) keepOpen() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.onIdle == nil {
		return false
	}
	r.onIdle = nil
	return true
}

func (r *Reducer) takeIdleHookLocked() func() {
	hook := r.onIdle
	r.onIdle = nil
	return hook
}

func (r *Reducer) runIdleHook(hook func()) {
	if hook == nil {
		return
	}
	r.Close()
	hook()
}

// admit applies the site-wide gates and, when charge is set, bills the
// principal for the turn. Regenerating a reply is free.
func (r *Reducer) admit(ctx context.Context, p auth.Principal, charge bool) error {
	if p.Banned {
		return apperrors.WrapError(apperrors.ErrForbidden, "user is banned")
	}
	if r.deps.Settings != nil {
		settings, err := r.deps.Settings.GetSettings(ctx)
		if err != nil {
			r.logger.Warn("Could not read settings, admitting turn", zap.Error(err))
		} else if settings.MaintenanceMode && !p.IsAdmin() {
			return apperrors.ErrMaintenance
		}
	}
	if charge && r.deps.Tokens != nil {
		if err := r.deps.Tokens.SpendTokens(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

func (r *Reducer) createLocked(title string) *types.Session {
	t := r.ids.next()
	sess := &types.Session{
		ID:        fmt.Sprintf("%s_%d", r.userID, t),
		Title:     title,
		Messages:  []*types.Message{},
		UpdatedAt: t,
		UserID:    r.userID,
	}
	r.sessions = append([]*types.Session{sess}, r.sessions...)
	r.activeID = sess.ID
	r.emitSessionLocked(EventSessionCreated, sess)
	r.emitLocked(Event{Type: EventActiveChanged, SessionID: sess.ID, Busy: r.busy})
	return sess
}

func (r *Reducer) setModeLocked(mode types.SubmissionMode) {
	if r.mode == mode {
		return
	}
	r.mode = mode
	r.emitLocked(Event{Type: EventModeChanged, Mode: mode, Busy: r.busy})
}

func (r *Reducer) findLocked(sessionID string) *types.Session {
	if sessionID == "" {
		return nil
	}
	for _, s := range r.sessions {
		if s.ID == sessionID {
			return s
		}
	}
	return nil
}

func (r *Reducer) lastUserMessageLocked() (*types.Session, int) {
	sess := r.findLocked(r.activeID)
	if sess == nil {
		return nil, -1
	}
	for i := len(sess.Messages) - 1; i >= 0; i-- {
		if sess.Messages[i].Role == types.RoleUser {
			return sess, i
		}
	}
	return sess, -1
}

func (r *Reducer) emitSessionLocked(typ EventType, sess *types.Session) {
	if len(r.listeners) == 0 {
		return
	}
	r.emitLocked(Event{Type: typ, SessionID: sess.ID, Session: sess.Clone(), Busy: r.busy})
}

func (r *Reducer) emitLocked(ev Event) {
	if r.closed {
		return
	}
	for _, s := range r.listeners {
		s.fn(ev)
	}
}

// titleFromInput truncates input to the title length, or returns fallback
// for blank input.
func titleFromInput(input, fallback string) string {
	if strings.TrimSpace(input) == "" {
		return fallback
	}
	runes := []rune(input)
	if len(runes) > titleMaxRunes {
		runes = runes[:titleMaxRunes]
	}
	return string(runes)
}

// window returns copies of the last n messages.
func window(msgs []*types.Message, n int) []*types.Message {
	if len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	return types.CloneMessages(msgs)
}

func indexOf(msgs []*types.Message, id string) int {
	for i, m := range msgs {
		if m.ID == id {
			return i
		}
	}
	return -1
}

func formatID(t int64) string {
	return strconv.FormatInt(t, 10)
}
