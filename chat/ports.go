package chat

import (
	"context"
	"time"

	"chatdesk/auth"
	"chatdesk/database"
	"chatdesk/llmclient"
	"chatdesk/metrics"
	"chatdesk/web/types"
)

// SessionStore is where settled sessions are mirrored.
type SessionStore interface {
	GetSessionsForUser(ctx context.Context, userID string) ([]*types.Session, error)
	SaveSession(ctx context.Context, userID string, session *types.Session) (database.SaveResult, error)
	DeleteSession(ctx context.Context, sessionID string) error
}

// SettingsReader exposes the site-wide switches that gate submissions.
type SettingsReader interface {
	GetSettings(ctx context.Context) (types.Settings, error)
}

// TokenSpender charges a principal for one turn.
type TokenSpender interface {
	SpendTokens(ctx context.Context, p auth.Principal) error
}

// Deps are the collaborators a Reducer talks to. Settings, Tokens and
// Metrics are optional.
type Deps struct {
	Generator llmclient.Generator
	Store     SessionStore
	Settings  SettingsReader
	Tokens    TokenSpender
	Metrics   *metrics.Recorder
}

type Options struct {
	// HistoryWindow bounds how many prior messages are sent as context.
	HistoryWindow int
	// RequestTimeout bounds one generation turn, independent of the caller.
	RequestTimeout time.Duration
	// PersistFailedTurns persists turns that settle with an error message.
	// When false, only successful turns are written.
	PersistFailedTurns bool
}

const (
	defaultHistoryWindow  = 15
	defaultRequestTimeout = 5 * time.Minute
)

func (o Options) withDefaults() Options {
	if o.HistoryWindow <= 0 {
		o.HistoryWindow = defaultHistoryWindow
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = defaultRequestTimeout
	}
	return o
}
