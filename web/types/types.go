package types

import (
	"fmt"
	"strings"
)

// Role identifies the author of a chat message.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Message is a single turn in a chat session.
type Message struct {
	ID        string `json:"id"`
	Role      Role   `json:"role"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
	Image     string `json:"image,omitempty"` // data URI
}

// Clone returns an independent copy of the message.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	c := *m
	return &c
}

// Session is one conversation thread.
type Session struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Messages  []*Message `json:"messages"`
	UpdatedAt int64      `json:"updatedAt"`
	UserID    string     `json:"userId,omitempty"`
}

// Clone deep-copies the session so the copy shares no mutable state.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Messages = CloneMessages(s.Messages)
	return &c
}

// HasImages reports whether any message carries an image payload.
func (s *Session) HasImages() bool {
	for _, m := range s.Messages {
		if m.Image != "" {
			return true
		}
	}
	return false
}

// CloneMessages deep-copies a message list.
func CloneMessages(msgs []*Message) []*Message {
	if msgs == nil {
		return nil
	}
	out := make([]*Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.Clone()
	}
	return out
}

// SubmissionMode selects how the next submitted input is interpreted.
type SubmissionMode string

const (
	ModeChat   SubmissionMode = "chat"
	ModeCoding SubmissionMode = "coding"
	ModeImage  SubmissionMode = "image"
)

// ParseMode validates a mode name.
func ParseMode(s string) (SubmissionMode, error) {
	switch SubmissionMode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeChat, "":
		return ModeChat, nil
	case ModeCoding:
		return ModeCoding, nil
	case ModeImage, "image-generation", "imagegen":
		return ModeImage, nil
	}
	return "", fmt.Errorf("unknown mode %q", s)
}

// SubscriptionPlan is the billing tier of a user.
type SubscriptionPlan string

const (
	PlanNone     SubscriptionPlan = "none"
	PlanFree     SubscriptionPlan = "free"
	PlanPro      SubscriptionPlan = "pro"
	PlanLifetime SubscriptionPlan = "lifetime"
)

// ParsePlan validates a plan name.
func ParsePlan(s string) (SubscriptionPlan, error) {
	switch p := SubscriptionPlan(strings.ToLower(strings.TrimSpace(s))); p {
	case PlanNone, PlanFree, PlanPro, PlanLifetime:
		return p, nil
	}
	return "", fmt.Errorf("unknown subscription plan %q", s)
}

// User is a stored account record.
type User struct {
	ID               string           `json:"id"`
	Name             string           `json:"name"`
	Email            string           `json:"email"`
	Avatar           string           `json:"avatar"`
	SubscriptionPlan SubscriptionPlan `json:"subscriptionPlan"`
	IsPro            bool             `json:"isPro"`
	Tokens           int              `json:"tokens"`
	IsAdmin          bool             `json:"isAdmin,omitempty"`
	IsBanned         bool             `json:"isBanned,omitempty"`
	JoinedAt         int64            `json:"joinedAt,omitempty"`
}

// UserPatch is a partial update of a user; nil fields are left untouched.
type UserPatch struct {
	Name             *string           `json:"name,omitempty"`
	SubscriptionPlan *SubscriptionPlan `json:"subscriptionPlan,omitempty"`
	IsPro            *bool             `json:"isPro,omitempty"`
	Tokens           *int              `json:"tokens,omitempty"`
	IsAdmin          *bool             `json:"isAdmin,omitempty"`
	IsBanned         *bool             `json:"isBanned,omitempty"`
}

// Apply merges the patch into u.
func (p UserPatch) Apply(u *User) {
	if p.Name != nil {
		u.Name = *p.Name
	}
	if p.SubscriptionPlan != nil {
		u.SubscriptionPlan = *p.SubscriptionPlan
	}
	if p.IsPro != nil {
		u.IsPro = *p.IsPro
	}
	if p.Tokens != nil {
		u.Tokens = *p.Tokens
	}
	if p.IsAdmin != nil {
		u.IsAdmin = *p.IsAdmin
	}
	if p.IsBanned != nil {
		u.IsBanned = *p.IsBanned
	}
}

// Settings are the site-wide switches edited from the admin panel.
type Settings struct {
	MaintenanceMode   bool    `json:"maintenanceMode"`
	GlobalAlert       *string `json:"globalAlert"`
	AllowImageGen     bool    `json:"allowImageGen"`
	AllowRegistration bool    `json:"allowRegistration"`
}

// DefaultSettings is what an empty store reports.
func DefaultSettings() Settings {
	return Settings{
		MaintenanceMode:   false,
		GlobalAlert:       nil,
		AllowImageGen:     true,
		AllowRegistration: true,
	}
}

// SettingsPatch is a partial settings update. A GlobalAlert pointing at an
// empty string clears the alert.
type SettingsPatch struct {
	MaintenanceMode   *bool   `json:"maintenanceMode,omitempty"`
	GlobalAlert       *string `json:"globalAlert,omitempty"`
	AllowImageGen     *bool   `json:"allowImageGen,omitempty"`
	AllowRegistration *bool   `json:"allowRegistration,omitempty"`
}

// Apply merges the patch into s.
func (p SettingsPatch) Apply(s *Settings) {
	if p.MaintenanceMode != nil {
		s.MaintenanceMode = *p.MaintenanceMode
	}
	if p.GlobalAlert != nil {
		if strings.TrimSpace(*p.GlobalAlert) == "" {
			s.GlobalAlert = nil
		} else {
			alert := *p.GlobalAlert
			s.GlobalAlert = &alert
		}
	}
	if p.AllowImageGen != nil {
		s.AllowImageGen = *p.AllowImageGen
	}
	if p.AllowRegistration != nil {
		s.AllowRegistration = *p.AllowRegistration
	}
}

// LogType classifies a system log entry.
type LogType string

const (
	LogInfo   LogType = "INFO"
	LogAction LogType = "ACTION"
	LogAuth   LogType = "AUTH"
	LogError  LogType = "ERROR"
)

// LogEntry is one line of the admin-visible system log.
type LogEntry struct {
	ID        string  `json:"id,omitempty"`
	Type      LogType `json:"type"`
	Message   string  `json:"message"`
	Timestamp int64   `json:"timestamp,omitempty"`
}

// DashboardStats summarizes the user base for the admin panel.
type DashboardStats struct {
	TotalUsers  int `json:"totalUsers"`
	ProUsers    int `json:"proUsers"`
	BannedUsers int `json:"bannedUsers"`
}
