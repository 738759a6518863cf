package models

import (
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gorm.io/gorm"
)

// ActionKind is the lifecycle operation an action performs.
type ActionKind string

const (
	ActionStart   ActionKind = "start"
	ActionStop    ActionKind = "stop"
	ActionRebuild ActionKind = "rebuild"
	ActionReset   ActionKind = "reset"
	ActionDelete  ActionKind = "delete"
	ActionCreate  ActionKind = "create"
)

// Valid reports whether k is a known kind.
func (k ActionKind) Valid() bool {
	switch k {
	case ActionStart, ActionStop, ActionRebuild, ActionReset, ActionDelete, ActionCreate:
		return true
	}
	return false
}

// ActionStatus represents the state of an action
type ActionStatus string

const (
	ActionPending   ActionStatus = "pending"
	ActionRunning   ActionStatus = "running"
	ActionSuccess   ActionStatus = "success"
	ActionError     ActionStatus = "error"
	ActionCancelled ActionStatus = "cancelled"
)

// Terminal reports whether s is a final status.
func (s ActionStatus) Terminal() bool {
	return s == ActionSuccess || s == ActionError || s == ActionCancelled
}

// LogEntry is one line of an action transcript.
type LogEntry struct {
	Stream string    `json:"stream"`
	Line   string    `json:"line"`
	Time   time.Time `json:"time"`
}

// Action is a recorded lifecycle operation against one workspace instance.
type Action struct {
	ID          uuid.UUID      `gorm:"type:text;primary_key" json:"id" yaml:"id"`
	WorkspaceID string         `gorm:"not null;index" json:"workspace_id" yaml:"workspace_id"`
	Kind        ActionKind     `gorm:"not null" json:"kind" yaml:"kind"`
	Status      ActionStatus   `gorm:"not null;default:'pending'" json:"status" yaml:"status"`
	Error       string         `gorm:"type:text" json:"error,omitempty" yaml:"error,omitempty"`
	Transcript  []LogEntry     `gorm:"serializer:json" json:"transcript,omitempty" yaml:"-"`
	StartedAt   time.Time      `gorm:"index" json:"started_at" yaml:"started_at"`
	FinishedAt  *time.Time     `json:"finished_at,omitempty" yaml:"finished_at,omitempty"`
	CreatedAt   time.Time      `json:"created_at" yaml:"-"`
	UpdatedAt   time.Time      `json:"updated_at" yaml:"-"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-" yaml:"-"`
}

// BeforeCreate hook to generate UUID
func (a *Action) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}

// Terminal reports whether the action has finished.
func (a *Action) Terminal() bool {
	return a.Status.Terminal()
}

// DisplayName is the human readable name of the action, e.g. "Rebuild".
func (a *Action) DisplayName() string {
	return cases.Title(language.English).String(string(a.Kind))
}

// Clone returns a deep copy safe to hand out while the original keeps growing.
func (a *Action) Clone() *Action {
	c := *a
	c.Transcript = append([]LogEntry(nil), a.Transcript...)
	if a.FinishedAt != nil {
		t := *a.FinishedAt
		c.FinishedAt = &t
	}
	return &c
}
