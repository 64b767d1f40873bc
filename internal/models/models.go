package models

import (
	"strings"
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleModerator Role = "moderator"
	RoleAdmin     Role = "admin"
)

// Caller is the authenticated user an operation runs on behalf of.
type Caller struct {
	UserID   string
	Role     Role
	CampusID string
	Email    string
}

func (c Caller) IsAdmin() bool {
	return c.Role == RoleAdmin
}

// IsStaff covers admins and moderators.
func (c Caller) IsStaff() bool {
	return c.Role == RoleAdmin || c.Role == RoleModerator
}

type HistoryEntry struct {
	Action    string    `json:"action"`
	Timestamp time.Time `json:"timestamp"`
	UserID    string    `json:"user"`
	Details   string    `json:"details,omitempty"`
	OldValue  any       `json:"oldValue,omitempty"`
	NewValue  any       `json:"newValue,omitempty"`
}

func NewHistoryEntry(action, userID, details string, oldValue, newValue any) HistoryEntry {
	return HistoryEntry{
		Action:    action,
		Timestamp: time.Now().UTC(),
		UserID:    userID,
		Details:   details,
		OldValue:  oldValue,
		NewValue:  newValue,
	}
}

// ValidationErrors aggregates field problems into a single message.
type ValidationErrors []string

func (v ValidationErrors) Error() string {
	return strings.Join(v, "; ")
}

func (v *ValidationErrors) Add(msg string) {
	*v = append(*v, msg)
}

func (v ValidationErrors) Err() error {
	if len(v) == 0 {
		return nil
	}
	return v
}
