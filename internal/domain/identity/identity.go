package identity

import (
	"errors"
	"fmt"
	"time"
)

type Role string

const (
	RoleManager Role = "Manager"
	RoleAdmin   Role = "Admin"
)

// ParseRole accepts only the exact role names
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleManager, RoleAdmin:
		return Role(s), nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

func (r Role) String() string {
	return string(r)
}

type Status string

const (
	StatusActive    Status = "Active"
	StatusSuspended Status = "Suspended"
)

func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusActive, StatusSuspended:
		return Status(s), nil
	default:
		return "", fmt.Errorf("unknown status %q", s)
	}
}

func (s Status) String() string {
	return string(s)
}

// Record is a stored identity. The secret hash never leaves the repository layer.
type Record struct {
	Username  string     `json:"username"`
	Role      Role       `json:"role"`
	Status    Status     `json:"status"`
	LastLogin *time.Time `json:"last_login,omitempty"`
	CreatedBy string     `json:"created_by,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

func (r *Record) Active() bool {
	return r.Status == StatusActive
}

// Credentials pairs a record with its stored password hash
type Credentials struct {
	Record       Record
	PasswordHash string
}

// Action is an operation gated by role
type Action string

const (
	ActionManageUsers   Action = "users:manage"
	ActionUploadReport  Action = "reports:upload"
	ActionViewReports   Action = "reports:view"
	ActionExportUpload  Action = "exports:upload"
	ActionExportReports Action = "exports:reports"
	ActionViewAudit     Action = "audit:view"
)

var permissions = map[Role]map[Action]bool{
	RoleManager: {
		ActionManageUsers:   true,
		ActionViewReports:   true,
		ActionExportReports: true,
		ActionViewAudit:     true,
	},
	RoleAdmin: {
		ActionUploadReport:  true,
		ActionViewReports:   true,
		ActionExportUpload:  true,
		ActionExportReports: true,
	},
}

// ErrSessionNotFound is returned by session stores for unknown, revoked or expired sessions
var ErrSessionNotFound = errors.New("session not found")

// Session is the authenticated context passed to every operation
type Session struct {
	Username  string    `json:"username"`
	Role      Role      `json:"role"`
	SessionID string    `json:"session_id"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Can reports whether the session's role permits action
func (s *Session) Can(action Action) bool {
	if s == nil {
		return false
	}
	return permissions[s.Role][action]
}

func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
