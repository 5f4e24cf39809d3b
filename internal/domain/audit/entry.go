package audit

import "time"

// Actions recorded in the audit log
const (
	ActionLogin         = "Logged in"
	ActionLogout        = "Logged out"
	ActionPasswordReset = "Password reset"
	ActionReportUpload  = "Uploaded report"
)

// Entry is one append-only audit log line
type Entry struct {
	ID          int64     `json:"id"`
	Action      string    `json:"action"`
	PerformedBy string    `json:"performed_by"`
	Timestamp   time.Time `json:"timestamp"`
}

func CreatedUser(role, username string) string {
	return "Created " + role + ": " + username
}

func RemovedUser(role, username string) string {
	return "Removed " + role + ": " + username
}

func ChangedStatus(username, status string) string {
	return "Set status of " + username + " to " + status
}
