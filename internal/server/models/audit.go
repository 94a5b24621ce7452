package models

import "time"

// EventType names a security-relevant event.
type EventType string

const (
	EventLogin            EventType = "LOGIN"
	EventLoginFailed      EventType = "LOGIN_FAILED"
	EventLogout           EventType = "LOGOUT"
	EventSyncTriggered    EventType = "SYNC_TRIGGERED"
	EventSyncAccessDenied EventType = "SYNC_ACCESS_DENIED"
	EventSyncAborted      EventType = "SYNC_ABORTED"
)

// AuditRecord is immutable once written.
type AuditRecord struct {
	ID            string
	EventType     EventType
	PrincipalID   string
	PrincipalName string
	OccurredAt    time.Time
	Origin        string
	UserAgent     string
	Details       map[string]string
}
