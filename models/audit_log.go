package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AuditAction represents the type of change being audited
type AuditAction string

const (
	AuditActionPrincipalCreated AuditAction = "principal_created"
	AuditActionRoleChanged      AuditAction = "role_changed"
	AuditActionPermissionSet    AuditAction = "permission_set"
	AuditActionAccessDenied     AuditAction = "access_denied"
)

// AuditLog represents an audit trail entry for an access change
type AuditLog struct {
	ID        uuid.UUID       `json:"id" db:"id"`
	ActorID   string          `json:"actor_id" db:"actor_id"`
	TargetID  string          `json:"target_id" db:"target_id"`
	Action    AuditAction     `json:"action" db:"action"`
	Section   string          `json:"section,omitempty" db:"section"`
	Before    json.RawMessage `json:"before,omitempty" db:"before_value"`
	After     json.RawMessage `json:"after,omitempty" db:"after_value"`
	RequestID string          `json:"request_id,omitempty" db:"request_id"`
	IPAddress string          `json:"ip_address,omitempty" db:"ip_address"`
	Timestamp time.Time       `json:"timestamp" db:"timestamp"`
}

// TableName returns the table name for the AuditLog model
func (AuditLog) TableName() string {
	return "audit_logs"
}

// NewAuditLog creates a new AuditLog instance
func NewAuditLog(actorID, targetID string, action AuditAction) *AuditLog {
	return &AuditLog{
		ID:        uuid.New(),
		ActorID:   actorID,
		TargetID:  targetID,
		Action:    action,
		Timestamp: time.Now().UTC(),
	}
}

// WithSection sets the section the change applies to
func (a *AuditLog) WithSection(section string) *AuditLog {
	a.Section = section
	return a
}

// WithChange records the before and after values. Values that fail to
// marshal are left empty.
func (a *AuditLog) WithChange(before, after interface{}) *AuditLog {
	if data, err := json.Marshal(before); err == nil {
		a.Before = data
	}
	if data, err := json.Marshal(after); err == nil {
		a.After = data
	}
	return a
}

// WithRequest sets request metadata
func (a *AuditLog) WithRequest(requestID, ipAddress string) *AuditLog {
	a.RequestID = requestID
	a.IPAddress = ipAddress
	return a
}
