package repositories

import (
	"context"
	"errors"

	"github.com/pel/esocialize-portal/models"
)

// ErrNotFound is returned by every backend when the requested record does not exist.
var ErrNotFound = errors.New("record not found")

// PrincipalRepository stores principals keyed by identity-provider id.
//
// Every mutation is a single atomic operation in the backend: UpdateRole only
// touches the role column and SetPermission merges one key into the stored
// map, so concurrent writers never lose each other's updates.
type PrincipalRepository interface {
	// Get retrieves a principal by ID. Returns ErrNotFound when absent.
	Get(ctx context.Context, id string) (*models.Principal, error)

	// CreateIfAbsent inserts p unless a record with the same ID exists.
	// It returns the stored record and whether it was created by this call.
	CreateIfAbsent(ctx context.Context, p *models.Principal) (*models.Principal, bool, error)

	// List returns every principal ordered by creation time.
	List(ctx context.Context) ([]*models.Principal, error)

	// UpdateRole overwrites the role and returns the previous one.
	UpdateRole(ctx context.Context, id string, role models.Role) (models.Role, error)

	// SetPermission sets permissions[section] = allowed, creating the key when
	// missing. It returns the previous value and whether the key existed.
	SetPermission(ctx context.Context, id, section string, allowed bool) (previous bool, existed bool, err error)

	// Ping checks backend reachability.
	Ping(ctx context.Context) error
}

// AuditRepository handles audit log data operations
type AuditRepository interface {
	// Insert inserts a new audit log entry
	Insert(ctx context.Context, log *models.AuditLog) error

	// ListByTarget retrieves audit logs for a principal, newest first
	ListByTarget(ctx context.Context, targetID string, limit, offset int) ([]*models.AuditLog, error)

	// List retrieves all audit logs, newest first
	List(ctx context.Context, limit, offset int) ([]*models.AuditLog, error)
}

// Repositories aggregates all repository interfaces
type Repositories struct {
	Principals PrincipalRepository
	AuditLogs  AuditRepository
}
