// Package memory is an in-process store used for local development and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pel/esocialize-portal/models"
	"github.com/pel/esocialize-portal/repositories"
)

// PrincipalRepository keeps principals in a map guarded by a mutex.
type PrincipalRepository struct {
	mu    sync.RWMutex
	items map[string]*models.Principal
	now   func() time.Time
}

// NewPrincipalRepository creates an empty store
func NewPrincipalRepository() *PrincipalRepository {
	return &PrincipalRepository{
		items: make(map[string]*models.Principal),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Get returns a copy of the stored principal.
func (r *PrincipalRepository) Get(ctx context.Context, id string) (*models.Principal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.items[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return p.Clone(), nil
}

// CreateIfAbsent stores p unless the id is already taken.
func (r *PrincipalRepository) CreateIfAbsent(ctx context.Context, p *models.Principal) (*models.Principal, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.items[p.ID]; ok {
		return existing.Clone(), false, nil
	}
	stored := p.Clone()
	if stored.Permissions == nil {
		stored.Permissions = models.Permissions{}
	}
	r.items[p.ID] = stored
	return stored.Clone(), true, nil
}

// List returns copies of all principals ordered by creation time.
func (r *PrincipalRepository) List(ctx context.Context) ([]*models.Principal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*models.Principal, 0, len(r.items))
	for _, p := range r.items {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// UpdateRole overwrites the role, leaving permissions untouched.
func (r *PrincipalRepository) UpdateRole(ctx context.Context, id string, role models.Role) (models.Role, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.items[id]
	if !ok {
		return "", repositories.ErrNotFound
	}
	previous := p.Role
	p.Role = role
	p.UpdatedAt = r.now()
	return previous, nil
}

// SetPermission merges a single key into the permission map.
func (r *PrincipalRepository) SetPermission(ctx context.Context, id, section string, allowed bool) (bool, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.items[id]
	if !ok {
		return false, false, repositories.ErrNotFound
	}
	if p.Permissions == nil {
		p.Permissions = models.Permissions{}
	}
	previous, existed := p.Permissions[section]
	p.Permissions[section] = allowed
	p.UpdatedAt = r.now()
	return previous, existed, nil
}

// Ping always succeeds.
func (r *PrincipalRepository) Ping(ctx context.Context) error {
	return nil
}

// AuditRepository keeps audit logs in insertion order.
type AuditRepository struct {
	mu   sync.RWMutex
	logs []*models.AuditLog
}

// NewAuditRepository creates an empty audit log
func NewAuditRepository() *AuditRepository {
	return &AuditRepository{}
}

// Insert appends an entry.
func (r *AuditRepository) Insert(ctx context.Context, log *models.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry := *log
	r.logs = append(r.logs, &entry)
	return nil
}

// ListByTarget returns entries for targetID, newest first.
func (r *AuditRepository) ListByTarget(ctx context.Context, targetID string, limit, offset int) ([]*models.AuditLog, error) {
	return r.list(func(l *models.AuditLog) bool { return l.TargetID == targetID }, limit, offset), nil
}

// List returns all entries, newest first.
func (r *AuditRepository) List(ctx context.Context, limit, offset int) ([]*models.AuditLog, error) {
	return r.list(func(*models.AuditLog) bool { return true }, limit, offset), nil
}

func (r *AuditRepository) list(keep func(*models.AuditLog) bool, limit, offset int) []*models.AuditLog {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*models.AuditLog, 0)
	skipped := 0
	for i := len(r.logs) - 1; i >= 0; i-- {
		l := r.logs[i]
		if !keep(l) {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		if limit > 0 && len(out) >= limit {
			break
		}
		entry := *l
		out = append(out, &entry)
	}
	return out
}

// NewRepositories wires both in-memory repositories
func NewRepositories() *repositories.Repositories {
	return &repositories.Repositories{
		Principals: NewPrincipalRepository(),
		AuditLogs:  NewAuditRepository(),
	}
}
