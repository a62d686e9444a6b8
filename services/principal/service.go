package principal

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/pel/esocialize-portal/models"
	"github.com/pel/esocialize-portal/repositories"
	"github.com/pel/esocialize-portal/services"
)

const (
	DefaultAuditLimit = 100
	MaxAuditLimit     = 1000
)

// AuditRecorder receives access changes. Implemented by audit.AuditService.
type AuditRecorder interface {
	LogPrincipalCreated(ctx context.Context, p *models.Principal) error
	LogRoleChanged(ctx context.Context, actorID, targetID string, before, after models.Role) error
	LogPermissionSet(ctx context.Context, actorID, targetID, section string, before *bool, after bool) error
	LogAccessDenied(ctx context.Context, actorID, targetID, section string) error
	List(ctx context.Context, targetID string, limit, offset int) ([]*models.AuditLog, error)
}

// Invalidator drops cached snapshots after a write.
type Invalidator interface {
	Invalidate(id string)
}

// Service owns principal records and the admin mutations on them.
type Service struct {
	repo    repositories.PrincipalRepository
	retrier *services.Retrier
	audit   AuditRecorder
	logger  *zap.Logger
	cache   Invalidator
}

// NewService creates a principal service. audit may be nil.
func NewService(repo repositories.PrincipalRepository, retrier *services.Retrier, audit AuditRecorder, logger *zap.Logger) *Service {
	return &Service{
		repo:    repo,
		retrier: retrier,
		audit:   audit,
		logger:  logger,
	}
}

// SetInvalidator registers the cache to notify after writes.
func (s *Service) SetInvalidator(inv Invalidator) {
	s.cache = inv
}

// EnsurePrincipal returns the stored principal for an identity, creating it
// with role pending and no permissions on first sign-in.
func (s *Service) EnsurePrincipal(ctx context.Context, id models.Identity) (*models.Principal, error) {
	if id.ID == "" {
		return nil, services.ErrInvalidInput
	}

	var (
		stored  *models.Principal
		created bool
	)
	err := s.retrier.Do(ctx, "create_if_absent", func(ctx context.Context) error {
		var err error
		stored, created, err = s.repo.CreateIfAbsent(ctx, models.NewPendingPrincipal(id))
		return err
	})
	if err != nil {
		return nil, err
	}

	if created {
		s.logger.Info("principal created",
			zap.String("principal_id", stored.ID),
			zap.String("email", stored.Email))
		s.record(func() error { return s.audit.LogPrincipalCreated(ctx, stored) })
	}
	return stored, nil
}

// Get returns a principal by id.
func (s *Service) Get(ctx context.Context, id string) (*models.Principal, error) {
	var p *models.Principal
	err := s.retrier.Do(ctx, "get", func(ctx context.Context) error {
		var err error
		p, err = s.repo.Get(ctx, id)
		return err
	})
	if err != nil {
		return nil, mapNotFound(err)
	}
	return p, nil
}

// List returns every principal ordered by creation time. Admin only.
func (s *Service) List(ctx context.Context, actor *models.Principal) ([]*models.Principal, error) {
	if !actor.IsAdmin() {
		return nil, services.ErrAdminRequired
	}
	var list []*models.Principal
	err := s.retrier.Do(ctx, "list", func(ctx context.Context) error {
		var err error
		list, err = s.repo.List(ctx)
		return err
	})
	return list, err
}

// Lookup returns a principal by id on behalf of an admin.
func (s *Service) Lookup(ctx context.Context, actor *models.Principal, id string) (*models.Principal, error) {
	if !actor.IsAdmin() {
		return nil, services.ErrAdminRequired
	}
	return s.Get(ctx, id)
}

// SetRole overwrites the target's role. Permissions are left untouched so a
// later return to team_member restores the previous grants.
func (s *Service) SetRole(ctx context.Context, actor *models.Principal, targetID string, role models.Role) error {
	if !actor.IsAdmin() {
		s.denied(ctx, actor, targetID, "")
		return services.ErrAdminRequired
	}
	if !role.Valid() {
		return services.ErrInvalidRole.With("role", string(role))
	}

	var previous models.Role
	err := s.retrier.Do(ctx, "update_role", func(ctx context.Context) error {
		var err error
		previous, err = s.repo.UpdateRole(ctx, targetID, role)
		return err
	})
	if err != nil {
		return mapNotFound(err)
	}

	s.invalidate(targetID)
	s.logger.Info("role changed",
		zap.String("actor_id", actor.ID),
		zap.String("principal_id", targetID),
		zap.String("from", string(previous)),
		zap.String("to", string(role)))
	s.record(func() error { return s.audit.LogRoleChanged(ctx, actor.ID, targetID, previous, role) })
	return nil
}

// SetPermission sets permissions[section] = allowed on the target. The store
// merges the single key so concurrent toggles of other keys are preserved.
func (s *Service) SetPermission(ctx context.Context, actor *models.Principal, targetID, section string, allowed bool) error {
	if !actor.IsAdmin() {
		s.denied(ctx, actor, targetID, section)
		return services.ErrAdminRequired
	}
	if !models.ValidSectionID(section) {
		return services.ErrInvalidSection.With("section", section)
	}

	var (
		previous bool
		existed  bool
	)
	err := s.retrier.Do(ctx, "set_permission", func(ctx context.Context) error {
		var err error
		previous, existed, err = s.repo.SetPermission(ctx, targetID, section, allowed)
		return err
	})
	if err != nil {
		return mapNotFound(err)
	}

	s.invalidate(targetID)
	s.logger.Info("permission set",
		zap.String("actor_id", actor.ID),
		zap.String("principal_id", targetID),
		zap.String("section", section),
		zap.Bool("allowed", allowed))

	var before *bool
	if existed {
		before = &previous
	}
	s.record(func() error { return s.audit.LogPermissionSet(ctx, actor.ID, targetID, section, before, allowed) })
	return nil
}

// AuditTrail lists recorded changes, newest first. An empty targetID lists
// changes to every principal. Admin only.
func (s *Service) AuditTrail(ctx context.Context, actor *models.Principal, targetID string, limit, offset int) ([]*models.AuditLog, error) {
	if !actor.IsAdmin() {
		return nil, services.ErrAdminRequired
	}
	if s.audit == nil {
		return []*models.AuditLog{}, nil
	}
	if limit <= 0 {
		limit = DefaultAuditLimit
	}
	if limit > MaxAuditLimit {
		limit = MaxAuditLimit
	}
	if offset < 0 {
		offset = 0
	}

	var logs []*models.AuditLog
	err := s.retrier.Do(ctx, "list_audit", func(ctx context.Context) error {
		var err error
		logs, err = s.audit.List(ctx, targetID, limit, offset)
		return err
	})
	return logs, err
}

// Ping checks that the store answers.
func (s *Service) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}

func (s *Service) invalidate(id string) {
	if s.cache != nil {
		s.cache.Invalidate(id)
	}
}

func (s *Service) denied(ctx context.Context, actor *models.Principal, targetID, section string) {
	actorID := ""
	if actor != nil {
		actorID = actor.ID
	}
	s.logger.Warn("non-admin mutation refused",
		zap.String("actor_id", actorID),
		zap.String("principal_id", targetID),
		zap.String("section", section))
	if actorID != "" {
		s.record(func() error { return s.audit.LogAccessDenied(ctx, actorID, targetID, section) })
	}
}

// record hands an event to the audit writer. The change has already been
// committed, so a full buffer is logged and otherwise ignored.
func (s *Service) record(log func() error) {
	if s.audit == nil {
		return
	}
	if err := log(); err != nil {
		s.logger.Warn("audit event not recorded", zap.Error(err))
	}
}

func mapNotFound(err error) error {
	if errors.Is(err, repositories.ErrNotFound) {
		return services.ErrPrincipalNotFound
	}
	return err
}
