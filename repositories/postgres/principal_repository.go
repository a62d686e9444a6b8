package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/pel/esocialize-portal/models"
	"github.com/pel/esocialize-portal/repositories"
)

const principalColumns = `id, display_name, avatar_url, email, role, permissions, created_at, updated_at`

// PrincipalRepository implements the repositories.PrincipalRepository interface
type PrincipalRepository struct {
	db     *DB
	logger *zap.Logger
	now    func() time.Time
}

// NewPrincipalRepository creates a new principal repository
func NewPrincipalRepository(db *DB, logger *zap.Logger) *PrincipalRepository {
	return &PrincipalRepository{
		db:     db,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPrincipal(row rowScanner) (*models.Principal, error) {
	p := &models.Principal{}
	err := row.Scan(
		&p.ID,
		&p.DisplayName,
		&p.AvatarURL,
		&p.Email,
		&p.Role,
		&p.Permissions,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Get retrieves a principal by ID
func (r *PrincipalRepository) Get(ctx context.Context, id string) (*models.Principal, error) {
	query := `SELECT ` + principalColumns + ` FROM principals WHERE id = $1`

	p, err := scanPrincipal(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repositories.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get principal: %w", err)
	}
	return p, nil
}

// CreateIfAbsent inserts a principal unless the id is already taken
func (r *PrincipalRepository) CreateIfAbsent(ctx context.Context, p *models.Principal) (*models.Principal, bool, error) {
	query := `
		INSERT INTO principals (` + principalColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING
	`

	res, err := r.db.ExecContext(ctx, query,
		p.ID,
		p.DisplayName,
		p.AvatarURL,
		p.Email,
		p.Role,
		p.Permissions,
		p.CreatedAt,
		p.UpdatedAt,
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create principal: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("failed to create principal: %w", err)
	}
	if affected == 0 {
		existing, err := r.Get(ctx, p.ID)
		return existing, false, err
	}

	r.logger.Debug("principal created", zap.String("id", p.ID), zap.String("role", string(p.Role)))
	stored := p.Clone()
	if stored.Permissions == nil {
		stored.Permissions = models.Permissions{}
	}
	return stored, true, nil
}

// List retrieves every principal ordered by creation time
func (r *PrincipalRepository) List(ctx context.Context) ([]*models.Principal, error) {
	query := `SELECT ` + principalColumns + ` FROM principals ORDER BY created_at ASC, id ASC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list principals: %w", err)
	}
	defer rows.Close()

	var out []*models.Principal
	for rows.Next() {
		p, err := scanPrincipal(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan principal: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating principals: %w", err)
	}
	return out, nil
}

// UpdateRole overwrites the role under a row lock and returns the previous value
func (r *PrincipalRepository) UpdateRole(ctx context.Context, id string, role models.Role) (models.Role, error) {
	var previous models.Role

	err := inTransaction(ctx, r.db, r.logger, func(tx Executor) error {
		err := tx.QueryRowContext(ctx, `SELECT role FROM principals WHERE id = $1 FOR UPDATE`, id).Scan(&previous)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return repositories.ErrNotFound
			}
			return fmt.Errorf("failed to lock principal: %w", err)
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE principals SET role = $2, updated_at = $3 WHERE id = $1`,
			id, role, r.now(),
		)
		if err != nil {
			return fmt.Errorf("failed to update role: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	r.logger.Debug("principal role updated",
		zap.String("id", id),
		zap.String("from", string(previous)),
		zap.String("to", string(role)))
	return previous, nil
}

// SetPermission merges one key into the permissions document. The jsonb
// concatenation leaves every other key as stored.
func (r *PrincipalRepository) SetPermission(ctx context.Context, id, section string, allowed bool) (bool, bool, error) {
	var current sql.NullBool

	err := inTransaction(ctx, r.db, r.logger, func(tx Executor) error {
		err := tx.QueryRowContext(ctx,
			`SELECT (permissions ->> $2)::boolean FROM principals WHERE id = $1 FOR UPDATE`,
			id, section,
		).Scan(&current)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return repositories.ErrNotFound
			}
			return fmt.Errorf("failed to lock principal: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE principals
			SET permissions = permissions || jsonb_build_object($2::text, $3::boolean),
			    updated_at = $4
			WHERE id = $1`,
			id, section, allowed, r.now(),
		)
		if err != nil {
			return fmt.Errorf("failed to set permission: %w", err)
		}
		return nil
	})
	if err != nil {
		return false, false, err
	}

	r.logger.Debug("principal permission set",
		zap.String("id", id),
		zap.String("section", section),
		zap.Bool("allowed", allowed))
	return current.Bool, current.Valid, nil
}

// Ping checks database reachability
func (r *PrincipalRepository) Ping(ctx context.Context) error {
	return r.db.HealthCheck(ctx)
}
