package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/pel/esocialize-portal/models"
	"github.com/pel/esocialize-portal/repositories"
)

const principalColumns = `id, display_name, avatar_url, email, role, permissions, created_at, updated_at`

// permissionPath builds a JSON path for one top-level key.
const permissionPath = `'$."' || ? || '"'`

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
	if err := row.Scan(&p.ID, &p.DisplayName, &p.AvatarURL, &p.Email, &p.Role, &p.Permissions, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	return p, nil
}

// Get retrieves a principal by ID
func (r *PrincipalRepository) Get(ctx context.Context, id string) (*models.Principal, error) {
	p, err := scanPrincipal(r.db.QueryRowContext(ctx,
		`SELECT `+principalColumns+` FROM principals WHERE id = ?`, id))
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
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO principals (`+principalColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`,
		p.ID, p.DisplayName, p.AvatarURL, p.Email, p.Role, p.Permissions, p.CreatedAt, p.UpdatedAt,
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

	r.logger.Debug("principal created", zap.String("id", p.ID))
	stored := p.Clone()
	if stored.Permissions == nil {
		stored.Permissions = models.Permissions{}
	}
	return stored, true, nil
}

// List retrieves every principal ordered by creation time
func (r *PrincipalRepository) List(ctx context.Context) ([]*models.Principal, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+principalColumns+` FROM principals ORDER BY created_at ASC, id ASC`)
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

// UpdateRole overwrites the role and returns the previous value
func (r *PrincipalRepository) UpdateRole(ctx context.Context, id string, role models.Role) (models.Role, error) {
	var previous models.Role
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx, `SELECT role FROM principals WHERE id = ?`, id).Scan(&previous); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return repositories.ErrNotFound
			}
			return fmt.Errorf("failed to read role: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE principals SET role = ?, updated_at = ? WHERE id = ?`, role, r.now(), id); err != nil {
			return fmt.Errorf("failed to update role: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	r.logger.Debug("principal role updated", zap.String("id", id), zap.String("to", string(role)))
	return previous, nil
}

// SetPermission merges one key into the permissions document with json_set
func (r *PrincipalRepository) SetPermission(ctx context.Context, id, section string, allowed bool) (bool, bool, error) {
	var current sql.NullBool
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx,
			`SELECT json_extract(permissions, `+permissionPath+`) FROM principals WHERE id = ?`,
			section, id,
		).Scan(&current)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return repositories.ErrNotFound
			}
			return fmt.Errorf("failed to read permission: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE principals
			SET permissions = json_set(permissions, `+permissionPath+`, json(?)),
			    updated_at = ?
			WHERE id = ?`,
			section, strconv.FormatBool(allowed), r.now(), id,
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

// Ping checks the database file is reachable
func (r *PrincipalRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *PrincipalRepository) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
