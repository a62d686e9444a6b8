package sqlite

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/pel/esocialize-portal/models"
)

const auditColumns = `id, actor_id, target_id, action, section, before_value, after_value, request_id, ip_address, timestamp`

// AuditRepository implements the repositories.AuditRepository interface
type AuditRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *DB, logger *zap.Logger) *AuditRepository {
	return &AuditRepository{db: db, logger: logger}
}

func jsonParam(raw []byte) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

// Insert inserts a new audit log entry
func (r *AuditRepository) Insert(ctx context.Context, log *models.AuditLog) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO audit_logs (`+auditColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		log.ID, log.ActorID, log.TargetID, log.Action, log.Section,
		jsonParam(log.Before), jsonParam(log.After),
		log.RequestID, log.IPAddress, log.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}
	r.logger.Debug("audit log inserted", zap.String("id", log.ID.String()), zap.String("action", string(log.Action)))
	return nil
}

// ListByTarget retrieves audit logs for a principal with pagination
func (r *AuditRepository) ListByTarget(ctx context.Context, targetID string, limit, offset int) ([]*models.AuditLog, error) {
	return r.query(ctx,
		`SELECT `+auditColumns+` FROM audit_logs WHERE target_id = ? ORDER BY timestamp DESC, rowid DESC LIMIT ? OFFSET ?`,
		targetID, limit, offset)
}

// List retrieves all audit logs with pagination
func (r *AuditRepository) List(ctx context.Context, limit, offset int) ([]*models.AuditLog, error) {
	return r.query(ctx,
		`SELECT `+auditColumns+` FROM audit_logs ORDER BY timestamp DESC, rowid DESC LIMIT ? OFFSET ?`,
		limit, offset)
}

func (r *AuditRepository) query(ctx context.Context, query string, args ...interface{}) ([]*models.AuditLog, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit logs: %w", err)
	}
	defer rows.Close()

	var logs []*models.AuditLog
	for rows.Next() {
		log := &models.AuditLog{}
		var before, after []byte
		if err := rows.Scan(&log.ID, &log.ActorID, &log.TargetID, &log.Action, &log.Section,
			&before, &after, &log.RequestID, &log.IPAddress, &log.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}
		log.Before = before
		log.After = after
		logs = append(logs, log)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit logs: %w", err)
	}
	return logs, nil
}
