package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/formwave/metaform-api/internal/models"
)

// AuditRepository appends immutable audit log entries. Entries are never
// updated; they go away only when their metaform is deleted.
type AuditRepository struct {
	db *sqlx.DB
}

// NewAuditRepository constructs the repository.
func NewAuditRepository(db *sqlx.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Append inserts an audit log entry.
func (r *AuditRepository) Append(ctx context.Context, entry *models.AuditLogEntry) error {
	const query = `INSERT INTO audit_log_entries (id, metaform_id, user_id, reply_id, attachment_id, action, target_type, message, created_at)
VALUES (:id, :metaform_id, :user_id, :reply_id, :attachment_id, :action, :target_type, :message, :created_at)`
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if _, err := r.db.NamedExecContext(ctx, query, entry); err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

// ListByMetaform returns entries for a form, newest first.
func (r *AuditRepository) ListByMetaform(ctx context.Context, metaformID string, limit int) ([]models.AuditLogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	const query = `SELECT id, metaform_id, user_id, reply_id, attachment_id, action, target_type, message, created_at
FROM audit_log_entries WHERE metaform_id = $1 ORDER BY created_at DESC LIMIT $2`
	var entries []models.AuditLogEntry
	if err := r.db.SelectContext(ctx, &entries, query, metaformID, limit); err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	return entries, nil
}

// DeleteByMetaform removes a form's entries; used only by form deletion.
func (r *AuditRepository) DeleteByMetaform(ctx context.Context, ext sqlx.ExtContext, metaformID string) error {
	if _, err := ext.ExecContext(ctx, `DELETE FROM audit_log_entries WHERE metaform_id = $1`, metaformID); err != nil {
		return fmt.Errorf("delete audit entries: %w", err)
	}
	return nil
}
