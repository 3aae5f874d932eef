package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/formwave/metaform-api/internal/models"
)

// AttachmentRepository persists durable uploaded files referenced by files
// fields.
type AttachmentRepository struct {
	db *sqlx.DB
}

// NewAttachmentRepository constructs the repository.
func NewAttachmentRepository(db *sqlx.DB) *AttachmentRepository {
	return &AttachmentRepository{db: db}
}

// DB exposes the underlying handle for callers that open transactions.
func (r *AttachmentRepository) DB() *sqlx.DB {
	return r.db
}

// FindByID fetches an attachment; nil when absent.
func (r *AttachmentRepository) FindByID(ctx context.Context, ext sqlx.ExtContext, id string) (*models.Attachment, error) {
	const query = `SELECT id, name, content_type, size_bytes, storage_path, created_at
FROM attachments WHERE id = $1`
	var attachment models.Attachment
	if err := sqlx.GetContext(ctx, ext, &attachment, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("find attachment: %w", err)
	}
	return &attachment, nil
}

// Create inserts an attachment row.
func (r *AttachmentRepository) Create(ctx context.Context, ext sqlx.ExtContext, attachment *models.Attachment) error {
	const query = `INSERT INTO attachments (id, name, content_type, size_bytes, storage_path, created_at)
VALUES (:id, :name, :content_type, :size_bytes, :storage_path, :created_at)`
	if attachment.CreatedAt.IsZero() {
		attachment.CreatedAt = time.Now().UTC()
	}
	if _, err := sqlx.NamedExecContext(ctx, ext, query, attachment); err != nil {
		return fmt.Errorf("create attachment: %w", err)
	}
	return nil
}

// Delete removes an attachment row.
func (r *AttachmentRepository) Delete(ctx context.Context, ext sqlx.ExtContext, id string) error {
	if _, err := ext.ExecContext(ctx, `DELETE FROM attachments WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete attachment: %w", err)
	}
	return nil
}
