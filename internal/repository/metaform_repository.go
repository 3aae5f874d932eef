package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/formwave/metaform-api/internal/models"
)

// MetaformRepository persists form definitions. Field definitions live in a
// JSONB column and are decoded on read.
type MetaformRepository struct {
	db *sqlx.DB
}

// NewMetaformRepository constructs the repository.
func NewMetaformRepository(db *sqlx.DB) *MetaformRepository {
	return &MetaformRepository{db: db}
}

const metaformColumns = `id, slug, title, allow_anonymous, reply_mode, fields, created_at, updated_at`

// FindByID fetches a form with decoded fields; nil when absent.
func (r *MetaformRepository) FindByID(ctx context.Context, id string) (*models.Metaform, error) {
	query := fmt.Sprintf(`SELECT %s FROM metaforms WHERE id = $1`, metaformColumns)
	var form models.Metaform
	if err := r.db.GetContext(ctx, &form, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("find metaform: %w", err)
	}
	if err := form.DecodeFields(); err != nil {
		return nil, fmt.Errorf("decode metaform fields: %w", err)
	}
	return &form, nil
}

// FindBySlug fetches a form by its slug; nil when absent.
func (r *MetaformRepository) FindBySlug(ctx context.Context, slug string) (*models.Metaform, error) {
	query := fmt.Sprintf(`SELECT %s FROM metaforms WHERE slug = $1`, metaformColumns)
	var form models.Metaform
	if err := r.db.GetContext(ctx, &form, query, slug); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("find metaform by slug: %w", err)
	}
	if err := form.DecodeFields(); err != nil {
		return nil, fmt.Errorf("decode metaform fields: %w", err)
	}
	return &form, nil
}

// List returns every form, slug order.
func (r *MetaformRepository) List(ctx context.Context) ([]models.Metaform, error) {
	query := fmt.Sprintf(`SELECT %s FROM metaforms ORDER BY slug ASC`, metaformColumns)
	var forms []models.Metaform
	if err := r.db.SelectContext(ctx, &forms, query); err != nil {
		return nil, fmt.Errorf("list metaforms: %w", err)
	}
	for i := range forms {
		if err := forms[i].DecodeFields(); err != nil {
			return nil, fmt.Errorf("decode metaform fields: %w", err)
		}
	}
	return forms, nil
}

// Create inserts a form definition.
func (r *MetaformRepository) Create(ctx context.Context, form *models.Metaform) error {
	if err := form.EncodeFields(); err != nil {
		return fmt.Errorf("encode metaform fields: %w", err)
	}
	now := time.Now().UTC()
	form.CreatedAt = now
	form.UpdatedAt = now
	const query = `INSERT INTO metaforms (id, slug, title, allow_anonymous, reply_mode, fields, created_at, updated_at)
VALUES (:id, :slug, :title, :allow_anonymous, :reply_mode, :fields, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, form); err != nil {
		return fmt.Errorf("create metaform: %w", err)
	}
	return nil
}

// Update rewrites a form definition.
func (r *MetaformRepository) Update(ctx context.Context, form *models.Metaform) error {
	if err := form.EncodeFields(); err != nil {
		return fmt.Errorf("encode metaform fields: %w", err)
	}
	form.UpdatedAt = time.Now().UTC()
	const query = `UPDATE metaforms
SET slug = :slug, title = :title, allow_anonymous = :allow_anonymous, reply_mode = :reply_mode,
    fields = :fields, updated_at = :updated_at
WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, form); err != nil {
		return fmt.Errorf("update metaform: %w", err)
	}
	return nil
}

// Delete removes a form definition.
func (r *MetaformRepository) Delete(ctx context.Context, ext sqlx.ExtContext, id string) error {
	if _, err := ext.ExecContext(ctx, `DELETE FROM metaforms WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete metaform: %w", err)
	}
	return nil
}
