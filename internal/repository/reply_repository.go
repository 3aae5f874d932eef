package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/formwave/metaform-api/internal/models"
)

// ReplyRepository persists reply records.
type ReplyRepository struct {
	db *sqlx.DB
}

// NewReplyRepository constructs the repository.
func NewReplyRepository(db *sqlx.DB) *ReplyRepository {
	return &ReplyRepository{db: db}
}

// InTx runs fn inside a transaction, committing on success and rolling back
// on error. The whole reply mutation pipeline runs through here so field
// writes and reply updates land atomically.
func (r *ReplyRepository) InTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin reply tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit reply tx: %w", err)
	}
	return nil
}

const replyColumns = `id, metaform_id, owner_id, resource_id, owner_key, revision,
created_at, modified_at, first_viewed_at, last_viewed_at, last_modifier_id`

// Create inserts a reply.
func (r *ReplyRepository) Create(ctx context.Context, ext sqlx.ExtContext, reply *models.Reply) error {
	const query = `INSERT INTO replies (id, metaform_id, owner_id, resource_id, owner_key, revision,
created_at, modified_at, first_viewed_at, last_viewed_at, last_modifier_id)
VALUES (:id, :metaform_id, :owner_id, :resource_id, :owner_key, :revision,
:created_at, :modified_at, :first_viewed_at, :last_viewed_at, :last_modifier_id)`
	now := time.Now().UTC()
	if reply.CreatedAt.IsZero() {
		reply.CreatedAt = now
	}
	if reply.ModifiedAt.IsZero() {
		reply.ModifiedAt = now
	}
	if _, err := sqlx.NamedExecContext(ctx, ext, query, reply); err != nil {
		return fmt.Errorf("create reply: %w", err)
	}
	return nil
}

// FindByID fetches a reply; nil when absent.
func (r *ReplyRepository) FindByID(ctx context.Context, ext sqlx.ExtContext, id string) (*models.Reply, error) {
	var reply models.Reply
	query := fmt.Sprintf(`SELECT %s FROM replies WHERE id = $1`, replyColumns)
	if err := sqlx.GetContext(ctx, ext, &reply, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("find reply: %w", err)
	}
	return &reply, nil
}

// FindActive returns the submitter's reply with revision IS NULL for the
// form, or nil. At most one such reply exists unless the form is cumulative.
func (r *ReplyRepository) FindActive(ctx context.Context, ext sqlx.ExtContext, metaformID, ownerID string) (*models.Reply, error) {
	var reply models.Reply
	query := fmt.Sprintf(`SELECT %s FROM replies
WHERE metaform_id = $1 AND owner_id = $2 AND revision IS NULL
ORDER BY created_at DESC LIMIT 1`, replyColumns)
	if err := sqlx.GetContext(ctx, ext, &reply, query, metaformID, ownerID); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("find active reply: %w", err)
	}
	return &reply, nil
}

// Touch updates the modification timestamp and last modifier.
func (r *ReplyRepository) Touch(ctx context.Context, ext sqlx.ExtContext, id string, modifierID *string) error {
	const query = `UPDATE replies SET modified_at = $2, last_modifier_id = $3 WHERE id = $1`
	if _, err := ext.ExecContext(ctx, query, id, time.Now().UTC(), modifierID); err != nil {
		return fmt.Errorf("touch reply: %w", err)
	}
	return nil
}

// SetResourceID persists the protected-resource reference on the reply.
func (r *ReplyRepository) SetResourceID(ctx context.Context, ext sqlx.ExtContext, id, resourceID string) error {
	if _, err := ext.ExecContext(ctx, `UPDATE replies SET resource_id = $2 WHERE id = $1`, id, resourceID); err != nil {
		return fmt.Errorf("set reply resource: %w", err)
	}
	return nil
}

// MarkRevision stamps the reply as superseded.
func (r *ReplyRepository) MarkRevision(ctx context.Context, ext sqlx.ExtContext, id string, at time.Time) error {
	if _, err := ext.ExecContext(ctx, `UPDATE replies SET revision = $2 WHERE id = $1`, id, at.UTC()); err != nil {
		return fmt.Errorf("mark reply revision: %w", err)
	}
	return nil
}

// StampViewed records a view: first view is set once, last view always.
func (r *ReplyRepository) StampViewed(ctx context.Context, ext sqlx.ExtContext, id string, at time.Time) error {
	const query = `UPDATE replies
SET first_viewed_at = COALESCE(first_viewed_at, $2), last_viewed_at = $2
WHERE id = $1`
	if _, err := ext.ExecContext(ctx, query, id, at.UTC()); err != nil {
		return fmt.Errorf("stamp reply viewed: %w", err)
	}
	return nil
}

// Delete removes the reply row. Field values are deleted separately so
// attachment cleanup runs through the field value store.
func (r *ReplyRepository) Delete(ctx context.Context, ext sqlx.ExtContext, id string) error {
	if _, err := ext.ExecContext(ctx, `DELETE FROM replies WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete reply: %w", err)
	}
	return nil
}

// ListIDsByMetaform returns every reply id of a form, revisions included.
func (r *ReplyRepository) ListIDsByMetaform(ctx context.Context, ext sqlx.ExtContext, metaformID string) ([]string, error) {
	var ids []string
	if err := sqlx.SelectContext(ctx, ext, &ids, `SELECT id FROM replies WHERE metaform_id = $1`, metaformID); err != nil {
		return nil, fmt.Errorf("list reply ids: %w", err)
	}
	return ids, nil
}

// List returns replies matching the filter plus the total count. Field
// filters become EXISTS predicates over reply_fields, AND-combined.
func (r *ReplyRepository) List(ctx context.Context, ext sqlx.ExtContext, filter models.ReplyFilter) ([]models.Reply, int, error) {
	where := []string{"metaform_id = $1"}
	args := []interface{}{filter.MetaformID}

	if filter.OwnerID != nil {
		args = append(args, *filter.OwnerID)
		where = append(where, fmt.Sprintf("owner_id = $%d", len(args)))
	}
	if filter.ActiveOnly {
		where = append(where, "revision IS NULL")
	}
	if filter.CreatedFrom != nil {
		args = append(args, filter.CreatedFrom.UTC())
		where = append(where, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if filter.CreatedTo != nil {
		args = append(args, filter.CreatedTo.UTC())
		where = append(where, fmt.Sprintf("created_at <= $%d", len(args)))
	}

	for _, field := range filter.Fields {
		predicate, newArgs, err := fieldPredicate(field, args)
		if err != nil {
			return nil, 0, err
		}
		args = newArgs
		where = append(where, predicate)
	}

	clause := strings.Join(where, " AND ")

	var total int
	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM replies WHERE %s`, clause)
	if err := sqlx.GetContext(ctx, ext, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count replies: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM replies WHERE %s ORDER BY created_at ASC`, replyColumns, clause)
	if filter.PageSize > 0 {
		page := filter.Page
		if page < 1 {
			page = 1
		}
		args = append(args, filter.PageSize)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
		args = append(args, (page-1)*filter.PageSize)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	var replies []models.Reply
	if err := sqlx.SelectContext(ctx, ext, &replies, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list replies: %w", err)
	}
	return replies, total, nil
}

// fieldPredicate builds one EXISTS predicate over reply_fields for a typed
// field filter. Not-equals means "no stored value equal to the operand",
// which also matches replies missing the field.
func fieldPredicate(field models.FieldFilter, args []interface{}) (string, []interface{}, error) {
	args = append(args, field.Name)
	nameArg := len(args)

	var comparison string
	switch {
	case field.String != nil && field.Kind == models.FieldKindList:
		args = append(args, *field.String)
		comparison = fmt.Sprintf("$%d = ANY(f.list_value)", len(args))
	case field.String != nil:
		args = append(args, *field.String)
		comparison = fmt.Sprintf("f.string_value = $%d", len(args))
	case field.Number != nil:
		args = append(args, *field.Number)
		comparison = fmt.Sprintf("f.number_value = $%d", len(args))
	case field.Boolean != nil:
		args = append(args, *field.Boolean)
		comparison = fmt.Sprintf("f.boolean_value = $%d", len(args))
	default:
		return "", nil, fmt.Errorf("field filter %s carries no operand", field.Name)
	}

	exists := fmt.Sprintf(
		"EXISTS (SELECT 1 FROM reply_fields f WHERE f.reply_id = replies.id AND f.name = $%d AND %s)",
		nameArg, comparison)
	if field.Op == models.FilterOpNotEquals {
		return "NOT " + exists, args, nil
	}
	return exists, args, nil
}
