package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/formwave/metaform-api/internal/models"
	appErrors "github.com/formwave/metaform-api/pkg/errors"
)

// AttachmentPromoter resolves a file reference that has no durable
// attachment yet, typically by promoting a previously-uploaded temporary
// file into the attachment store.
type AttachmentPromoter interface {
	Promote(ctx context.Context, ext sqlx.ExtContext, ref models.AttachmentRef) (*models.Attachment, error)
}

// FieldValueRepository persists one typed record per (reply, field name).
//
// Kind-specific behaviour (table row replacement, attachment link
// reconciliation) is dispatched through a lookup table keyed by storage
// kind, populated once at package init.
type FieldValueRepository struct {
	db          *sqlx.DB
	attachments *AttachmentRepository
	promoter    AttachmentPromoter
}

// NewFieldValueRepository constructs the repository. promoter may be nil,
// in which case unresolved file references are rejected.
func NewFieldValueRepository(db *sqlx.DB, attachments *AttachmentRepository, promoter AttachmentPromoter) *FieldValueRepository {
	return &FieldValueRepository{db: db, attachments: attachments, promoter: promoter}
}

// SetPromoter wires the attachment promoter after construction; used to
// break the construction cycle with the attachment service.
func (r *FieldValueRepository) SetPromoter(promoter AttachmentPromoter) {
	r.promoter = promoter
}

type fieldRecord struct {
	ID           string           `db:"id"`
	ReplyID      string           `db:"reply_id"`
	Name         string           `db:"name"`
	Kind         models.FieldKind `db:"kind"`
	StringValue  sql.NullString   `db:"string_value"`
	NumberValue  sql.NullFloat64  `db:"number_value"`
	BooleanValue sql.NullBool     `db:"boolean_value"`
	ListValue    pq.StringArray   `db:"list_value"`
}

// fieldKindOps bundles the kind-specific pieces of a storage kind. A nil
// member means the default behaviour applies.
type fieldKindOps struct {
	// isEmpty reports whether the write should delete the field instead of
	// storing an empty value.
	isEmpty func(value models.FieldValue) bool
	// storeChildren reconciles dependent records after the parent row exists.
	storeChildren func(r *FieldValueRepository, ctx context.Context, ext sqlx.ExtContext, fieldID string, value models.FieldValue) error
	// loadChildren fills the value's dependent records on read.
	loadChildren func(r *FieldValueRepository, ctx context.Context, ext sqlx.ExtContext, fieldID string, value *models.FieldValue) error
	// clearChildren removes dependent records before the parent row goes away.
	clearChildren func(r *FieldValueRepository, ctx context.Context, ext sqlx.ExtContext, fieldID string) error
}

var kindOps map[models.FieldKind]fieldKindOps

func init() {
	kindOps = map[models.FieldKind]fieldKindOps{
		models.FieldKindString:  {},
		models.FieldKindNumber:  {},
		models.FieldKindBoolean: {},
		models.FieldKindList: {
			isEmpty: func(value models.FieldValue) bool { return len(value.List) == 0 },
		},
		models.FieldKindTable: {
			isEmpty:       func(value models.FieldValue) bool { return len(value.Table) == 0 },
			storeChildren: (*FieldValueRepository).storeTableRows,
			loadChildren:  (*FieldValueRepository).loadTableRows,
			clearChildren: (*FieldValueRepository).clearTableRows,
		},
		models.FieldKindFiles: {
			isEmpty:       func(value models.FieldValue) bool { return len(value.Files) == 0 },
			storeChildren: (*FieldValueRepository).reconcileFileLinks,
			loadChildren:  (*FieldValueRepository).loadFileLinks,
			clearChildren: (*FieldValueRepository).clearFileLinks,
		},
	}
}

// SetValue creates or updates the typed record for (reply, field name).
// A value whose previous record has a different kind deletes the old record
// and its dependents first, so no orphaned child rows survive a kind change.
func (r *FieldValueRepository) SetValue(ctx context.Context, ext sqlx.ExtContext, replyID, name string, value models.FieldValue) error {
	ops, ok := kindOps[value.Kind]
	if !ok {
		return appErrors.Clone(appErrors.ErrInvalidFieldValue, fmt.Sprintf("unsupported storage kind %q for field %s", value.Kind, name))
	}

	existing, err := r.findRecord(ctx, ext, replyID, name)
	if err != nil {
		return err
	}

	if existing != nil && existing.Kind != value.Kind {
		if err := r.deleteRecord(ctx, ext, existing); err != nil {
			return err
		}
		existing = nil
	}

	if ops.isEmpty != nil && ops.isEmpty(value) {
		if existing != nil {
			return r.deleteRecord(ctx, ext, existing)
		}
		return nil
	}

	rec := fieldRecord{ReplyID: replyID, Name: name, Kind: value.Kind}
	if value.String != nil {
		rec.StringValue = sql.NullString{String: *value.String, Valid: true}
	}
	if value.Number != nil {
		rec.NumberValue = sql.NullFloat64{Float64: *value.Number, Valid: true}
	}
	if value.Boolean != nil {
		rec.BooleanValue = sql.NullBool{Bool: *value.Boolean, Valid: true}
	}
	if value.Kind == models.FieldKindList {
		rec.ListValue = pq.StringArray(value.List)
	}

	if existing == nil {
		rec.ID = uuid.NewString()
		const query = `INSERT INTO reply_fields (id, reply_id, name, kind, string_value, number_value, boolean_value, list_value)
VALUES (:id, :reply_id, :name, :kind, :string_value, :number_value, :boolean_value, :list_value)`
		if _, err := sqlx.NamedExecContext(ctx, ext, query, rec); err != nil {
			return fmt.Errorf("insert field value: %w", err)
		}
	} else {
		rec.ID = existing.ID
		const query = `UPDATE reply_fields
SET string_value = :string_value, number_value = :number_value, boolean_value = :boolean_value, list_value = :list_value
WHERE id = :id`
		if _, err := sqlx.NamedExecContext(ctx, ext, query, rec); err != nil {
			return fmt.Errorf("update field value: %w", err)
		}
	}

	if ops.storeChildren != nil {
		if err := ops.storeChildren(r, ctx, ext, rec.ID, value); err != nil {
			return err
		}
	}
	return nil
}

// GetValue reads the typed value stored for (reply, field name); nil when no
// record exists.
func (r *FieldValueRepository) GetValue(ctx context.Context, ext sqlx.ExtContext, replyID, name string) (*models.FieldValue, error) {
	rec, err := r.findRecord(ctx, ext, replyID, name)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}
	return r.recordToValue(ctx, ext, rec)
}

// DeleteValue removes the record and its dependents; a missing record is a
// no-op.
func (r *FieldValueRepository) DeleteValue(ctx context.Context, ext sqlx.ExtContext, replyID, name string) error {
	rec, err := r.findRecord(ctx, ext, replyID, name)
	if err != nil {
		return err
	}
	if rec == nil {
		return nil
	}
	return r.deleteRecord(ctx, ext, rec)
}

// ListNames returns the stored field names of a reply in name order.
func (r *FieldValueRepository) ListNames(ctx context.Context, ext sqlx.ExtContext, replyID string) ([]string, error) {
	var names []string
	if err := sqlx.SelectContext(ctx, ext, &names, `SELECT name FROM reply_fields WHERE reply_id = $1 ORDER BY name ASC`, replyID); err != nil {
		return nil, fmt.Errorf("list field names: %w", err)
	}
	return names, nil
}

// NamedValue pairs a field name with its stored value.
type NamedValue struct {
	Name  string
	Value models.FieldValue
}

// ListValues returns every stored (name, value) pair of a reply in name
// order.
func (r *FieldValueRepository) ListValues(ctx context.Context, ext sqlx.ExtContext, replyID string) ([]NamedValue, error) {
	var records []fieldRecord
	const query = `SELECT id, reply_id, name, kind, string_value, number_value, boolean_value, list_value
FROM reply_fields WHERE reply_id = $1 ORDER BY name ASC`
	if err := sqlx.SelectContext(ctx, ext, &records, query, replyID); err != nil {
		return nil, fmt.Errorf("list field values: %w", err)
	}
	values := make([]NamedValue, 0, len(records))
	for i := range records {
		value, err := r.recordToValue(ctx, ext, &records[i])
		if err != nil {
			return nil, err
		}
		values = append(values, NamedValue{Name: records[i].Name, Value: *value})
	}
	return values, nil
}

// DeleteAllValues removes every field record of a reply, including dependent
// rows, cells and attachment links.
func (r *FieldValueRepository) DeleteAllValues(ctx context.Context, ext sqlx.ExtContext, replyID string) error {
	var records []fieldRecord
	const query = `SELECT id, reply_id, name, kind, string_value, number_value, boolean_value, list_value
FROM reply_fields WHERE reply_id = $1`
	if err := sqlx.SelectContext(ctx, ext, &records, query, replyID); err != nil {
		return fmt.Errorf("list field values for delete: %w", err)
	}
	for i := range records {
		if err := r.deleteRecord(ctx, ext, &records[i]); err != nil {
			return err
		}
	}
	return nil
}

func (r *FieldValueRepository) findRecord(ctx context.Context, ext sqlx.ExtContext, replyID, name string) (*fieldRecord, error) {
	const query = `SELECT id, reply_id, name, kind, string_value, number_value, boolean_value, list_value
FROM reply_fields WHERE reply_id = $1 AND name = $2`
	var rec fieldRecord
	if err := sqlx.GetContext(ctx, ext, &rec, query, replyID, name); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("find field value: %w", err)
	}
	return &rec, nil
}

func (r *FieldValueRepository) recordToValue(ctx context.Context, ext sqlx.ExtContext, rec *fieldRecord) (*models.FieldValue, error) {
	value := models.FieldValue{Kind: rec.Kind}
	if rec.StringValue.Valid {
		s := rec.StringValue.String
		value.String = &s
	}
	if rec.NumberValue.Valid {
		n := rec.NumberValue.Float64
		value.Number = &n
	}
	if rec.BooleanValue.Valid {
		b := rec.BooleanValue.Bool
		value.Boolean = &b
	}
	if rec.Kind == models.FieldKindList {
		value.List = []string(rec.ListValue)
	}
	if ops, ok := kindOps[rec.Kind]; ok && ops.loadChildren != nil {
		if err := ops.loadChildren(r, ctx, ext, rec.ID, &value); err != nil {
			return nil, err
		}
	}
	return &value, nil
}

func (r *FieldValueRepository) deleteRecord(ctx context.Context, ext sqlx.ExtContext, rec *fieldRecord) error {
	if ops, ok := kindOps[rec.Kind]; ok && ops.clearChildren != nil {
		if err := ops.clearChildren(r, ctx, ext, rec.ID); err != nil {
			return err
		}
	}
	if _, err := ext.ExecContext(ctx, `DELETE FROM reply_fields WHERE id = $1`, rec.ID); err != nil {
		return fmt.Errorf("delete field value: %w", err)
	}
	return nil
}

// storeTableRows replaces all rows of a table field atomically: existing
// rows and cells are dropped and one row is created per supplied row map.
// Cells whose value is null or a blank string are skipped.
func (r *FieldValueRepository) storeTableRows(ctx context.Context, ext sqlx.ExtContext, fieldID string, value models.FieldValue) error {
	if err := r.clearTableRows(ctx, ext, fieldID); err != nil {
		return err
	}
	for index, row := range value.Table {
		rowID := uuid.NewString()
		if _, err := ext.ExecContext(ctx,
			`INSERT INTO reply_table_rows (id, field_id, row_index) VALUES ($1, $2, $3)`,
			rowID, fieldID, index); err != nil {
			return fmt.Errorf("insert table row: %w", err)
		}
		for _, cell := range row.Cells {
			if cell.Text == nil && cell.Number == nil {
				continue
			}
			if cell.Text != nil && strings.TrimSpace(*cell.Text) == "" {
				continue
			}
			var text sql.NullString
			var number sql.NullFloat64
			if cell.Text != nil {
				text = sql.NullString{String: *cell.Text, Valid: true}
			}
			if cell.Number != nil {
				number = sql.NullFloat64{Float64: *cell.Number, Valid: true}
			}
			if _, err := ext.ExecContext(ctx,
				`INSERT INTO reply_table_cells (row_id, name, text_value, number_value) VALUES ($1, $2, $3, $4)`,
				rowID, cell.Name, text, number); err != nil {
				return fmt.Errorf("insert table cell: %w", err)
			}
		}
	}
	return nil
}

type tableCellRecord struct {
	RowID       string          `db:"row_id"`
	RowIndex    int             `db:"row_index"`
	Name        string          `db:"name"`
	TextValue   sql.NullString  `db:"text_value"`
	NumberValue sql.NullFloat64 `db:"number_value"`
}

func (r *FieldValueRepository) loadTableRows(ctx context.Context, ext sqlx.ExtContext, fieldID string, value *models.FieldValue) error {
	var rowIDs []struct {
		ID       string `db:"id"`
		RowIndex int    `db:"row_index"`
	}
	if err := sqlx.SelectContext(ctx, ext, &rowIDs,
		`SELECT id, row_index FROM reply_table_rows WHERE field_id = $1 ORDER BY row_index ASC`, fieldID); err != nil {
		return fmt.Errorf("list table rows: %w", err)
	}

	var cells []tableCellRecord
	const cellQuery = `SELECT c.row_id, w.row_index, c.name, c.text_value, c.number_value
FROM reply_table_cells c
JOIN reply_table_rows w ON w.id = c.row_id
WHERE w.field_id = $1
ORDER BY w.row_index ASC, c.name ASC`
	if err := sqlx.SelectContext(ctx, ext, &cells, cellQuery, fieldID); err != nil {
		return fmt.Errorf("list table cells: %w", err)
	}

	cellsByRow := make(map[string][]models.TableCell, len(rowIDs))
	for _, cell := range cells {
		entry := models.TableCell{Name: cell.Name}
		if cell.TextValue.Valid {
			text := cell.TextValue.String
			entry.Text = &text
		}
		if cell.NumberValue.Valid {
			number := cell.NumberValue.Float64
			entry.Number = &number
		}
		cellsByRow[cell.RowID] = append(cellsByRow[cell.RowID], entry)
	}

	rows := make([]models.TableRow, 0, len(rowIDs))
	for _, row := range rowIDs {
		rows = append(rows, models.TableRow{Index: row.RowIndex, Cells: cellsByRow[row.ID]})
	}
	value.Table = rows
	return nil
}

func (r *FieldValueRepository) clearTableRows(ctx context.Context, ext sqlx.ExtContext, fieldID string) error {
	if _, err := ext.ExecContext(ctx,
		`DELETE FROM reply_table_cells WHERE row_id IN (SELECT id FROM reply_table_rows WHERE field_id = $1)`, fieldID); err != nil {
		return fmt.Errorf("delete table cells: %w", err)
	}
	if _, err := ext.ExecContext(ctx, `DELETE FROM reply_table_rows WHERE field_id = $1`, fieldID); err != nil {
		return fmt.Errorf("delete table rows: %w", err)
	}
	return nil
}

// reconcileFileLinks diffs the supplied references against the currently
// linked attachments: vanished links are removed and their attachments
// deleted, new references are resolved (promoting temp uploads if needed)
// and linked.
func (r *FieldValueRepository) reconcileFileLinks(ctx context.Context, ext sqlx.ExtContext, fieldID string, value models.FieldValue) error {
	var linked []string
	if err := sqlx.SelectContext(ctx, ext, &linked,
		`SELECT attachment_id FROM reply_field_files WHERE field_id = $1`, fieldID); err != nil {
		return fmt.Errorf("list file links: %w", err)
	}

	desired := make(map[string]models.AttachmentRef, len(value.Files))
	for _, ref := range value.Files {
		desired[ref.ID] = ref
	}

	current := make(map[string]struct{}, len(linked))
	for _, id := range linked {
		current[id] = struct{}{}
		if _, keep := desired[id]; keep {
			continue
		}
		if _, err := ext.ExecContext(ctx,
			`DELETE FROM reply_field_files WHERE field_id = $1 AND attachment_id = $2`, fieldID, id); err != nil {
			return fmt.Errorf("unlink attachment: %w", err)
		}
		if err := r.attachments.Delete(ctx, ext, id); err != nil {
			return err
		}
	}

	for _, ref := range value.Files {
		if _, exists := current[ref.ID]; exists {
			continue
		}
		attachment, err := r.attachments.FindByID(ctx, ext, ref.ID)
		if err != nil {
			return err
		}
		if attachment == nil {
			if r.promoter == nil {
				return appErrors.Clone(appErrors.ErrInvalidFieldValue, fmt.Sprintf("unknown file reference %s", ref.ID))
			}
			if attachment, err = r.promoter.Promote(ctx, ext, ref); err != nil {
				return err
			}
		}
		if _, err := ext.ExecContext(ctx,
			`INSERT INTO reply_field_files (field_id, attachment_id) VALUES ($1, $2)`, fieldID, attachment.ID); err != nil {
			return fmt.Errorf("link attachment: %w", err)
		}
	}
	return nil
}

type fileLinkRecord struct {
	AttachmentID string `db:"attachment_id"`
	Name         string `db:"name"`
}

func (r *FieldValueRepository) loadFileLinks(ctx context.Context, ext sqlx.ExtContext, fieldID string, value *models.FieldValue) error {
	var links []fileLinkRecord
	const query = `SELECT f.attachment_id, a.name
FROM reply_field_files f
JOIN attachments a ON a.id = f.attachment_id
WHERE f.field_id = $1
ORDER BY a.created_at ASC`
	if err := sqlx.SelectContext(ctx, ext, &links, query, fieldID); err != nil {
		return fmt.Errorf("list file links: %w", err)
	}
	refs := make([]models.AttachmentRef, 0, len(links))
	for _, link := range links {
		refs = append(refs, models.AttachmentRef{ID: link.AttachmentID, Name: link.Name})
	}
	value.Files = refs
	return nil
}

func (r *FieldValueRepository) clearFileLinks(ctx context.Context, ext sqlx.ExtContext, fieldID string) error {
	var linked []string
	if err := sqlx.SelectContext(ctx, ext, &linked,
		`SELECT attachment_id FROM reply_field_files WHERE field_id = $1`, fieldID); err != nil {
		return fmt.Errorf("list file links: %w", err)
	}
	if _, err := ext.ExecContext(ctx, `DELETE FROM reply_field_files WHERE field_id = $1`, fieldID); err != nil {
		return fmt.Errorf("delete file links: %w", err)
	}
	for _, id := range linked {
		if err := r.attachments.Delete(ctx, ext, id); err != nil {
			return err
		}
	}
	return nil
}
