package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/formwave/metaform-api/internal/models"
	"github.com/formwave/metaform-api/internal/repository"
	appErrors "github.com/formwave/metaform-api/pkg/errors"
)

type resolverValueStore interface {
	GetValue(ctx context.Context, ext sqlx.ExtContext, replyID, name string) (*models.FieldValue, error)
	ListValues(ctx context.Context, ext sqlx.ExtContext, replyID string) ([]repository.NamedValue, error)
}

// FieldResolver maps form-field definitions to storage kinds, reads and
// writes field values generically across kinds and parses query filter
// strings into typed predicates.
type FieldResolver struct {
	store  resolverValueStore
	logger *zap.Logger
}

// NewFieldResolver constructs a resolver.
func NewFieldResolver(store resolverValueStore, logger *zap.Logger) *FieldResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FieldResolver{store: store, logger: logger}
}

// FieldType returns the declared storage kind of a named field.
func (r *FieldResolver) FieldType(form *models.Metaform, name string) (models.FieldKind, bool) {
	field, ok := form.Field(name)
	if !ok {
		return "", false
	}
	return field.Kind, true
}

// IsMetaField reports whether the field derives its value from the reply
// record instead of storage.
func (r *FieldResolver) IsMetaField(form *models.Metaform, name string) bool {
	kind, ok := r.FieldType(form, name)
	return ok && kind.IsMeta()
}

// ResolveValue answers "what value does field name have in reply". Meta
// fields come straight off the reply record; everything else reads the
// stored typed value flattened into its generic representation.
func (r *FieldResolver) ResolveValue(ctx context.Context, ext sqlx.ExtContext, form *models.Metaform, reply *models.Reply, name string) (any, error) {
	if kind, ok := r.FieldType(form, name); ok && kind.IsMeta() {
		switch kind {
		case models.FieldKindCreated:
			return reply.CreatedAt, nil
		case models.FieldKindModified:
			return reply.ModifiedAt, nil
		case models.FieldKindLastModifier:
			if reply.LastModifierID == nil {
				return nil, nil
			}
			return *reply.LastModifierID, nil
		}
	}
	value, err := r.store.GetValue(ctx, ext, reply.ID, name)
	if err != nil {
		return nil, err
	}
	if value == nil {
		return nil, nil
	}
	return value.Generic(), nil
}

// ResolveAll returns every resolved (name, value) pair of a reply, stored
// fields first, then any meta fields the form declares.
func (r *FieldResolver) ResolveAll(ctx context.Context, ext sqlx.ExtContext, form *models.Metaform, reply *models.Reply) (map[string]any, error) {
	stored, err := r.store.ListValues(ctx, ext, reply.ID)
	if err != nil {
		return nil, err
	}
	resolved := make(map[string]any, len(stored))
	for _, pair := range stored {
		resolved[pair.Name] = pair.Value.Generic()
	}
	for _, field := range form.Fields {
		if !field.Kind.IsMeta() {
			continue
		}
		value, err := r.ResolveValue(ctx, ext, form, reply, field.Name)
		if err != nil {
			return nil, err
		}
		resolved[field.Name] = value
	}
	return resolved, nil
}

// CoerceValue validates a submitted raw value against the field's declared
// storage kind and produces the typed union. Unsupported shapes reject the
// whole mutation with an invalid-field-value error.
func (r *FieldResolver) CoerceValue(field models.MetaformField, raw any) (models.FieldValue, error) {
	switch field.Kind {
	case models.FieldKindString:
		s, ok := raw.(string)
		if !ok {
			return models.FieldValue{}, invalidValue(field.Name, "expected a string")
		}
		return models.StringValue(s), nil

	case models.FieldKindNumber:
		switch n := raw.(type) {
		case float64:
			return models.NumberValue(n), nil
		case int:
			return models.NumberValue(float64(n)), nil
		case string:
			parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
			if err != nil {
				return models.FieldValue{}, invalidValue(field.Name, "expected a number")
			}
			return models.NumberValue(parsed), nil
		default:
			return models.FieldValue{}, invalidValue(field.Name, "expected a number")
		}

	case models.FieldKindBoolean:
		switch b := raw.(type) {
		case bool:
			return models.BooleanValue(b), nil
		case string:
			switch strings.ToLower(strings.TrimSpace(b)) {
			case "true":
				return models.BooleanValue(true), nil
			case "false":
				return models.BooleanValue(false), nil
			}
		}
		return models.FieldValue{}, invalidValue(field.Name, "expected a boolean")

	case models.FieldKindList:
		items, err := coerceStringSlice(raw)
		if err != nil {
			return models.FieldValue{}, invalidValue(field.Name, "expected a list of strings")
		}
		return models.ListValue(items), nil

	case models.FieldKindFiles:
		refs, err := coerceFileRefs(raw)
		if err != nil {
			return models.FieldValue{}, invalidValue(field.Name, "expected a list of file references")
		}
		return models.FilesValue(refs), nil

	case models.FieldKindTable:
		rows, err := coerceTableRows(field, raw)
		if err != nil {
			return models.FieldValue{}, err
		}
		return models.TableValue(rows), nil
	}

	return models.FieldValue{}, invalidValue(field.Name, fmt.Sprintf("kind %q is not writable", field.Kind))
}

// ParseFilters turns raw filter strings into typed predicates. Within one
// string, comma-separated filters AND-combine; multiple strings AND-combine
// too. Filters on fields without a comparable storage representation are
// dropped, not errored.
func (r *FieldResolver) ParseFilters(form *models.Metaform, raw []string) []models.FieldFilter {
	var filters []models.FieldFilter
	for _, arg := range raw {
		for _, token := range strings.Split(arg, ",") {
			token = strings.TrimSpace(token)
			if token == "" {
				continue
			}
			filter, ok := r.parseFilterToken(form, token)
			if ok {
				filters = append(filters, filter)
			}
		}
	}
	return filters
}

func (r *FieldResolver) parseFilterToken(form *models.Metaform, token string) (models.FieldFilter, bool) {
	op := models.FilterOpEquals
	sep := strings.IndexAny(token, ":^")
	if sep <= 0 {
		r.logger.Warn("filter token missing operator, dropping", zap.String("token", token))
		return models.FieldFilter{}, false
	}
	if token[sep] == '^' {
		op = models.FilterOpNotEquals
	}
	name := token[:sep]
	operand := token[sep+1:]

	kind, ok := r.FieldType(form, name)
	if !ok {
		r.logger.Warn("filter on unknown field, dropping", zap.String("field", name))
		return models.FieldFilter{}, false
	}

	filter := models.FieldFilter{Name: name, Kind: kind, Op: op}
	switch kind {
	case models.FieldKindString, models.FieldKindList:
		filter.String = &operand
	case models.FieldKindNumber:
		parsed, err := strconv.ParseFloat(operand, 64)
		if err != nil {
			r.logger.Warn("unparseable number filter, dropping",
				zap.String("field", name), zap.String("value", operand))
			return models.FieldFilter{}, false
		}
		filter.Number = &parsed
	case models.FieldKindBoolean:
		switch strings.ToLower(operand) {
		case "true":
			b := true
			filter.Boolean = &b
		case "false":
			b := false
			filter.Boolean = &b
		default:
			r.logger.Warn("unparseable boolean filter, dropping",
				zap.String("field", name), zap.String("value", operand))
			return models.FieldFilter{}, false
		}
	default:
		// files, tables and meta fields have no comparable representation.
		return models.FieldFilter{}, false
	}
	return filter, true
}

func invalidValue(field, reason string) error {
	return appErrors.Clone(appErrors.ErrInvalidFieldValue, fmt.Sprintf("field %s: %s", field, reason))
}

func coerceStringSlice(raw any) ([]string, error) {
	switch v := raw.(type) {
	case []string:
		return v, nil
	case []any:
		items := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("non-string list entry")
			}
			items = append(items, s)
		}
		return items, nil
	case string:
		if v == "" {
			return nil, nil
		}
		return []string{v}, nil
	case nil:
		return nil, nil
	}
	return nil, fmt.Errorf("unsupported list shape")
}

func coerceFileRefs(raw any) ([]models.AttachmentRef, error) {
	entries, ok := raw.([]any)
	if !ok {
		if raw == nil {
			return nil, nil
		}
		if s, isString := raw.(string); isString {
			if s == "" {
				return nil, nil
			}
			return []models.AttachmentRef{{ID: s}}, nil
		}
		return nil, fmt.Errorf("unsupported files shape")
	}
	refs := make([]models.AttachmentRef, 0, len(entries))
	for _, entry := range entries {
		switch v := entry.(type) {
		case string:
			refs = append(refs, models.AttachmentRef{ID: v})
		case map[string]any:
			id, _ := v["id"].(string)
			if id == "" {
				return nil, fmt.Errorf("file reference without id")
			}
			name, _ := v["name"].(string)
			refs = append(refs, models.AttachmentRef{ID: id, Name: name})
		default:
			return nil, fmt.Errorf("unsupported file reference entry")
		}
	}
	return refs, nil
}

func coerceTableRows(field models.MetaformField, raw any) ([]models.TableRow, error) {
	if raw == nil {
		return nil, nil
	}
	entries, ok := raw.([]any)
	if !ok {
		return nil, invalidValue(field.Name, "expected a list of row objects")
	}
	columnType := make(map[string]string, len(field.Columns))
	for _, column := range field.Columns {
		columnType[column.Name] = column.Type
	}

	rows := make([]models.TableRow, 0, len(entries))
	for index, entry := range entries {
		rowMap, ok := entry.(map[string]any)
		if !ok {
			return nil, invalidValue(field.Name, "table rows must be objects")
		}
		row := models.TableRow{Index: index}
		for _, column := range field.Columns {
			cellRaw, present := rowMap[column.Name]
			if !present || cellRaw == nil {
				continue
			}
			cell := models.TableCell{Name: column.Name}
			switch columnType[column.Name] {
			case "number":
				switch n := cellRaw.(type) {
				case float64:
					cell.Number = &n
				case int:
					f := float64(n)
					cell.Number = &f
				default:
					return nil, invalidValue(field.Name, fmt.Sprintf("column %s expects a number", column.Name))
				}
			default:
				s, ok := cellRaw.(string)
				if !ok {
					return nil, invalidValue(field.Name, fmt.Sprintf("column %s expects text", column.Name))
				}
				cell.Text = &s
			}
			row.Cells = append(row.Cells, cell)
		}
		rows = append(rows, row)
	}
	return rows, nil
}
