package service

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/formwave/metaform-api/internal/dto"
	"github.com/formwave/metaform-api/internal/models"
	appErrors "github.com/formwave/metaform-api/pkg/errors"
	"github.com/formwave/metaform-api/pkg/export"
)

// DatasetRenderer turns a dataset into encoded file content.
type DatasetRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type exportStorage interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
}

type exportSigner interface {
	Generate(fileID, relPath string) (string, time.Time, error)
	Parse(token string, allowExpired bool) (fileID, relPath string, expiresAt time.Time, err error)
}

// ExportService renders replies into downloadable PDF, XLSX or CSV files.
type ExportService struct {
	replies   replyStore
	resolver  *FieldResolver
	renderers map[string]DatasetRenderer
	storage   exportStorage
	signer    exportSigner
	audit     accessRecorder
	db        *sqlx.DB
	logger    *zap.Logger
}

// NewExportService constructs the service with renderers keyed by format.
func NewExportService(
	replies replyStore,
	resolver *FieldResolver,
	renderers map[string]DatasetRenderer,
	store exportStorage,
	signer exportSigner,
	audit accessRecorder,
	db *sqlx.DB,
	logger *zap.Logger,
) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExportService{
		replies:   replies,
		resolver:  resolver,
		renderers: renderers,
		storage:   store,
		signer:    signer,
		audit:     audit,
		db:        db,
		logger:    logger,
	}
}

// ExportReply renders a single reply as a field/value document. Table
// fields become nested sheets.
func (s *ExportService) ExportReply(ctx context.Context, form *models.Metaform, replyID, format string, actor *models.JWTClaims) (*dto.ExportResult, error) {
	renderer, ok := s.renderers[format]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported export format %q", format))
	}

	reply, err := s.replies.FindByID(ctx, s.db, replyID)
	if err != nil {
		return nil, err
	}
	if reply == nil || reply.MetaformID != form.ID {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "reply not found")
	}

	values, err := s.resolver.ResolveAll(ctx, s.db, form, reply)
	if err != nil {
		return nil, err
	}

	data := export.Dataset{
		Title:   form.Title,
		Headers: []string{"Field", "Value"},
	}
	for _, field := range form.Fields {
		raw, present := values[field.Name]
		if !present {
			continue
		}
		if field.Kind == models.FieldKindTable {
			data.Sheets = append(data.Sheets, tableSheet(field, raw))
			continue
		}
		data.Rows = append(data.Rows, map[string]string{
			"Field": fieldLabel(field),
			"Value": flattenCell(raw),
		})
	}

	content, err := renderer.Render(data)
	if err != nil {
		return nil, fmt.Errorf("render reply export: %w", err)
	}

	result, err := s.store(form, reply.ID, format, content)
	if err != nil {
		return nil, err
	}
	s.audit.RecordAccess(ctx, form.ID, actorID(actor), &reply.ID, nil, models.AuditActionExport, models.AuditTargetReply, "")
	return result, nil
}

// ExportReplies renders every active reply of the form into a single grid,
// one row per reply with one column per field.
func (s *ExportService) ExportReplies(ctx context.Context, form *models.Metaform, format string, actor *models.JWTClaims) (*dto.ExportResult, error) {
	renderer, ok := s.renderers[format]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported export format %q", format))
	}

	replies, _, err := s.replies.List(ctx, s.db, models.ReplyFilter{
		MetaformID: form.ID,
		ActiveOnly: true,
		Page:       1,
		PageSize:   10000,
	})
	if err != nil {
		return nil, err
	}

	data := export.Dataset{Title: form.Title}
	for _, field := range form.Fields {
		data.Headers = append(data.Headers, fieldLabel(field))
	}

	for i := range replies {
		values, err := s.resolver.ResolveAll(ctx, s.db, form, &replies[i])
		if err != nil {
			return nil, err
		}
		row := make(map[string]string, len(form.Fields))
		for _, field := range form.Fields {
			if field.Kind == models.FieldKindTable {
				if raw, present := values[field.Name]; present {
					sheet := tableSheet(field, raw)
					sheet.Title = fmt.Sprintf("%s %d", sheet.Title, i+1)
					data.Sheets = append(data.Sheets, sheet)
				}
				continue
			}
			row[fieldLabel(field)] = flattenCell(values[field.Name])
		}
		data.Rows = append(data.Rows, row)
	}

	content, err := renderer.Render(data)
	if err != nil {
		return nil, fmt.Errorf("render replies export: %w", err)
	}

	result, err := s.store(form, "replies", format, content)
	if err != nil {
		return nil, err
	}
	s.audit.RecordAccess(ctx, form.ID, actorID(actor), nil, nil, models.AuditActionExport, models.AuditTargetReply, "")
	return result, nil
}

// Download validates a signed token and opens the referenced export file.
func (s *ExportService) Download(token string) (*os.File, string, error) {
	_, relPath, _, err := s.signer.Parse(token, false)
	if err != nil {
		return nil, "", appErrors.Clone(appErrors.ErrForbidden, "invalid or expired download token")
	}
	file, err := s.storage.Open(relPath)
	if err != nil {
		return nil, "", appErrors.Clone(appErrors.ErrNotFound, "export file not found")
	}
	parts := strings.Split(relPath, "/")
	return file, parts[len(parts)-1], nil
}

func (s *ExportService) store(form *models.Metaform, stem, format string, content []byte) (*dto.ExportResult, error) {
	fileID := uuid.NewString()
	fileName := fmt.Sprintf("%s-%s.%s", stem, fileID[:8], format)
	relPath := fmt.Sprintf("exports/%s/%s", form.Slug, fileName)
	if _, err := s.storage.Save(relPath, content); err != nil {
		return nil, err
	}
	token, expiresAt, err := s.signer.Generate(fileID, relPath)
	if err != nil {
		return nil, fmt.Errorf("sign export token: %w", err)
	}
	return &dto.ExportResult{
		FileName:  fileName,
		Format:    format,
		Token:     token,
		ExpiresAt: expiresAt,
	}, nil
}

func tableSheet(field models.MetaformField, raw any) export.Sheet {
	sheet := export.Sheet{Title: fieldLabel(field)}
	for _, column := range field.Columns {
		sheet.Headers = append(sheet.Headers, column.Name)
	}
	rows, ok := raw.([]map[string]any)
	if !ok {
		return sheet
	}
	for _, row := range rows {
		flat := make(map[string]string, len(row))
		for _, column := range field.Columns {
			flat[column.Name] = flattenCell(row[column.Name])
		}
		sheet.Rows = append(sheet.Rows, flat)
	}
	return sheet
}

func fieldLabel(field models.MetaformField) string {
	if field.Title != "" {
		return field.Title
	}
	return field.Name
}

// flattenCell renders a resolved value as a single export cell.
func flattenCell(raw any) string {
	switch v := raw.(type) {
	case nil:
		return ""
	case []string:
		return strings.Join(v, ", ")
	case []map[string]any:
		names := make([]string, 0, len(v))
		for _, entry := range v {
			names = append(names, stringifyValue(entry["name"]))
		}
		return strings.Join(names, ", ")
	case time.Time:
		return v.Format(time.RFC3339)
	default:
		return stringifyValue(raw)
	}
}
