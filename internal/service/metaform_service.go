package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/formwave/metaform-api/internal/dto"
	"github.com/formwave/metaform-api/internal/models"
	appErrors "github.com/formwave/metaform-api/pkg/errors"
)

type metaformStore interface {
	FindByID(ctx context.Context, id string) (*models.Metaform, error)
	FindBySlug(ctx context.Context, slug string) (*models.Metaform, error)
	List(ctx context.Context) ([]models.Metaform, error)
	Create(ctx context.Context, form *models.Metaform) error
	Update(ctx context.Context, form *models.Metaform) error
	Delete(ctx context.Context, ext sqlx.ExtContext, id string) error
}

type notificationConfigStore interface {
	ListByMetaform(ctx context.Context, metaformID string) ([]models.EmailNotification, error)
	Create(ctx context.Context, notification *models.EmailNotification) error
	Delete(ctx context.Context, id string) error
	DeleteByMetaform(ctx context.Context, ext sqlx.ExtContext, metaformID string) error
}

type metaformReplyStore interface {
	InTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error
	List(ctx context.Context, ext sqlx.ExtContext, filter models.ReplyFilter) ([]models.Reply, int, error)
	Delete(ctx context.Context, ext sqlx.ExtContext, id string) error
}

type auditPurger interface {
	DeleteByMetaform(ctx context.Context, ext sqlx.ExtContext, metaformID string) error
}

// MetaformService manages form definitions and their notification
// configurations.
type MetaformService struct {
	forms         metaformStore
	notifications notificationConfigStore
	replies       metaformReplyStore
	fields        replyFieldStore
	auditLog      auditPurger
	authzSync     permissionSyncer
	validator     *validator.Validate
	db            *sqlx.DB
	logger        *zap.Logger
}

// NewMetaformService constructs the service.
func NewMetaformService(
	forms metaformStore,
	notifications notificationConfigStore,
	replies metaformReplyStore,
	fields replyFieldStore,
	auditLog auditPurger,
	authzSync permissionSyncer,
	db *sqlx.DB,
	logger *zap.Logger,
) *MetaformService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MetaformService{
		forms:         forms,
		notifications: notifications,
		replies:       replies,
		fields:        fields,
		auditLog:      auditLog,
		authzSync:     authzSync,
		validator:     validator.New(),
		db:            db,
		logger:        logger,
	}
}

// Create validates and persists a new form definition.
func (s *MetaformService) Create(ctx context.Context, req dto.MetaformRequest) (*dto.MetaformItem, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid form definition")
	}
	if err := validateFields(req.Fields); err != nil {
		return nil, err
	}
	existing, err := s.forms.FindBySlug(ctx, req.Slug)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("form slug %q already in use", req.Slug))
	}

	form := &models.Metaform{
		ID:             uuid.NewString(),
		Slug:           req.Slug,
		Title:          req.Title,
		AllowAnonymous: req.AllowAnonymous,
		ReplyMode:      replyModeOrDefault(req.ReplyMode),
		Fields:         req.Fields,
	}
	if err := s.forms.Create(ctx, form); err != nil {
		return nil, err
	}
	return toMetaformItem(form), nil
}

// Update replaces the form definition. Values stored under a field whose
// kind changed are cleaned up lazily on the next write to that field.
func (s *MetaformService) Update(ctx context.Context, id string, req dto.MetaformRequest) (*dto.MetaformItem, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid form definition")
	}
	if err := validateFields(req.Fields); err != nil {
		return nil, err
	}
	form, err := s.forms.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if form == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "form not found")
	}
	if req.Slug != form.Slug {
		taken, err := s.forms.FindBySlug(ctx, req.Slug)
		if err != nil {
			return nil, err
		}
		if taken != nil {
			return nil, appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("form slug %q already in use", req.Slug))
		}
	}

	form.Slug = req.Slug
	form.Title = req.Title
	form.AllowAnonymous = req.AllowAnonymous
	form.ReplyMode = replyModeOrDefault(req.ReplyMode)
	form.Fields = req.Fields
	if err := s.forms.Update(ctx, form); err != nil {
		return nil, err
	}
	return toMetaformItem(form), nil
}

// Get returns a form by id.
func (s *MetaformService) Get(ctx context.Context, id string) (*models.Metaform, error) {
	form, err := s.forms.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if form == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "form not found")
	}
	return form, nil
}

// GetBySlug returns a form by its slug.
func (s *MetaformService) GetBySlug(ctx context.Context, slug string) (*models.Metaform, error) {
	form, err := s.forms.FindBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	if form == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "form not found")
	}
	return form, nil
}

// List returns all form definitions.
func (s *MetaformService) List(ctx context.Context) ([]dto.MetaformItem, error) {
	forms, err := s.forms.List(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]dto.MetaformItem, 0, len(forms))
	for i := range forms {
		items = append(items, *toMetaformItem(&forms[i]))
	}
	return items, nil
}

// Delete removes a form and everything hanging off it: replies with their
// field values, notification configs and the audit trail. Protected
// resources are released best effort after commit.
func (s *MetaformService) Delete(ctx context.Context, id string) error {
	form, err := s.forms.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if form == nil {
		return appErrors.Clone(appErrors.ErrNotFound, "form not found")
	}

	replies, _, err := s.replies.List(ctx, s.db, models.ReplyFilter{
		MetaformID: id,
		Page:       1,
		PageSize:   100000,
	})
	if err != nil {
		return err
	}

	err = s.replies.InTx(ctx, func(tx *sqlx.Tx) error {
		for i := range replies {
			if err := s.fields.DeleteAllValues(ctx, tx, replies[i].ID); err != nil {
				return err
			}
			if err := s.replies.Delete(ctx, tx, replies[i].ID); err != nil {
				return err
			}
		}
		if err := s.notifications.DeleteByMetaform(ctx, tx, id); err != nil {
			return err
		}
		if err := s.auditLog.DeleteByMetaform(ctx, tx, id); err != nil {
			return err
		}
		return s.forms.Delete(ctx, tx, id)
	})
	if err != nil {
		return err
	}

	for i := range replies {
		s.authzSync.DeleteResource(ctx, &replies[i])
	}
	return nil
}

// CreateNotification validates and stores an email notification config.
func (s *MetaformService) CreateNotification(ctx context.Context, form *models.Metaform, req dto.NotificationRequest) (*dto.NotificationItem, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid notification config")
	}
	if len(req.Rule) > 0 {
		var rule models.NotificationRule
		if err := json.Unmarshal(req.Rule, &rule); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrMalformedRule.Code, appErrors.ErrMalformedRule.Status, "notification rule does not parse")
		}
		if err := validateRule(form, rule); err != nil {
			return nil, err
		}
	}
	recipients, err := json.Marshal(req.Recipients)
	if err != nil {
		return nil, fmt.Errorf("encode recipients: %w", err)
	}

	notification := &models.EmailNotification{
		ID:              uuid.NewString(),
		MetaformID:      form.ID,
		SubjectTemplate: req.SubjectTemplate,
		ContentTemplate: req.ContentTemplate,
		Recipients:      recipients,
		RuleJSON:        req.Rule,
	}
	if err := s.notifications.Create(ctx, notification); err != nil {
		return nil, err
	}
	return toNotificationItem(notification), nil
}

// ListNotifications returns the notifications configured for a form.
func (s *MetaformService) ListNotifications(ctx context.Context, metaformID string) ([]dto.NotificationItem, error) {
	notifications, err := s.notifications.ListByMetaform(ctx, metaformID)
	if err != nil {
		return nil, err
	}
	items := make([]dto.NotificationItem, 0, len(notifications))
	for i := range notifications {
		items = append(items, *toNotificationItem(&notifications[i]))
	}
	return items, nil
}

// DeleteNotification removes a notification configuration.
func (s *MetaformService) DeleteNotification(ctx context.Context, id string) error {
	return s.notifications.Delete(ctx, id)
}

func replyModeOrDefault(mode string) models.ReplyMode {
	switch models.ReplyMode(mode) {
	case models.ReplyModeRevision:
		return models.ReplyModeRevision
	case models.ReplyModeCumulative:
		return models.ReplyModeCumulative
	default:
		return models.ReplyModeUpdate
	}
}

var knownFieldKinds = map[models.FieldKind]struct{}{
	models.FieldKindString:       {},
	models.FieldKindNumber:       {},
	models.FieldKindBoolean:      {},
	models.FieldKindList:         {},
	models.FieldKindFiles:        {},
	models.FieldKindTable:        {},
	models.FieldKindCreated:      {},
	models.FieldKindModified:     {},
	models.FieldKindLastModifier: {},
}

func validateFields(fields []models.MetaformField) error {
	seen := make(map[string]struct{}, len(fields))
	for _, field := range fields {
		if field.Name == "" {
			return appErrors.Clone(appErrors.ErrValidation, "field name must not be empty")
		}
		if _, dup := seen[field.Name]; dup {
			return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("duplicate field name %q", field.Name))
		}
		seen[field.Name] = struct{}{}
		if _, known := knownFieldKinds[field.Kind]; !known {
			return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown field type %q", field.Kind))
		}
		if field.Kind == models.FieldKindTable {
			if len(field.Columns) == 0 {
				return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("table field %q needs at least one column", field.Name))
			}
			for _, column := range field.Columns {
				if column.Type != "text" && column.Type != "number" {
					return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("table column %q has unknown type %q", column.Name, column.Type))
				}
			}
		}
		if field.Kind.IsMeta() && field.PermissionContexts.Any() {
			return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("meta field %q cannot carry permission contexts", field.Name))
		}
	}
	return nil
}

// validateRule checks that every leaf references a declared field.
func validateRule(form *models.Metaform, rule models.NotificationRule) error {
	if rule.Field != "" {
		if _, ok := form.Field(rule.Field); !ok {
			return appErrors.Clone(appErrors.ErrMalformedRule, fmt.Sprintf("rule references unknown field %q", rule.Field))
		}
	}
	for _, sub := range rule.And {
		if err := validateRule(form, sub); err != nil {
			return err
		}
	}
	for _, sub := range rule.Or {
		if err := validateRule(form, sub); err != nil {
			return err
		}
	}
	return nil
}

func toMetaformItem(form *models.Metaform) *dto.MetaformItem {
	return &dto.MetaformItem{
		ID:             form.ID,
		Slug:           form.Slug,
		Title:          form.Title,
		AllowAnonymous: form.AllowAnonymous,
		ReplyMode:      string(form.ReplyMode),
		Fields:         form.Fields,
	}
}

func toNotificationItem(notification *models.EmailNotification) *dto.NotificationItem {
	recipients, err := notification.RecipientEmails()
	if err != nil {
		recipients = nil
	}
	return &dto.NotificationItem{
		ID:              notification.ID,
		MetaformID:      notification.MetaformID,
		SubjectTemplate: notification.SubjectTemplate,
		ContentTemplate: notification.ContentTemplate,
		Recipients:      recipients,
		Rule:            notification.RuleJSON,
		CreatedAt:       notification.CreatedAt,
	}
}
