package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	"golang.org/x/crypto/pbkdf2"

	"github.com/formwave/metaform-api/internal/dto"
	"github.com/formwave/metaform-api/internal/models"
	"github.com/formwave/metaform-api/pkg/authz"
	"github.com/formwave/metaform-api/pkg/config"
	appErrors "github.com/formwave/metaform-api/pkg/errors"
	"github.com/formwave/metaform-api/pkg/jobs"
)

type replyStore interface {
	InTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error
	Create(ctx context.Context, ext sqlx.ExtContext, reply *models.Reply) error
	FindByID(ctx context.Context, ext sqlx.ExtContext, id string) (*models.Reply, error)
	FindActive(ctx context.Context, ext sqlx.ExtContext, metaformID, ownerID string) (*models.Reply, error)
	Touch(ctx context.Context, ext sqlx.ExtContext, id string, modifierID *string) error
	MarkRevision(ctx context.Context, ext sqlx.ExtContext, id string, at time.Time) error
	StampViewed(ctx context.Context, ext sqlx.ExtContext, id string, at time.Time) error
	Delete(ctx context.Context, ext sqlx.ExtContext, id string) error
	List(ctx context.Context, ext sqlx.ExtContext, filter models.ReplyFilter) ([]models.Reply, int, error)
}

type replyFieldStore interface {
	SetValue(ctx context.Context, ext sqlx.ExtContext, replyID, name string, value models.FieldValue) error
	DeleteAllValues(ctx context.Context, ext sqlx.ExtContext, replyID string) error
}

type permissionSyncer interface {
	SyncReplyPermissions(ctx context.Context, ext sqlx.ExtContext, form *models.Metaform, reply *models.Reply, groups map[authz.Scope][]string, previousGroups []string) (string, error)
	GetPermittedUsers(ctx context.Context, reply *models.Reply, scope authz.Scope) []string
	DeleteResource(ctx context.Context, reply *models.Reply)
}

type notificationStager interface {
	StageReplyNotifications(ctx context.Context, ext sqlx.ExtContext, form *models.Metaform, reply *models.Reply, isCreation bool, outbox *jobs.Outbox) error
}

type accessRecorder interface {
	RecordAccess(ctx context.Context, metaformID string, actorID *string, replyID, attachmentID *string, action string, targetType models.AuditTargetType, message string)
}

// ReplyService runs the reply mutation pipeline: typed field writes, dynamic
// group extraction, permission sync, auditing and post-commit notification
// staging, all inside a single transaction per mutation.
type ReplyService struct {
	replies       replyStore
	fields        replyFieldStore
	resolver      *FieldResolver
	extractor     *PermissionContextExtractor
	authzSync     permissionSyncer
	notifications notificationStager
	audit         accessRecorder
	queue         *jobs.Queue
	db            *sqlx.DB
	logger        *zap.Logger

	ownerKeySecret []byte
}

// NewReplyService constructs the service.
func NewReplyService(
	replies replyStore,
	fields replyFieldStore,
	resolver *FieldResolver,
	extractor *PermissionContextExtractor,
	authzSync permissionSyncer,
	notifications notificationStager,
	audit accessRecorder,
	queue *jobs.Queue,
	db *sqlx.DB,
	cfg config.RepliesConfig,
	logger *zap.Logger,
) *ReplyService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReplyService{
		replies:        replies,
		fields:         fields,
		resolver:       resolver,
		extractor:      extractor,
		authzSync:      authzSync,
		notifications:  notifications,
		audit:          audit,
		queue:          queue,
		db:             db,
		logger:         logger,
		ownerKeySecret: []byte(cfg.OwnerKeySecret),
	}
}

// Submit creates or updates a reply for the form according to its reply
// mode. The whole pipeline is transactional: invalid field values or a
// failed permission sync reject the mutation with no partial writes.
func (s *ReplyService) Submit(ctx context.Context, form *models.Metaform, req dto.ReplyRequest, actor *models.JWTClaims) (*dto.ReplyItem, error) {
	if actor == nil && !form.AllowAnonymous {
		return nil, appErrors.ErrUnauthorized
	}

	coerced, err := s.coerceValues(form, req.Values)
	if err != nil {
		return nil, err
	}

	var item *dto.ReplyItem
	outbox := jobs.NewOutbox()

	err = s.replies.InTx(ctx, func(tx *sqlx.Tx) error {
		reply, isCreation, previousGroups, err := s.prepareReply(ctx, tx, form, actor)
		if err != nil {
			return err
		}

		for name, value := range coerced {
			if err := s.fields.SetValue(ctx, tx, reply.ID, name, value); err != nil {
				return err
			}
		}
		if err := s.replies.Touch(ctx, tx, reply.ID, actorID(actor)); err != nil {
			return err
		}
		reply.ModifiedAt = time.Now().UTC()
		reply.LastModifierID = actorID(actor)

		values, err := s.resolver.ResolveAll(ctx, tx, form, reply)
		if err != nil {
			return err
		}
		groups := s.extractor.ComputeGroups(form, values)
		if _, err := s.authzSync.SyncReplyPermissions(ctx, tx, form, reply, groups, previousGroups); err != nil {
			return err
		}

		action := models.AuditActionModify
		if isCreation {
			action = models.AuditActionCreate
		}
		s.audit.RecordAccess(ctx, form.ID, actorID(actor), &reply.ID, nil, action, models.AuditTargetReply, "")

		if err := s.notifications.StageReplyNotifications(ctx, tx, form, reply, isCreation, outbox); err != nil {
			return err
		}

		item = s.toItem(reply, values)
		if isCreation && reply.OwnerKey != nil {
			item.OwnerKey = reply.OwnerKey
		}
		return nil
	})
	if err != nil {
		outbox.Discard()
		return nil, err
	}

	outbox.Drain(s.queue, s.logger)
	return item, nil
}

// Get returns a reply with resolved values, stamping first/last view.
// Anonymous submitters pass the owner key handed out on creation instead
// of a token.
func (s *ReplyService) Get(ctx context.Context, form *models.Metaform, replyID, ownerKey string, actor *models.JWTClaims) (*dto.ReplyItem, error) {
	reply, err := s.replies.FindByID(ctx, s.db, replyID)
	if err != nil {
		return nil, err
	}
	if reply == nil || reply.MetaformID != form.ID {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "reply not found")
	}
	if !s.VerifyOwnerKey(reply, ownerKey) && !s.canAccess(ctx, reply, actor) {
		return nil, appErrors.ErrForbidden
	}

	if err := s.replies.StampViewed(ctx, s.db, reply.ID, time.Now().UTC()); err != nil {
		return nil, err
	}

	values, err := s.resolver.ResolveAll(ctx, s.db, form, reply)
	if err != nil {
		return nil, err
	}
	s.audit.RecordAccess(ctx, form.ID, actorID(actor), &reply.ID, nil, models.AuditActionView, models.AuditTargetReply, "")
	return s.toItem(reply, values), nil
}

// List returns the form's replies matching the query. Non-admin callers see
// only their own replies; filter strings parse per the resolver grammar.
func (s *ReplyService) List(ctx context.Context, form *models.Metaform, query dto.ListRepliesQuery, actor *models.JWTClaims) ([]dto.ReplyItem, *models.Pagination, error) {
	filter := models.ReplyFilter{
		MetaformID: form.ID,
		ActiveOnly: query.ActiveOnly,
		Fields:     s.resolver.ParseFilters(form, query.Fields),
		Page:       query.Page,
		PageSize:   query.PageSize,
	}
	if from := parseTimestamp(query.CreatedFrom); from != nil {
		filter.CreatedFrom = from
	}
	if to := parseTimestamp(query.CreatedTo); to != nil {
		filter.CreatedTo = to
	}
	if actor == nil {
		return nil, nil, appErrors.ErrUnauthorized
	}
	if !actor.HasRole(models.RoleMetaformAdmin) {
		filter.OwnerID = &actor.UserID
	}

	replies, total, err := s.replies.List(ctx, s.db, filter)
	if err != nil {
		return nil, nil, err
	}

	items := make([]dto.ReplyItem, 0, len(replies))
	for i := range replies {
		values, err := s.resolver.ResolveAll(ctx, s.db, form, &replies[i])
		if err != nil {
			return nil, nil, err
		}
		items = append(items, *s.toItem(&replies[i], values))
	}

	s.audit.RecordAccess(ctx, form.ID, actorID(actor), nil, nil, models.AuditActionList, models.AuditTargetReply, "")
	pagination := &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}
	return items, pagination, nil
}

// Delete removes a reply, its field values and its protected resource.
func (s *ReplyService) Delete(ctx context.Context, form *models.Metaform, replyID string, actor *models.JWTClaims) error {
	reply, err := s.replies.FindByID(ctx, s.db, replyID)
	if err != nil {
		return err
	}
	if reply == nil || reply.MetaformID != form.ID {
		return appErrors.Clone(appErrors.ErrNotFound, "reply not found")
	}
	if !s.canAccess(ctx, reply, actor) {
		return appErrors.ErrForbidden
	}

	err = s.replies.InTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.fields.DeleteAllValues(ctx, tx, reply.ID); err != nil {
			return err
		}
		return s.replies.Delete(ctx, tx, reply.ID)
	})
	if err != nil {
		return err
	}

	s.authzSync.DeleteResource(ctx, reply)
	s.audit.RecordAccess(ctx, form.ID, actorID(actor), &reply.ID, nil, models.AuditActionDelete, models.AuditTargetReply, "")
	return nil
}

// prepareReply locates or creates the reply to mutate according to the
// form's reply mode, and captures the dynamic groups derived from the
// values stored before this mutation.
func (s *ReplyService) prepareReply(ctx context.Context, tx *sqlx.Tx, form *models.Metaform, actor *models.JWTClaims) (*models.Reply, bool, []string, error) {
	var existing *models.Reply
	if actor != nil && form.ReplyMode != models.ReplyModeCumulative {
		found, err := s.replies.FindActive(ctx, tx, form.ID, actor.UserID)
		if err != nil {
			return nil, false, nil, err
		}
		existing = found
	}

	if existing != nil && form.ReplyMode == models.ReplyModeUpdate {
		previousValues, err := s.resolver.ResolveAll(ctx, tx, form, existing)
		if err != nil {
			return nil, false, nil, err
		}
		previousGroups := AllGroupNames(s.extractor.ComputeGroups(form, previousValues))
		return existing, false, previousGroups, nil
	}

	if existing != nil && form.ReplyMode == models.ReplyModeRevision {
		if err := s.replies.MarkRevision(ctx, tx, existing.ID, time.Now().UTC()); err != nil {
			return nil, false, nil, err
		}
	}

	reply := &models.Reply{
		ID:         uuid.NewString(),
		MetaformID: form.ID,
		OwnerID:    actorID(actor),
	}
	if actor == nil {
		key := s.deriveOwnerKey(reply.ID)
		reply.OwnerKey = &key
	}
	if err := s.replies.Create(ctx, tx, reply); err != nil {
		return nil, false, nil, err
	}
	return reply, true, nil, nil
}

// canAccess fails closed: admins and owners pass, everyone else must hold
// the view scope on the reply's resource.
func (s *ReplyService) canAccess(ctx context.Context, reply *models.Reply, actor *models.JWTClaims) bool {
	if actor == nil {
		return false
	}
	if actor.HasRole(models.RoleMetaformAdmin) {
		return true
	}
	if reply.OwnerID != nil && *reply.OwnerID == actor.UserID {
		return true
	}
	for _, userID := range s.authzSync.GetPermittedUsers(ctx, reply, authz.ScopeView) {
		if userID == actor.UserID {
			return true
		}
	}
	return false
}

func (s *ReplyService) coerceValues(form *models.Metaform, values map[string]any) (map[string]models.FieldValue, error) {
	coerced := make(map[string]models.FieldValue, len(values))
	for name, raw := range values {
		field, ok := form.Field(name)
		if !ok {
			s.logger.Warn("ignoring value for undeclared field", zap.String("field", name))
			continue
		}
		if field.Kind.IsMeta() {
			continue
		}
		value, err := s.resolver.CoerceValue(field, raw)
		if err != nil {
			return nil, err
		}
		coerced[name] = value
	}
	return coerced, nil
}

// deriveOwnerKey derives the anonymous owner's access key from the reply id
// and the service secret.
func (s *ReplyService) deriveOwnerKey(replyID string) string {
	key := pbkdf2.Key([]byte(replyID), s.ownerKeySecret, 4096, 32, sha256.New)
	return hex.EncodeToString(key)
}

// VerifyOwnerKey checks a presented anonymous owner key against the one
// derived for the reply. Only anonymous replies carry a key.
func (s *ReplyService) VerifyOwnerKey(reply *models.Reply, presented string) bool {
	if reply.OwnerKey == nil || presented == "" {
		return false
	}
	return hmac.Equal([]byte(presented), []byte(s.deriveOwnerKey(reply.ID)))
}

func (s *ReplyService) toItem(reply *models.Reply, values map[string]any) *dto.ReplyItem {
	return &dto.ReplyItem{
		ID:             reply.ID,
		MetaformID:     reply.MetaformID,
		OwnerID:        reply.OwnerID,
		Revision:       reply.Revision,
		CreatedAt:      reply.CreatedAt,
		ModifiedAt:     reply.ModifiedAt,
		LastModifierID: reply.LastModifierID,
		Values:         values,
	}
}

func actorID(actor *models.JWTClaims) *string {
	if actor == nil || actor.UserID == "" {
		return nil
	}
	return &actor.UserID
}

func parseTimestamp(raw string) *time.Time {
	if raw == "" {
		return nil
	}
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil
	}
	return &parsed
}
