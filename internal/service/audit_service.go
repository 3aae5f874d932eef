package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/formwave/metaform-api/internal/models"
)

type auditAppender interface {
	Append(ctx context.Context, entry *models.AuditLogEntry) error
	ListByMetaform(ctx context.Context, metaformID string, limit int) ([]models.AuditLogEntry, error)
}

// AuditService records access-sensitive operations against replies and
// attachments. Entries are append-only.
type AuditService struct {
	repo   auditAppender
	logger *zap.Logger
}

// NewAuditService constructs the service.
func NewAuditService(repo auditAppender, logger *zap.Logger) *AuditService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditService{repo: repo, logger: logger}
}

var auditMessageTemplates = map[string]string{
	models.AuditActionCreate: "created %s",
	models.AuditActionView:   "viewed %s",
	models.AuditActionList:   "listed %s",
	models.AuditActionModify: "modified %s",
	models.AuditActionDelete: "deleted %s",
	models.AuditActionExport: "exported %s",
}

// RecordAccess appends an audit entry. When message is empty a
// human-readable one is synthesized from the per-action template. Append
// failures are logged, never propagated: auditing must not break the
// operation it observes.
func (s *AuditService) RecordAccess(ctx context.Context, metaformID string, actorID *string, replyID, attachmentID *string, action string, targetType models.AuditTargetType, message string) {
	if message == "" {
		template, ok := auditMessageTemplates[action]
		if !ok {
			template = "%s accessed"
		}
		target := string(targetType)
		if replyID != nil {
			target = fmt.Sprintf("%s %s", targetType, *replyID)
		} else if attachmentID != nil {
			target = fmt.Sprintf("%s %s", targetType, *attachmentID)
		}
		message = fmt.Sprintf(template, target)
	}

	entry := &models.AuditLogEntry{
		MetaformID:   metaformID,
		UserID:       actorID,
		ReplyID:      replyID,
		AttachmentID: attachmentID,
		Action:       action,
		TargetType:   targetType,
		Message:      message,
	}
	if err := s.repo.Append(ctx, entry); err != nil {
		s.logger.Warn("failed to append audit entry",
			zap.String("metaform_id", metaformID), zap.String("action", action), zap.Error(err))
	}
}

// List returns recent entries for a form.
func (s *AuditService) List(ctx context.Context, metaformID string, limit int) ([]models.AuditLogEntry, error) {
	return s.repo.ListByMetaform(ctx, metaformID, limit)
}
