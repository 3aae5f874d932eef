package service

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/formwave/metaform-api/internal/models"
	"github.com/formwave/metaform-api/pkg/authz"
	"github.com/formwave/metaform-api/pkg/config"
	"github.com/formwave/metaform-api/pkg/jobs"
)

// JobTypeEmailNotification tags notification events on the dispatch queue.
const JobTypeEmailNotification = "email_notification"

type notificationStore interface {
	ListByMetaform(ctx context.Context, metaformID string) ([]models.EmailNotification, error)
	NotifiedRecipients(ctx context.Context, ext sqlx.ExtContext, replyID string) ([]string, error)
	MarkNotified(ctx context.Context, ext sqlx.ExtContext, replyID, recipient string) error
}

type permittedUserSource interface {
	GetPermittedUsers(ctx context.Context, reply *models.Reply, scope authz.Scope) []string
}

// NotificationService evaluates rule-gated notifications for reply state
// transitions and stages email events on the post-commit outbox.
type NotificationService struct {
	store            notificationStore
	resolver         *FieldResolver
	permitted        permittedUserSource
	staticRecipients []string
	logger           *zap.Logger
}

// NewNotificationService constructs the service.
func NewNotificationService(store notificationStore, resolver *FieldResolver, permitted permittedUserSource, cfg config.NotificationsConfig, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{
		store:            store,
		resolver:         resolver,
		permitted:        permitted,
		staticRecipients: cfg.StaticRecipients,
		logger:           logger,
	}
}

// EvaluateRule applies the boolean rule tree over resolved field values.
// A nil rule always fires.
func (s *NotificationService) EvaluateRule(rule *models.NotificationRule, values map[string]any) bool {
	if rule == nil {
		return true
	}

	if rule.Field != "" {
		actual := stringifyValue(values[rule.Field])
		if rule.Equals != nil && actual != *rule.Equals {
			return false
		}
		if rule.NotEquals != nil && actual == *rule.NotEquals {
			return false
		}
	}

	for _, sub := range rule.And {
		if !s.EvaluateRule(&sub, values) {
			return false
		}
	}

	if len(rule.Or) > 0 {
		anyMatch := false
		for _, sub := range rule.Or {
			if s.EvaluateRule(&sub, values) {
				anyMatch = true
				break
			}
		}
		if !anyMatch {
			return false
		}
	}

	return true
}

// StageReplyNotifications evaluates every configured notification for the
// form against the reply's resolved values and appends one event per
// recipient to the outbox. Recipients are the union of statically
// configured addresses (first creation only) and the identities currently
// holding the notify scope, minus anyone notified on a prior transition.
// A malformed rule skips that notification and logs; the rest still run.
func (s *NotificationService) StageReplyNotifications(ctx context.Context, ext sqlx.ExtContext, form *models.Metaform, reply *models.Reply, isCreation bool, outbox *jobs.Outbox) error {
	notifications, err := s.store.ListByMetaform(ctx, form.ID)
	if err != nil {
		return err
	}
	if len(notifications) == 0 && len(s.staticRecipients) == 0 {
		return nil
	}

	values, err := s.resolver.ResolveAll(ctx, ext, form, reply)
	if err != nil {
		return err
	}

	already, err := s.store.NotifiedRecipients(ctx, ext, reply.ID)
	if err != nil {
		return err
	}
	notified := make(map[string]struct{}, len(already))
	for _, recipient := range already {
		notified[recipient] = struct{}{}
	}

	for _, notification := range notifications {
		rule, err := notification.Rule()
		if err != nil {
			s.logger.Warn("skipping notification with malformed rule",
				zap.String("notification_id", notification.ID), zap.Error(err))
			continue
		}
		if !s.EvaluateRule(rule, values) {
			continue
		}

		recipients := s.collectRecipients(ctx, notification, reply, isCreation)
		for _, recipient := range recipients {
			if _, done := notified[recipient]; done {
				continue
			}
			notified[recipient] = struct{}{}

			outbox.Append(JobTypeEmailNotification, models.NotificationEvent{
				Recipient: recipient,
				Subject:   notification.SubjectTemplate,
				Body:      notification.ContentTemplate,
				Phase:     models.NotificationPhaseAfterCommit,
				ReplyID:   reply.ID,
			})
			if err := s.store.MarkNotified(ctx, ext, reply.ID, recipient); err != nil {
				return err
			}
		}
	}
	return nil
}

// collectRecipients unions configured addresses with current notify-scope
// holders, preserving encounter order without duplicates.
func (s *NotificationService) collectRecipients(ctx context.Context, notification models.EmailNotification, reply *models.Reply, isCreation bool) []string {
	seen := make(map[string]struct{})
	var recipients []string
	add := func(recipient string) {
		if recipient == "" {
			return
		}
		if _, dup := seen[recipient]; dup {
			return
		}
		seen[recipient] = struct{}{}
		recipients = append(recipients, recipient)
	}

	if isCreation {
		configured, err := notification.RecipientEmails()
		if err != nil {
			s.logger.Warn("skipping malformed recipient list",
				zap.String("notification_id", notification.ID), zap.Error(err))
		}
		for _, recipient := range configured {
			add(recipient)
		}
		for _, recipient := range s.staticRecipients {
			add(recipient)
		}
	}

	for _, userID := range s.permitted.GetPermittedUsers(ctx, reply, authz.ScopeNotify) {
		add(userID)
	}
	return recipients
}

func stringifyValue(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		if v {
			return "true"
		}
		return "false"
	case float64:
		return fmt.Sprintf("%v", v)
	default:
		return fmt.Sprintf("%v", v)
	}
}
