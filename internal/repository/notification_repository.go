package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/formwave/metaform-api/internal/models"
)

// NotificationRepository persists configured email notifications and the
// per-reply record of already-notified recipients.
type NotificationRepository struct {
	db *sqlx.DB
}

// NewNotificationRepository constructs the repository.
func NewNotificationRepository(db *sqlx.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// ListByMetaform returns the notifications configured for a form.
func (r *NotificationRepository) ListByMetaform(ctx context.Context, metaformID string) ([]models.EmailNotification, error) {
	const query = `SELECT id, metaform_id, subject_template, content_template, recipients, notify_rule, created_at
FROM email_notifications WHERE metaform_id = $1 ORDER BY created_at ASC`
	var notifications []models.EmailNotification
	if err := r.db.SelectContext(ctx, &notifications, query, metaformID); err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	return notifications, nil
}

// Create inserts a notification configuration.
func (r *NotificationRepository) Create(ctx context.Context, notification *models.EmailNotification) error {
	if notification.ID == "" {
		notification.ID = uuid.NewString()
	}
	notification.CreatedAt = time.Now().UTC()
	const query = `INSERT INTO email_notifications (id, metaform_id, subject_template, content_template, recipients, notify_rule, created_at)
VALUES (:id, :metaform_id, :subject_template, :content_template, :recipients, :notify_rule, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, notification); err != nil {
		return fmt.Errorf("create notification: %w", err)
	}
	return nil
}

// Delete removes a notification configuration.
func (r *NotificationRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM email_notifications WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete notification: %w", err)
	}
	return nil
}

// DeleteByMetaform removes every notification configured for a form.
func (r *NotificationRepository) DeleteByMetaform(ctx context.Context, ext sqlx.ExtContext, metaformID string) error {
	if _, err := ext.ExecContext(ctx, `DELETE FROM email_notifications WHERE metaform_id = $1`, metaformID); err != nil {
		return fmt.Errorf("delete notifications: %w", err)
	}
	return nil
}

// NotifiedRecipients returns recipients already notified for the reply on a
// prior state transition.
func (r *NotificationRepository) NotifiedRecipients(ctx context.Context, ext sqlx.ExtContext, replyID string) ([]string, error) {
	var recipients []string
	if err := sqlx.SelectContext(ctx, ext, &recipients,
		`SELECT recipient FROM notified_recipients WHERE reply_id = $1`, replyID); err != nil {
		return nil, fmt.Errorf("list notified recipients: %w", err)
	}
	return recipients, nil
}

// MarkNotified records that a recipient received a notification for the
// reply. Conflicts are ignored so repeated transitions stay idempotent.
func (r *NotificationRepository) MarkNotified(ctx context.Context, ext sqlx.ExtContext, replyID, recipient string) error {
	const query = `INSERT INTO notified_recipients (reply_id, recipient, created_at)
VALUES ($1, $2, $3) ON CONFLICT (reply_id, recipient) DO NOTHING`
	if _, err := ext.ExecContext(ctx, query, replyID, recipient, time.Now().UTC()); err != nil {
		return fmt.Errorf("mark recipient notified: %w", err)
	}
	return nil
}
