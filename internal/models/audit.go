package models

import "time"

// AuditAction constants represent reply access actions to be logged.
const (
	AuditActionCreate = "CREATE"
	AuditActionView   = "VIEW"
	AuditActionList   = "LIST"
	AuditActionModify = "MODIFY"
	AuditActionDelete = "DELETE"
	AuditActionExport = "EXPORT"
)

// AuditTargetType tells what kind of object an audit entry refers to.
type AuditTargetType string

const (
	AuditTargetReply      AuditTargetType = "REPLY"
	AuditTargetAttachment AuditTargetType = "ATTACHMENT"
)

// AuditLogEntry is an immutable record of an access-sensitive operation
// against a reply or attachment. Entries are never mutated and are removed
// only when their metaform is deleted.
type AuditLogEntry struct {
	ID           string          `db:"id" json:"id"`
	MetaformID   string          `db:"metaform_id" json:"metaformId"`
	UserID       *string         `db:"user_id" json:"userId,omitempty"`
	ReplyID      *string         `db:"reply_id" json:"replyId,omitempty"`
	AttachmentID *string         `db:"attachment_id" json:"attachmentId,omitempty"`
	Action       string          `db:"action" json:"action"`
	TargetType   AuditTargetType `db:"target_type" json:"targetType"`
	Message      string          `db:"message" json:"message"`
	CreatedAt    time.Time       `db:"created_at" json:"createdAt"`
}
