package models

import (
	"encoding/json"
	"time"
)

// NotificationRule is a small boolean rule tree evaluated over resolved
// field values to decide whether a configured notification fires. A nil rule
// always fires. Exactly one member group is set: a leaf comparison
// (Field + Equals/NotEquals) or a composite (And / Or).
type NotificationRule struct {
	Field     string             `json:"field,omitempty"`
	Equals    *string            `json:"equals,omitempty"`
	NotEquals *string            `json:"notEquals,omitempty"`
	And       []NotificationRule `json:"and,omitempty"`
	Or        []NotificationRule `json:"or,omitempty"`
}

// EmailNotification is a configured notification for a metaform.
type EmailNotification struct {
	ID              string          `db:"id" json:"id"`
	MetaformID      string          `db:"metaform_id" json:"metaformId"`
	SubjectTemplate string          `db:"subject_template" json:"subjectTemplate"`
	ContentTemplate string          `db:"content_template" json:"contentTemplate"`
	Recipients      json.RawMessage `db:"recipients" json:"-"`
	RuleJSON        json.RawMessage `db:"notify_rule" json:"-"`
	CreatedAt       time.Time       `db:"created_at" json:"createdAt"`
}

// RecipientEmails decodes the statically configured recipient list.
func (n *EmailNotification) RecipientEmails() ([]string, error) {
	if len(n.Recipients) == 0 {
		return nil, nil
	}
	var emails []string
	if err := json.Unmarshal(n.Recipients, &emails); err != nil {
		return nil, err
	}
	return emails, nil
}

// Rule decodes the persisted rule tree; nil when no rule is configured.
func (n *EmailNotification) Rule() (*NotificationRule, error) {
	if len(n.RuleJSON) == 0 || string(n.RuleJSON) == "null" {
		return nil, nil
	}
	var rule NotificationRule
	if err := json.Unmarshal(n.RuleJSON, &rule); err != nil {
		return nil, err
	}
	return &rule, nil
}

// NotificationPhase tells when a notification event may be delivered.
type NotificationPhase string

// NotificationPhaseAfterCommit defers delivery until the surrounding
// transaction committed.
const NotificationPhaseAfterCommit NotificationPhase = "AFTER_COMMIT"

// NotificationEvent is the transport-agnostic email event handed to the
// post-commit dispatcher.
type NotificationEvent struct {
	Recipient string            `json:"recipient"`
	Subject   string            `json:"subject"`
	Body      string            `json:"body"`
	Phase     NotificationPhase `json:"phase"`
	ReplyID   string            `json:"replyId"`
}

// NotifiedRecipient records that an identity was already notified for a
// reply state transition, so later transitions skip it.
type NotifiedRecipient struct {
	ReplyID   string    `db:"reply_id"`
	Recipient string    `db:"recipient"`
	CreatedAt time.Time `db:"created_at"`
}
