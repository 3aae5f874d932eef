package dto

import (
	"encoding/json"
	"time"
)

// NotificationRequest configures an email notification for a form.
type NotificationRequest struct {
	SubjectTemplate string          `json:"subjectTemplate" validate:"required"`
	ContentTemplate string          `json:"contentTemplate" validate:"required"`
	Recipients      []string        `json:"recipients" validate:"dive,email"`
	Rule            json.RawMessage `json:"rule,omitempty"`
}

// NotificationItem is a configured notification in responses.
type NotificationItem struct {
	ID              string          `json:"id"`
	MetaformID      string          `json:"metaformId"`
	SubjectTemplate string          `json:"subjectTemplate"`
	ContentTemplate string          `json:"contentTemplate"`
	Recipients      []string        `json:"recipients"`
	Rule            json.RawMessage `json:"rule,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
}
