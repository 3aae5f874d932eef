package dto

import "time"

// ReplyRequest carries a submitted value map keyed by field name.
type ReplyRequest struct {
	Values map[string]any `json:"values" validate:"required"`
}

// ReplyItem is a reply with its resolved field values.
type ReplyItem struct {
	ID             string         `json:"id"`
	MetaformID     string         `json:"metaformId"`
	OwnerID        *string        `json:"ownerId,omitempty"`
	Revision       *time.Time     `json:"revision,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
	ModifiedAt     time.Time      `json:"modifiedAt"`
	LastModifierID *string        `json:"lastModifierId,omitempty"`
	Values         map[string]any `json:"values"`

	// OwnerKey is returned once, on anonymous creation; the submitter
	// presents it to read the reply later.
	OwnerKey *string `json:"ownerKey,omitempty"`
}

// ListRepliesQuery captures the reply listing parameters.
type ListRepliesQuery struct {
	Fields      []string `form:"fields"`
	CreatedFrom string   `form:"createdFrom"`
	CreatedTo   string   `form:"createdTo"`
	ActiveOnly  bool     `form:"activeOnly,default=true"`
	Page        int      `form:"page,default=1"`
	PageSize    int      `form:"pageSize,default=50"`
}
