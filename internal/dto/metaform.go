package dto

import "github.com/formwave/metaform-api/internal/models"

// MetaformRequest carries a form definition for create/update.
type MetaformRequest struct {
	Slug           string                 `json:"slug" validate:"required"`
	Title          string                 `json:"title" validate:"required"`
	AllowAnonymous bool                   `json:"allowAnonymous"`
	ReplyMode      string                 `json:"replyMode" validate:"omitempty,oneof=UPDATE REVISION CUMULATIVE"`
	Fields         []models.MetaformField `json:"fields" validate:"required,min=1"`
}

// MetaformItem is a form definition in responses.
type MetaformItem struct {
	ID             string                 `json:"id"`
	Slug           string                 `json:"slug"`
	Title          string                 `json:"title"`
	AllowAnonymous bool                   `json:"allowAnonymous"`
	ReplyMode      string                 `json:"replyMode"`
	Fields         []models.MetaformField `json:"fields"`
}
