package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/formwave/metaform-api/internal/dto"
	"github.com/formwave/metaform-api/internal/models"
	appErrors "github.com/formwave/metaform-api/pkg/errors"
	"github.com/formwave/metaform-api/pkg/response"
)

type replyService interface {
	Submit(ctx context.Context, form *models.Metaform, req dto.ReplyRequest, actor *models.JWTClaims) (*dto.ReplyItem, error)
	Get(ctx context.Context, form *models.Metaform, replyID, ownerKey string, actor *models.JWTClaims) (*dto.ReplyItem, error)
	List(ctx context.Context, form *models.Metaform, query dto.ListRepliesQuery, actor *models.JWTClaims) ([]dto.ReplyItem, *models.Pagination, error)
	Delete(ctx context.Context, form *models.Metaform, replyID string, actor *models.JWTClaims) error
}

type formResolver interface {
	Get(ctx context.Context, id string) (*models.Metaform, error)
}

// ReplyHandler exposes reply submission and retrieval endpoints.
type ReplyHandler struct {
	service replyService
	forms   formResolver
}

// NewReplyHandler builds a new handler.
func NewReplyHandler(service replyService, forms formResolver) *ReplyHandler {
	return &ReplyHandler{service: service, forms: forms}
}

// Submit godoc
// @Summary Submit a reply to a form
// @Tags Replies
// @Accept json
// @Produce json
// @Param id path string true "Form id"
// @Param payload body dto.ReplyRequest true "Field values"
// @Success 201 {object} response.Envelope
// @Router /metaforms/{id}/replies [post]
func (h *ReplyHandler) Submit(c *gin.Context) {
	form, err := h.forms.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	var req dto.ReplyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid reply payload"))
		return
	}
	item, err := h.service.Submit(c.Request.Context(), form, req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, item)
}

// Get godoc
// @Summary Get a reply with resolved values
// @Tags Replies
// @Produce json
// @Param id path string true "Form id"
// @Param replyId path string true "Reply id"
// @Param ownerKey query string false "Anonymous owner key issued on creation"
// @Success 200 {object} response.Envelope
// @Router /metaforms/{id}/replies/{replyId} [get]
func (h *ReplyHandler) Get(c *gin.Context) {
	form, err := h.forms.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	item, err := h.service.Get(c.Request.Context(), form, c.Param("replyId"), c.Query("ownerKey"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, item, nil)
}

// List godoc
// @Summary List replies to a form
// @Tags Replies
// @Produce json
// @Param id path string true "Form id"
// @Param fields query []string false "Field filters, e.g. dept:sales"
// @Param activeOnly query bool false "Exclude superseded revisions"
// @Success 200 {object} response.Envelope
// @Router /metaforms/{id}/replies [get]
func (h *ReplyHandler) List(c *gin.Context) {
	form, err := h.forms.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	var query dto.ListRepliesQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid listing query"))
		return
	}
	items, pagination, err := h.service.List(c.Request.Context(), form, query, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, pagination)
}

// Delete godoc
// @Summary Delete a reply
// @Tags Replies
// @Param id path string true "Form id"
// @Param replyId path string true "Reply id"
// @Success 204
// @Router /metaforms/{id}/replies/{replyId} [delete]
func (h *ReplyHandler) Delete(c *gin.Context) {
	form, err := h.forms.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	if err := h.service.Delete(c.Request.Context(), form, c.Param("replyId"), claimsFromContext(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
