package handler

import (
	"context"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"

	"github.com/formwave/metaform-api/internal/dto"
	"github.com/formwave/metaform-api/internal/models"
	appErrors "github.com/formwave/metaform-api/pkg/errors"
	"github.com/formwave/metaform-api/pkg/response"
)

type exportService interface {
	ExportReply(ctx context.Context, form *models.Metaform, replyID, format string, actor *models.JWTClaims) (*dto.ExportResult, error)
	ExportReplies(ctx context.Context, form *models.Metaform, format string, actor *models.JWTClaims) (*dto.ExportResult, error)
	Download(token string) (*os.File, string, error)
}

// ExportHandler exposes reply export endpoints.
type ExportHandler struct {
	service exportService
	forms   formResolver
}

// NewExportHandler builds a new handler.
func NewExportHandler(service exportService, forms formResolver) *ExportHandler {
	return &ExportHandler{service: service, forms: forms}
}

// ExportReply godoc
// @Summary Export a single reply
// @Tags Exports
// @Produce json
// @Param id path string true "Form id"
// @Param replyId path string true "Reply id"
// @Param format query string true "pdf, xlsx or csv"
// @Success 200 {object} response.Envelope
// @Router /metaforms/{id}/replies/{replyId}/export [get]
func (h *ExportHandler) ExportReply(c *gin.Context) {
	form, err := h.forms.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	var req dto.ExportRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid export query"))
		return
	}
	result, err := h.service.ExportReply(c.Request.Context(), form, c.Param("replyId"), req.Format, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// ExportReplies godoc
// @Summary Export all active replies of a form
// @Tags Exports
// @Produce json
// @Param id path string true "Form id"
// @Param format query string true "pdf, xlsx or csv"
// @Success 200 {object} response.Envelope
// @Router /metaforms/{id}/export [get]
func (h *ExportHandler) ExportReplies(c *gin.Context) {
	form, err := h.forms.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	var req dto.ExportRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid export query"))
		return
	}
	result, err := h.service.ExportReplies(c.Request.Context(), form, req.Format, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Download godoc
// @Summary Download an export file by signed token
// @Tags Exports
// @Produce octet-stream
// @Param token query string true "Signed download token"
// @Success 200 {file} binary
// @Router /exports/download [get]
func (h *ExportHandler) Download(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "token is required"))
		return
	}
	file, name, err := h.service.Download(token)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer file.Close() //nolint:errcheck
	c.FileAttachment(file.Name(), name)
}
