package handler

import (
	"context"
	"io"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"

	"github.com/formwave/metaform-api/internal/models"
	"github.com/formwave/metaform-api/internal/service"
	appErrors "github.com/formwave/metaform-api/pkg/errors"
	"github.com/formwave/metaform-api/pkg/response"
)

type attachmentService interface {
	Upload(ctx context.Context, name, contentType string, r io.Reader) (*service.UploadedFile, error)
	Open(ctx context.Context, metaformID, id string, actor *models.JWTClaims) (*models.Attachment, *os.File, error)
}

// AttachmentHandler exposes file upload and download endpoints.
type AttachmentHandler struct {
	service attachmentService
}

// NewAttachmentHandler builds a new handler.
func NewAttachmentHandler(service attachmentService) *AttachmentHandler {
	return &AttachmentHandler{service: service}
}

// Upload godoc
// @Summary Upload a file for later reference in a files field
// @Tags Attachments
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "File content"
// @Success 201 {object} response.Envelope
// @Router /attachments [post]
func (h *AttachmentHandler) Upload(c *gin.Context) {
	header, err := c.FormFile("file")
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "missing file part"))
		return
	}
	file, err := header.Open()
	if err != nil {
		response.Error(c, err)
		return
	}
	defer file.Close() //nolint:errcheck

	uploaded, err := h.service.Upload(c.Request.Context(), header.Filename, header.Header.Get("Content-Type"), file)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, uploaded)
}

// Download godoc
// @Summary Download an attachment
// @Tags Attachments
// @Produce octet-stream
// @Param id path string true "Form id"
// @Param attachmentId path string true "Attachment id"
// @Success 200 {file} binary
// @Router /metaforms/{id}/attachments/{attachmentId} [get]
func (h *AttachmentHandler) Download(c *gin.Context) {
	attachment, file, err := h.service.Open(c.Request.Context(), c.Param("id"), c.Param("attachmentId"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	defer file.Close() //nolint:errcheck

	if attachment.ContentType != "" {
		c.Header("Content-Type", attachment.ContentType)
	}
	c.FileAttachment(file.Name(), attachment.Name)
}
