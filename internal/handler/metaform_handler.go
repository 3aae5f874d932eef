package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/formwave/metaform-api/internal/dto"
	"github.com/formwave/metaform-api/internal/models"
	appErrors "github.com/formwave/metaform-api/pkg/errors"
	"github.com/formwave/metaform-api/pkg/response"
)

type metaformService interface {
	Create(ctx context.Context, req dto.MetaformRequest) (*dto.MetaformItem, error)
	Update(ctx context.Context, id string, req dto.MetaformRequest) (*dto.MetaformItem, error)
	Get(ctx context.Context, id string) (*models.Metaform, error)
	List(ctx context.Context) ([]dto.MetaformItem, error)
	Delete(ctx context.Context, id string) error
	CreateNotification(ctx context.Context, form *models.Metaform, req dto.NotificationRequest) (*dto.NotificationItem, error)
	ListNotifications(ctx context.Context, metaformID string) ([]dto.NotificationItem, error)
	DeleteNotification(ctx context.Context, id string) error
}

type auditLister interface {
	List(ctx context.Context, metaformID string, limit int) ([]models.AuditLogEntry, error)
}

// MetaformHandler exposes form definition management endpoints.
type MetaformHandler struct {
	service  metaformService
	auditLog auditLister
}

// NewMetaformHandler builds a new handler.
func NewMetaformHandler(service metaformService, auditLog auditLister) *MetaformHandler {
	return &MetaformHandler{service: service, auditLog: auditLog}
}

// Create godoc
// @Summary Create a form definition
// @Tags Metaforms
// @Accept json
// @Produce json
// @Param payload body dto.MetaformRequest true "Form definition"
// @Success 201 {object} response.Envelope
// @Router /metaforms [post]
func (h *MetaformHandler) Create(c *gin.Context) {
	var req dto.MetaformRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid form payload"))
		return
	}
	item, err := h.service.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, item)
}

// Update godoc
// @Summary Replace a form definition
// @Tags Metaforms
// @Accept json
// @Produce json
// @Param id path string true "Form id"
// @Param payload body dto.MetaformRequest true "Form definition"
// @Success 200 {object} response.Envelope
// @Router /metaforms/{id} [put]
func (h *MetaformHandler) Update(c *gin.Context) {
	var req dto.MetaformRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid form payload"))
		return
	}
	item, err := h.service.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, item, nil)
}

// Get godoc
// @Summary Get a form definition
// @Tags Metaforms
// @Produce json
// @Param id path string true "Form id"
// @Success 200 {object} response.Envelope
// @Router /metaforms/{id} [get]
func (h *MetaformHandler) Get(c *gin.Context) {
	form, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, form, nil)
}

// List godoc
// @Summary List form definitions
// @Tags Metaforms
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /metaforms [get]
func (h *MetaformHandler) List(c *gin.Context) {
	items, err := h.service.List(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, nil)
}

// Delete godoc
// @Summary Delete a form and its replies
// @Tags Metaforms
// @Param id path string true "Form id"
// @Success 204
// @Router /metaforms/{id} [delete]
func (h *MetaformHandler) Delete(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// CreateNotification godoc
// @Summary Configure an email notification
// @Tags Notifications
// @Accept json
// @Produce json
// @Param id path string true "Form id"
// @Param payload body dto.NotificationRequest true "Notification config"
// @Success 201 {object} response.Envelope
// @Router /metaforms/{id}/notifications [post]
func (h *MetaformHandler) CreateNotification(c *gin.Context) {
	form, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	var req dto.NotificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid notification payload"))
		return
	}
	item, err := h.service.CreateNotification(c.Request.Context(), form, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, item)
}

// ListNotifications godoc
// @Summary List configured notifications
// @Tags Notifications
// @Produce json
// @Param id path string true "Form id"
// @Success 200 {object} response.Envelope
// @Router /metaforms/{id}/notifications [get]
func (h *MetaformHandler) ListNotifications(c *gin.Context) {
	items, err := h.service.ListNotifications(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, nil)
}

// DeleteNotification godoc
// @Summary Remove a configured notification
// @Tags Notifications
// @Param id path string true "Form id"
// @Param notificationId path string true "Notification id"
// @Success 204
// @Router /metaforms/{id}/notifications/{notificationId} [delete]
func (h *MetaformHandler) DeleteNotification(c *gin.Context) {
	if err := h.service.DeleteNotification(c.Request.Context(), c.Param("notificationId")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// AuditLog godoc
// @Summary List the audit trail of a form
// @Tags Metaforms
// @Produce json
// @Param id path string true "Form id"
// @Param limit query int false "Max entries"
// @Success 200 {object} response.Envelope
// @Router /metaforms/{id}/audit [get]
func (h *MetaformHandler) AuditLog(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil || limit <= 0 {
		limit = 100
	}
	entries, listErr := h.auditLog.List(c.Request.Context(), c.Param("id"), limit)
	if listErr != nil {
		response.Error(c, listErr)
		return
	}
	response.JSON(c, http.StatusOK, entries, nil)
}
