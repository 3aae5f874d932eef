package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/formwave/metaform-api/internal/dto"
	"github.com/formwave/metaform-api/internal/models"
	appErrors "github.com/formwave/metaform-api/pkg/errors"
)

type metaformServiceMock struct {
	createItem *dto.MetaformItem
	createErr  error
	getForm    *models.Metaform
	getErr     error
	deleted    []string
}

func (m *metaformServiceMock) Create(_ context.Context, _ dto.MetaformRequest) (*dto.MetaformItem, error) {
	return m.createItem, m.createErr
}

func (m *metaformServiceMock) Update(_ context.Context, id string, _ dto.MetaformRequest) (*dto.MetaformItem, error) {
	return &dto.MetaformItem{ID: id}, nil
}

func (m *metaformServiceMock) Get(_ context.Context, _ string) (*models.Metaform, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	return m.getForm, nil
}

func (m *metaformServiceMock) List(_ context.Context) ([]dto.MetaformItem, error) {
	return nil, nil
}

func (m *metaformServiceMock) Delete(_ context.Context, id string) error {
	m.deleted = append(m.deleted, id)
	return nil
}

func (m *metaformServiceMock) CreateNotification(_ context.Context, form *models.Metaform, _ dto.NotificationRequest) (*dto.NotificationItem, error) {
	return &dto.NotificationItem{MetaformID: form.ID}, nil
}

func (m *metaformServiceMock) ListNotifications(_ context.Context, _ string) ([]dto.NotificationItem, error) {
	return nil, nil
}

func (m *metaformServiceMock) DeleteNotification(_ context.Context, _ string) error {
	return nil
}

type auditListerMock struct {
	limit int
}

func (m *auditListerMock) List(_ context.Context, _ string, limit int) ([]models.AuditLogEntry, error) {
	m.limit = limit
	return nil, nil
}

func TestMetaformHandlerCreate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	service := &metaformServiceMock{createItem: &dto.MetaformItem{ID: "mf-1", Slug: "survey"}}
	handler := NewMetaformHandler(service, &auditListerMock{})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	body, _ := json.Marshal(dto.MetaformRequest{
		Slug:   "survey",
		Title:  "Survey",
		Fields: []models.MetaformField{{Name: "name", Kind: models.FieldKindString}},
	})
	req, _ := http.NewRequest(http.MethodPost, "/metaforms", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req

	handler.Create(c)
	require.Equal(t, http.StatusCreated, w.Code)
}

func TestMetaformHandlerCreateInvalidBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewMetaformHandler(&metaformServiceMock{}, &auditListerMock{})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/metaforms", bytes.NewReader([]byte(`not json`)))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req

	handler.Create(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMetaformHandlerCreateConflict(t *testing.T) {
	gin.SetMode(gin.TestMode)
	service := &metaformServiceMock{createErr: appErrors.ErrConflict}
	handler := NewMetaformHandler(service, &auditListerMock{})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	body, _ := json.Marshal(dto.MetaformRequest{Slug: "survey", Title: "Survey"})
	req, _ := http.NewRequest(http.MethodPost, "/metaforms", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req

	handler.Create(c)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestMetaformHandlerCreateNotificationUnknownForm(t *testing.T) {
	gin.SetMode(gin.TestMode)
	service := &metaformServiceMock{getErr: appErrors.ErrNotFound}
	handler := NewMetaformHandler(service, &auditListerMock{})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	body, _ := json.Marshal(dto.NotificationRequest{SubjectTemplate: "s", ContentTemplate: "c"})
	req, _ := http.NewRequest(http.MethodPost, "/metaforms/ghost/notifications", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	c.Params = gin.Params{{Key: "id", Value: "ghost"}}

	handler.CreateNotification(c)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMetaformHandlerAuditLogDefaultsLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	auditLog := &auditListerMock{}
	handler := NewMetaformHandler(&metaformServiceMock{}, auditLog)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodGet, "/metaforms/mf-1/audit?limit=bogus", nil)
	c.Request = req
	c.Params = gin.Params{{Key: "id", Value: "mf-1"}}

	handler.AuditLog(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 100, auditLog.limit)
}
