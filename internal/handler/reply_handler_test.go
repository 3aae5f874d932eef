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
	"github.com/formwave/metaform-api/internal/middleware"
	"github.com/formwave/metaform-api/internal/models"
	appErrors "github.com/formwave/metaform-api/pkg/errors"
)

type replyServiceMock struct {
	submitItem   *dto.ReplyItem
	submitErr    error
	getErr       error
	lastActor    *models.JWTClaims
	lastQuery    dto.ListRepliesQuery
	lastOwnerKey string
}

func (m *replyServiceMock) Submit(_ context.Context, _ *models.Metaform, _ dto.ReplyRequest, actor *models.JWTClaims) (*dto.ReplyItem, error) {
	m.lastActor = actor
	return m.submitItem, m.submitErr
}

func (m *replyServiceMock) Get(_ context.Context, _ *models.Metaform, replyID, ownerKey string, actor *models.JWTClaims) (*dto.ReplyItem, error) {
	m.lastOwnerKey = ownerKey
	m.lastActor = actor
	if m.getErr != nil {
		return nil, m.getErr
	}
	return &dto.ReplyItem{ID: replyID}, nil
}

func (m *replyServiceMock) List(_ context.Context, _ *models.Metaform, query dto.ListRepliesQuery, _ *models.JWTClaims) ([]dto.ReplyItem, *models.Pagination, error) {
	m.lastQuery = query
	return nil, &models.Pagination{Page: query.Page, PageSize: query.PageSize}, nil
}

func (m *replyServiceMock) Delete(_ context.Context, _ *models.Metaform, _ string, _ *models.JWTClaims) error {
	return nil
}

type formResolverMock struct {
	form *models.Metaform
	err  error
}

func (m *formResolverMock) Get(_ context.Context, _ string) (*models.Metaform, error) {
	return m.form, m.err
}

func TestReplyHandlerSubmit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	service := &replyServiceMock{submitItem: &dto.ReplyItem{ID: "reply-1"}}
	handler := NewReplyHandler(service, &formResolverMock{form: &models.Metaform{ID: "mf-1"}})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	body, _ := json.Marshal(dto.ReplyRequest{Values: map[string]any{"name": "Ada"}})
	req, _ := http.NewRequest(http.MethodPost, "/metaforms/mf-1/replies", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	c.Params = gin.Params{{Key: "id", Value: "mf-1"}}
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "user-1"})

	handler.Submit(c)
	require.Equal(t, http.StatusCreated, w.Code)
	require.NotNil(t, service.lastActor)
	assert.Equal(t, "user-1", service.lastActor.UserID)
}

func TestReplyHandlerSubmitAnonymous(t *testing.T) {
	gin.SetMode(gin.TestMode)
	service := &replyServiceMock{submitItem: &dto.ReplyItem{ID: "reply-1"}}
	handler := NewReplyHandler(service, &formResolverMock{form: &models.Metaform{ID: "mf-1", AllowAnonymous: true}})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	body, _ := json.Marshal(dto.ReplyRequest{Values: map[string]any{}})
	req, _ := http.NewRequest(http.MethodPost, "/metaforms/mf-1/replies", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	c.Params = gin.Params{{Key: "id", Value: "mf-1"}}

	handler.Submit(c)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Nil(t, service.lastActor)
}

func TestReplyHandlerSubmitUnknownForm(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewReplyHandler(&replyServiceMock{}, &formResolverMock{err: appErrors.ErrNotFound})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/metaforms/ghost/replies", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	c.Params = gin.Params{{Key: "id", Value: "ghost"}}

	handler.Submit(c)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestReplyHandlerSubmitInvalidFieldValue(t *testing.T) {
	gin.SetMode(gin.TestMode)
	service := &replyServiceMock{submitErr: appErrors.ErrInvalidFieldValue}
	handler := NewReplyHandler(service, &formResolverMock{form: &models.Metaform{ID: "mf-1"}})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	body, _ := json.Marshal(dto.ReplyRequest{Values: map[string]any{"score": "x"}})
	req, _ := http.NewRequest(http.MethodPost, "/metaforms/mf-1/replies", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	c.Params = gin.Params{{Key: "id", Value: "mf-1"}}
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "user-1"})

	handler.Submit(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReplyHandlerGetForwardsOwnerKey(t *testing.T) {
	gin.SetMode(gin.TestMode)
	service := &replyServiceMock{}
	handler := NewReplyHandler(service, &formResolverMock{form: &models.Metaform{ID: "mf-1", AllowAnonymous: true}})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodGet, "/metaforms/mf-1/replies/reply-1?ownerKey=abc123", nil)
	c.Request = req
	c.Params = gin.Params{{Key: "id", Value: "mf-1"}, {Key: "replyId", Value: "reply-1"}}

	handler.Get(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "abc123", service.lastOwnerKey)
	assert.Nil(t, service.lastActor)
}

func TestReplyHandlerListBindsQuery(t *testing.T) {
	gin.SetMode(gin.TestMode)
	service := &replyServiceMock{}
	handler := NewReplyHandler(service, &formResolverMock{form: &models.Metaform{ID: "mf-1"}})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodGet, "/metaforms/mf-1/replies?fields=dept:sales&page=2&pageSize=5", nil)
	c.Request = req
	c.Params = gin.Params{{Key: "id", Value: "mf-1"}}
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "user-1"})

	handler.List(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"dept:sales"}, service.lastQuery.Fields)
	assert.Equal(t, 2, service.lastQuery.Page)
	assert.Equal(t, 5, service.lastQuery.PageSize)
	assert.True(t, service.lastQuery.ActiveOnly)
}
