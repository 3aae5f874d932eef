package service

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/formwave/metaform-api/internal/dto"
	"github.com/formwave/metaform-api/internal/models"
	appErrors "github.com/formwave/metaform-api/pkg/errors"
)

type stubMetaformStore struct {
	bySlug  map[string]*models.Metaform
	byID    map[string]*models.Metaform
	created []*models.Metaform
	updated []*models.Metaform
	deleted []string
}

func (s *stubMetaformStore) FindByID(_ context.Context, id string) (*models.Metaform, error) {
	return s.byID[id], nil
}

func (s *stubMetaformStore) FindBySlug(_ context.Context, slug string) (*models.Metaform, error) {
	return s.bySlug[slug], nil
}

func (s *stubMetaformStore) List(_ context.Context) ([]models.Metaform, error) {
	var forms []models.Metaform
	for _, form := range s.byID {
		forms = append(forms, *form)
	}
	return forms, nil
}

func (s *stubMetaformStore) Create(_ context.Context, form *models.Metaform) error {
	s.created = append(s.created, form)
	return nil
}

func (s *stubMetaformStore) Update(_ context.Context, form *models.Metaform) error {
	s.updated = append(s.updated, form)
	return nil
}

func (s *stubMetaformStore) Delete(_ context.Context, _ sqlx.ExtContext, id string) error {
	s.deleted = append(s.deleted, id)
	return nil
}

type stubNotificationConfigStore struct {
	notifications []models.EmailNotification
	created       []*models.EmailNotification
	deleted       []string
	purged        []string
}

func (s *stubNotificationConfigStore) ListByMetaform(_ context.Context, _ string) ([]models.EmailNotification, error) {
	return s.notifications, nil
}

func (s *stubNotificationConfigStore) Create(_ context.Context, notification *models.EmailNotification) error {
	s.created = append(s.created, notification)
	return nil
}

func (s *stubNotificationConfigStore) Delete(_ context.Context, id string) error {
	s.deleted = append(s.deleted, id)
	return nil
}

func (s *stubNotificationConfigStore) DeleteByMetaform(_ context.Context, _ sqlx.ExtContext, metaformID string) error {
	s.purged = append(s.purged, metaformID)
	return nil
}

type stubMetaformReplyStore struct {
	replies []models.Reply
	deleted []string
}

func (s *stubMetaformReplyStore) InTx(_ context.Context, fn func(tx *sqlx.Tx) error) error {
	return fn(nil)
}

func (s *stubMetaformReplyStore) List(_ context.Context, _ sqlx.ExtContext, _ models.ReplyFilter) ([]models.Reply, int, error) {
	return s.replies, len(s.replies), nil
}

func (s *stubMetaformReplyStore) Delete(_ context.Context, _ sqlx.ExtContext, id string) error {
	s.deleted = append(s.deleted, id)
	return nil
}

type stubAuditPurger struct {
	purged []string
}

func (s *stubAuditPurger) DeleteByMetaform(_ context.Context, _ sqlx.ExtContext, metaformID string) error {
	s.purged = append(s.purged, metaformID)
	return nil
}

type metaformServiceFixture struct {
	svc           *MetaformService
	forms         *stubMetaformStore
	notifications *stubNotificationConfigStore
	replies       *stubMetaformReplyStore
	fields        *stubFieldStore
	auditLog      *stubAuditPurger
	syncer        *stubSyncer
}

func newMetaformServiceFixture() *metaformServiceFixture {
	fixture := &metaformServiceFixture{
		forms:         &stubMetaformStore{bySlug: map[string]*models.Metaform{}, byID: map[string]*models.Metaform{}},
		notifications: &stubNotificationConfigStore{},
		replies:       &stubMetaformReplyStore{},
		fields:        &stubFieldStore{values: &stubValueStore{}},
		auditLog:      &stubAuditPurger{},
		syncer:        &stubSyncer{},
	}
	fixture.svc = NewMetaformService(
		fixture.forms, fixture.notifications, fixture.replies, fixture.fields,
		fixture.auditLog, fixture.syncer, nil, nil)
	return fixture
}

func validFormRequest() dto.MetaformRequest {
	return dto.MetaformRequest{
		Slug:  "survey",
		Title: "Survey",
		Fields: []models.MetaformField{
			{Name: "name", Kind: models.FieldKindString},
		},
	}
}

func TestMetaformCreate(t *testing.T) {
	fixture := newMetaformServiceFixture()

	item, err := fixture.svc.Create(context.Background(), validFormRequest())
	require.NoError(t, err)
	assert.Equal(t, "survey", item.Slug)
	assert.Equal(t, string(models.ReplyModeUpdate), item.ReplyMode)
	require.Len(t, fixture.forms.created, 1)
}

func TestMetaformCreateRejectsMissingTitle(t *testing.T) {
	fixture := newMetaformServiceFixture()

	req := validFormRequest()
	req.Title = ""
	_, err := fixture.svc.Create(context.Background(), req)
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrValidation))
}

func TestMetaformCreateSlugConflict(t *testing.T) {
	fixture := newMetaformServiceFixture()
	fixture.forms.bySlug["survey"] = &models.Metaform{ID: "mf-1", Slug: "survey"}

	_, err := fixture.svc.Create(context.Background(), validFormRequest())
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrConflict))
}

func TestMetaformFieldValidation(t *testing.T) {
	fixture := newMetaformServiceFixture()

	cases := []struct {
		name   string
		fields []models.MetaformField
	}{
		{"duplicate names", []models.MetaformField{
			{Name: "a", Kind: models.FieldKindString},
			{Name: "a", Kind: models.FieldKindNumber},
		}},
		{"unknown kind", []models.MetaformField{
			{Name: "a", Kind: models.FieldKind("blob")},
		}},
		{"table without columns", []models.MetaformField{
			{Name: "a", Kind: models.FieldKindTable},
		}},
		{"table with bad column type", []models.MetaformField{
			{Name: "a", Kind: models.FieldKindTable, Columns: []models.TableColumn{{Name: "c", Type: "date"}}},
		}},
		{"meta field with permission context", []models.MetaformField{
			{Name: "a", Kind: models.FieldKindCreated,
				PermissionContexts: models.PermissionContexts{View: true}},
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := validFormRequest()
			req.Fields = tc.fields
			_, err := fixture.svc.Create(context.Background(), req)
			require.Error(t, err)
			assert.True(t, appErrors.HasCode(err, appErrors.ErrValidation))
		})
	}
}

func TestMetaformUpdateSlugConflictOnlyWhenChanged(t *testing.T) {
	fixture := newMetaformServiceFixture()
	form := &models.Metaform{ID: "mf-1", Slug: "survey"}
	fixture.forms.byID["mf-1"] = form
	fixture.forms.bySlug["survey"] = form
	fixture.forms.bySlug["taken"] = &models.Metaform{ID: "mf-2", Slug: "taken"}

	// same slug passes even though it resolves to the form itself
	_, err := fixture.svc.Update(context.Background(), "mf-1", validFormRequest())
	require.NoError(t, err)

	req := validFormRequest()
	req.Slug = "taken"
	_, err = fixture.svc.Update(context.Background(), "mf-1", req)
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrConflict))
}

func TestMetaformDeleteCascades(t *testing.T) {
	fixture := newMetaformServiceFixture()
	fixture.forms.byID["mf-1"] = &models.Metaform{ID: "mf-1", Slug: "survey"}
	fixture.replies.replies = []models.Reply{{ID: "reply-1"}, {ID: "reply-2"}}

	require.NoError(t, fixture.svc.Delete(context.Background(), "mf-1"))

	assert.Equal(t, []string{"reply-1", "reply-2"}, fixture.fields.cleared)
	assert.Equal(t, []string{"reply-1", "reply-2"}, fixture.replies.deleted)
	assert.Equal(t, []string{"mf-1"}, fixture.notifications.purged)
	assert.Equal(t, []string{"mf-1"}, fixture.auditLog.purged)
	assert.Equal(t, []string{"mf-1"}, fixture.forms.deleted)
	assert.Equal(t, []string{"reply-1", "reply-2"}, fixture.syncer.deleted)
}

func TestMetaformCreateNotification(t *testing.T) {
	fixture := newMetaformServiceFixture()
	form := contextForm()

	item, err := fixture.svc.CreateNotification(context.Background(), form, dto.NotificationRequest{
		SubjectTemplate: "New reply",
		ContentTemplate: "A reply arrived",
		Recipients:      []string{"ops@example.com"},
		Rule:            json.RawMessage(`{"field":"department","equals":"sales"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, form.ID, item.MetaformID)
	assert.Equal(t, []string{"ops@example.com"}, item.Recipients)
	require.Len(t, fixture.notifications.created, 1)
}

func TestMetaformCreateNotificationRejectsMalformedRule(t *testing.T) {
	fixture := newMetaformServiceFixture()
	form := contextForm()

	_, err := fixture.svc.CreateNotification(context.Background(), form, dto.NotificationRequest{
		SubjectTemplate: "New reply",
		ContentTemplate: "A reply arrived",
		Rule:            json.RawMessage(`{"field":`),
	})
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrMalformedRule))
}

func TestMetaformCreateNotificationRejectsUnknownRuleField(t *testing.T) {
	fixture := newMetaformServiceFixture()
	form := contextForm()

	_, err := fixture.svc.CreateNotification(context.Background(), form, dto.NotificationRequest{
		SubjectTemplate: "New reply",
		ContentTemplate: "A reply arrived",
		Rule:            json.RawMessage(`{"or":[{"field":"ghost","equals":"x"}]}`),
	})
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrMalformedRule))
}

func TestMetaformCreateNotificationRejectsBadEmail(t *testing.T) {
	fixture := newMetaformServiceFixture()

	_, err := fixture.svc.CreateNotification(context.Background(), contextForm(), dto.NotificationRequest{
		SubjectTemplate: "New reply",
		ContentTemplate: "A reply arrived",
		Recipients:      []string{"not-an-email"},
	})
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrValidation))
}

func TestReplyModeOrDefault(t *testing.T) {
	assert.Equal(t, models.ReplyModeUpdate, replyModeOrDefault(""))
	assert.Equal(t, models.ReplyModeUpdate, replyModeOrDefault("bogus"))
	assert.Equal(t, models.ReplyModeRevision, replyModeOrDefault("REVISION"))
	assert.Equal(t, models.ReplyModeCumulative, replyModeOrDefault("CUMULATIVE"))
}
