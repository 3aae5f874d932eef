package service

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/formwave/metaform-api/internal/models"
	"github.com/formwave/metaform-api/pkg/authz"
	"github.com/formwave/metaform-api/pkg/config"
	"github.com/formwave/metaform-api/pkg/jobs"
)

type stubNotificationStore struct {
	notifications []models.EmailNotification
	notified      []string
	marked        []string
}

func (s *stubNotificationStore) ListByMetaform(_ context.Context, _ string) ([]models.EmailNotification, error) {
	return s.notifications, nil
}

func (s *stubNotificationStore) NotifiedRecipients(_ context.Context, _ sqlx.ExtContext, _ string) ([]string, error) {
	return s.notified, nil
}

func (s *stubNotificationStore) MarkNotified(_ context.Context, _ sqlx.ExtContext, _, recipient string) error {
	s.marked = append(s.marked, recipient)
	return nil
}

type stubPermittedSource struct {
	users []string
}

func (s *stubPermittedSource) GetPermittedUsers(_ context.Context, _ *models.Reply, _ authz.Scope) []string {
	return s.users
}

func newNotificationService(store *stubNotificationStore, permitted *stubPermittedSource, static []string) *NotificationService {
	resolver := NewFieldResolver(&stubValueStore{values: map[string]models.FieldValue{
		"status": models.StringValue("approved"),
	}}, nil)
	return NewNotificationService(store, resolver, permitted,
		config.NotificationsConfig{StaticRecipients: static}, nil)
}

func strPtr(s string) *string { return &s }

func TestEvaluateRuleLeafComparisons(t *testing.T) {
	svc := newNotificationService(&stubNotificationStore{}, &stubPermittedSource{}, nil)
	values := map[string]any{"status": "approved", "count": 2.0}

	assert.True(t, svc.EvaluateRule(nil, values))
	assert.True(t, svc.EvaluateRule(&models.NotificationRule{Field: "status", Equals: strPtr("approved")}, values))
	assert.False(t, svc.EvaluateRule(&models.NotificationRule{Field: "status", Equals: strPtr("rejected")}, values))
	assert.False(t, svc.EvaluateRule(&models.NotificationRule{Field: "status", NotEquals: strPtr("approved")}, values))
	assert.True(t, svc.EvaluateRule(&models.NotificationRule{Field: "count", Equals: strPtr("2")}, values))
	// missing field stringifies to "" and never equals a concrete operand
	assert.False(t, svc.EvaluateRule(&models.NotificationRule{Field: "ghost", Equals: strPtr("x")}, values))
}

func TestEvaluateRuleComposites(t *testing.T) {
	svc := newNotificationService(&stubNotificationStore{}, &stubPermittedSource{}, nil)
	values := map[string]any{"status": "approved", "level": "high"}

	and := &models.NotificationRule{And: []models.NotificationRule{
		{Field: "status", Equals: strPtr("approved")},
		{Field: "level", Equals: strPtr("high")},
	}}
	assert.True(t, svc.EvaluateRule(and, values))

	and.And[1].Equals = strPtr("low")
	assert.False(t, svc.EvaluateRule(and, values))

	or := &models.NotificationRule{Or: []models.NotificationRule{
		{Field: "status", Equals: strPtr("rejected")},
		{Field: "level", Equals: strPtr("high")},
	}}
	assert.True(t, svc.EvaluateRule(or, values))

	or.Or[1].Equals = strPtr("low")
	assert.False(t, svc.EvaluateRule(or, values))
}

func TestStageReplyNotificationsUnionsRecipients(t *testing.T) {
	store := &stubNotificationStore{notifications: []models.EmailNotification{{
		ID:              "notif-1",
		MetaformID:      "mf-1",
		SubjectTemplate: "New reply",
		ContentTemplate: "A reply arrived",
		Recipients:      json.RawMessage(`["fixed@example.com","holder-1"]`),
	}}}
	permitted := &stubPermittedSource{users: []string{"holder-1", "holder-2"}}
	svc := newNotificationService(store, permitted, []string{"ops@example.com"})

	outbox := jobs.NewOutbox()
	form := surveyForm()
	reply := &models.Reply{ID: "reply-1"}

	err := svc.StageReplyNotifications(context.Background(), nil, form, reply, true, outbox)
	require.NoError(t, err)

	// fixed address, static address and both scope holders, holder-1 only once
	assert.Equal(t, 4, outbox.Len())
	assert.ElementsMatch(t, []string{"fixed@example.com", "ops@example.com", "holder-1", "holder-2"}, store.marked)
}

func TestStageReplyNotificationsSkipsAlreadyNotified(t *testing.T) {
	store := &stubNotificationStore{
		notifications: []models.EmailNotification{{
			ID:              "notif-1",
			SubjectTemplate: "Updated",
			ContentTemplate: "A reply changed",
		}},
		notified: []string{"holder-1"},
	}
	permitted := &stubPermittedSource{users: []string{"holder-1", "holder-2"}}
	svc := newNotificationService(store, permitted, nil)

	outbox := jobs.NewOutbox()
	err := svc.StageReplyNotifications(context.Background(), nil, surveyForm(), &models.Reply{ID: "reply-1"}, false, outbox)
	require.NoError(t, err)

	assert.Equal(t, 1, outbox.Len())
	assert.Equal(t, []string{"holder-2"}, store.marked)
}

func TestStageReplyNotificationsRuleGatesDelivery(t *testing.T) {
	store := &stubNotificationStore{notifications: []models.EmailNotification{{
		ID:       "notif-1",
		RuleJSON: json.RawMessage(`{"field":"status","equals":"rejected"}`),
	}}}
	permitted := &stubPermittedSource{users: []string{"holder-1"}}
	svc := newNotificationService(store, permitted, nil)

	outbox := jobs.NewOutbox()
	err := svc.StageReplyNotifications(context.Background(), nil, surveyForm(), &models.Reply{ID: "reply-1"}, true, outbox)
	require.NoError(t, err)
	assert.Equal(t, 0, outbox.Len())
	assert.Empty(t, store.marked)
}

func TestStageReplyNotificationsSkipsMalformedRule(t *testing.T) {
	store := &stubNotificationStore{notifications: []models.EmailNotification{
		{ID: "broken", RuleJSON: json.RawMessage(`{"field":`)},
		{ID: "good", SubjectTemplate: "ok", Recipients: json.RawMessage(`["a@example.com"]`)},
	}}
	svc := newNotificationService(store, &stubPermittedSource{}, nil)

	outbox := jobs.NewOutbox()
	err := svc.StageReplyNotifications(context.Background(), nil, surveyForm(), &models.Reply{ID: "reply-1"}, true, outbox)
	require.NoError(t, err)
	assert.Equal(t, 1, outbox.Len())
	assert.Equal(t, []string{"a@example.com"}, store.marked)
}

func TestStageReplyNotificationsStaticOnlyCreation(t *testing.T) {
	store := &stubNotificationStore{}
	svc := newNotificationService(store, &stubPermittedSource{}, []string{"ops@example.com"})

	outbox := jobs.NewOutbox()
	err := svc.StageReplyNotifications(context.Background(), nil, surveyForm(), &models.Reply{ID: "reply-1"}, true, outbox)
	require.NoError(t, err)
	// no configured notifications means nothing to send even with static recipients
	assert.Equal(t, 0, outbox.Len())
}
