package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/formwave/metaform-api/internal/models"
	"github.com/formwave/metaform-api/pkg/authz"
	"github.com/formwave/metaform-api/pkg/config"
	appErrors "github.com/formwave/metaform-api/pkg/errors"
)

type fakeAuthzClient struct {
	policies map[string]string
	groups   map[string]*authz.Group
	members  map[string]map[string]bool
	removed  map[string][]string

	permissions map[string][]string

	createdResources []string
	deletedResources []string
	permittedUsers   []string

	failCreateResource bool
	failGetUsers       bool
}

func newFakeAuthzClient() *fakeAuthzClient {
	return &fakeAuthzClient{
		policies: map[string]string{
			"owner":              "policy-owner",
			"metaform-admin":     "policy-admin",
			"authenticated-user": "policy-user",
		},
		groups:      map[string]*authz.Group{},
		members:     map[string]map[string]bool{},
		removed:     map[string][]string{},
		permissions: map[string][]string{},
	}
}

func (c *fakeAuthzClient) CreateProtectedResource(_ context.Context, spec authz.ResourceSpec) (string, error) {
	if c.failCreateResource {
		return "", errors.New("upstream down")
	}
	id := fmt.Sprintf("resource-%d", len(c.createdResources)+1)
	c.createdResources = append(c.createdResources, spec.Name)
	return id, nil
}

func (c *fakeAuthzClient) FindPolicyIDsByName(_ context.Context, names []string) ([]string, error) {
	var ids []string
	for _, name := range names {
		if id, ok := c.policies[name]; ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (c *fakeAuthzClient) UpsertScopePermission(_ context.Context, _ string, _ []authz.Scope, permissionName string, _ authz.DecisionStrategy, policyIDs []string) error {
	c.permissions[permissionName] = policyIDs
	return nil
}

func (c *fakeAuthzClient) GetUsersWithScope(_ context.Context, _ string, _ []authz.Scope) ([]string, error) {
	if c.failGetUsers {
		return nil, errors.New("upstream down")
	}
	return c.permittedUsers, nil
}

func (c *fakeAuthzClient) CreateGroup(_ context.Context, name string) (*authz.Group, error) {
	group := &authz.Group{ID: "group-" + name, Name: name}
	c.groups[name] = group
	c.policies[name] = "policy-" + name
	return group, nil
}

func (c *fakeAuthzClient) FindGroup(_ context.Context, name string) (*authz.Group, error) {
	return c.groups[name], nil
}

func (c *fakeAuthzClient) AddUserToGroup(_ context.Context, groupID, userID string) error {
	if c.members[groupID] == nil {
		c.members[groupID] = map[string]bool{}
	}
	c.members[groupID][userID] = true
	return nil
}

func (c *fakeAuthzClient) RemoveUserFromGroup(_ context.Context, groupID, userID string) error {
	c.removed[groupID] = append(c.removed[groupID], userID)
	return nil
}

func (c *fakeAuthzClient) DeleteResource(_ context.Context, resourceID string) error {
	c.deletedResources = append(c.deletedResources, resourceID)
	return nil
}

type fakeSyncReplyStore struct {
	resourceIDs map[string]string
}

func (s *fakeSyncReplyStore) SetResourceID(_ context.Context, _ sqlx.ExtContext, id, resourceID string) error {
	if s.resourceIDs == nil {
		s.resourceIDs = map[string]string{}
	}
	s.resourceIDs[id] = resourceID
	return nil
}

func newSyncService(client authz.Client, store *fakeSyncReplyStore) *AuthzSyncService {
	return NewAuthzSyncService(client, store, nil, config.AuthzConfig{}, nil)
}

func TestAuthzSyncCreatesResourceAndPermissions(t *testing.T) {
	client := newFakeAuthzClient()
	store := &fakeSyncReplyStore{}
	svc := newSyncService(client, store)

	owner := "user-1"
	reply := &models.Reply{ID: "reply-1", OwnerID: &owner}
	form := contextForm()
	groups := map[authz.Scope][]string{
		authz.ScopeView: {"leave-request-department-sales"},
	}

	resourceID, err := svc.SyncReplyPermissions(context.Background(), nil, form, reply, groups, nil)
	require.NoError(t, err)
	assert.Equal(t, "resource-1", resourceID)
	assert.Equal(t, "resource-1", store.resourceIDs["reply-1"])
	require.NotNil(t, reply.ResourceID)

	viewPolicies := client.permissions["permission-reply-1-reply:view"]
	assert.ElementsMatch(t,
		[]string{"policy-owner", "policy-admin", "policy-leave-request-department-sales"},
		viewPolicies)
	editPolicies := client.permissions["permission-reply-1-reply:edit"]
	assert.ElementsMatch(t, []string{"policy-owner", "policy-admin"}, editPolicies)

	// the submitter joined the dynamic group derived from the current value
	assert.True(t, client.members["group-leave-request-department-sales"]["user-1"])
}

func TestAuthzSyncReusesExistingResource(t *testing.T) {
	client := newFakeAuthzClient()
	store := &fakeSyncReplyStore{}
	svc := newSyncService(client, store)

	owner := "user-1"
	resourceID := "resource-existing"
	reply := &models.Reply{ID: "reply-1", OwnerID: &owner, ResourceID: &resourceID}

	got, err := svc.SyncReplyPermissions(context.Background(), nil, contextForm(), reply, map[authz.Scope][]string{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "resource-existing", got)
	assert.Empty(t, client.createdResources)
	assert.Empty(t, store.resourceIDs)
}

func TestAuthzSyncRemovesStaleGroupMemberships(t *testing.T) {
	client := newFakeAuthzClient()
	client.groups["leave-request-department-ops"] = &authz.Group{ID: "group-ops", Name: "leave-request-department-ops"}
	svc := newSyncService(client, &fakeSyncReplyStore{})

	owner := "user-1"
	reply := &models.Reply{ID: "reply-1", OwnerID: &owner}
	groups := map[authz.Scope][]string{
		authz.ScopeView: {"leave-request-department-sales"},
	}

	_, err := svc.SyncReplyPermissions(context.Background(), nil, contextForm(), reply, groups,
		[]string{"leave-request-department-ops", "leave-request-department-sales"})
	require.NoError(t, err)

	assert.Equal(t, []string{"user-1"}, client.removed["group-ops"])
	assert.True(t, client.members["group-leave-request-department-sales"]["user-1"])
}

func TestAuthzSyncIsIdempotent(t *testing.T) {
	client := newFakeAuthzClient()
	store := &fakeSyncReplyStore{}
	svc := newSyncService(client, store)

	owner := "user-1"
	reply := &models.Reply{ID: "reply-1", OwnerID: &owner}
	form := contextForm()
	groups := map[authz.Scope][]string{
		authz.ScopeView:   {"leave-request-department-sales"},
		authz.ScopeNotify: {"leave-request-department-sales"},
	}

	first, err := svc.SyncReplyPermissions(context.Background(), nil, form, reply, groups, nil)
	require.NoError(t, err)

	snapshot := map[string][]string{}
	for name, policies := range client.permissions {
		snapshot[name] = append([]string(nil), policies...)
	}

	second, err := svc.SyncReplyPermissions(context.Background(), nil, form, reply, groups, AllGroupNames(groups))
	require.NoError(t, err)

	// same resource, same permission state, no duplicate resource creation
	assert.Equal(t, first, second)
	assert.Len(t, client.createdResources, 1)
	assert.Equal(t, snapshot, client.permissions)
	assert.Empty(t, client.removed)
}

func TestAuthzSyncDropsStaleGroupPolicies(t *testing.T) {
	client := newFakeAuthzClient()
	svc := newSyncService(client, &fakeSyncReplyStore{})

	owner := "user-1"
	reply := &models.Reply{ID: "reply-1", OwnerID: &owner}
	form := contextForm()

	v1 := map[authz.Scope][]string{
		authz.ScopeView: {"leave-request-department-ops"},
	}
	_, err := svc.SyncReplyPermissions(context.Background(), nil, form, reply, v1, nil)
	require.NoError(t, err)
	assert.Contains(t, client.permissions["permission-reply-1-reply:view"],
		"policy-leave-request-department-ops")

	v2 := map[authz.Scope][]string{
		authz.ScopeView: {"leave-request-department-sales"},
	}
	_, err = svc.SyncReplyPermissions(context.Background(), nil, form, reply, v2, AllGroupNames(v1))
	require.NoError(t, err)

	// replacement semantics: the old value's policy is gone, the new one is in
	viewPolicies := client.permissions["permission-reply-1-reply:view"]
	assert.NotContains(t, viewPolicies, "policy-leave-request-department-ops")
	assert.ElementsMatch(t,
		[]string{"policy-owner", "policy-admin", "policy-leave-request-department-sales"},
		viewPolicies)
}

func TestAuthzSyncAnonymousFormGrantsAuthenticatedView(t *testing.T) {
	client := newFakeAuthzClient()
	svc := newSyncService(client, &fakeSyncReplyStore{})

	form := contextForm()
	form.AllowAnonymous = true
	reply := &models.Reply{ID: "reply-1"}

	_, err := svc.SyncReplyPermissions(context.Background(), nil, form, reply, map[authz.Scope][]string{}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"policy-user"}, client.permissions["permission-reply-1-authenticated-view"])
}

func TestAuthzSyncResourceCreationFailureIsHardError(t *testing.T) {
	client := newFakeAuthzClient()
	client.failCreateResource = true
	svc := newSyncService(client, &fakeSyncReplyStore{})

	_, err := svc.SyncReplyPermissions(context.Background(), nil, contextForm(), &models.Reply{ID: "reply-1"}, map[authz.Scope][]string{}, nil)
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrResourceNotFound))
}

func TestAuthzSyncGetPermittedUsersFailsClosed(t *testing.T) {
	client := newFakeAuthzClient()
	client.failGetUsers = true
	svc := newSyncService(client, &fakeSyncReplyStore{})

	resourceID := "resource-1"
	users := svc.GetPermittedUsers(context.Background(), &models.Reply{ID: "reply-1", ResourceID: &resourceID}, authz.ScopeView)
	assert.Nil(t, users)
}

func TestAuthzSyncDeleteResource(t *testing.T) {
	client := newFakeAuthzClient()
	svc := newSyncService(client, &fakeSyncReplyStore{})

	svc.DeleteResource(context.Background(), &models.Reply{ID: "reply-1"})
	assert.Empty(t, client.deletedResources)

	resourceID := "resource-1"
	svc.DeleteResource(context.Background(), &models.Reply{ID: "reply-2", ResourceID: &resourceID})
	assert.Equal(t, []string{"resource-1"}, client.deletedResources)
}
