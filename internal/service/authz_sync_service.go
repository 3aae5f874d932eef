package service

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/formwave/metaform-api/internal/models"
	"github.com/formwave/metaform-api/pkg/authz"
	"github.com/formwave/metaform-api/pkg/config"
	appErrors "github.com/formwave/metaform-api/pkg/errors"
)

type authzSyncReplyStore interface {
	SetResourceID(ctx context.Context, ext sqlx.ExtContext, id, resourceID string) error
}

type authzSyncMetrics interface {
	ObserveAuthzSync(success bool)
}

// AuthzSyncService reconciles a reply's protected resource and its
// scope-level permissions against the external authorization service.
//
// Permissions are upserted with replacement semantics: the policy set of a
// scope permission is always computed fully from the current field values
// and written in one call, so policies derived from stale values drop out
// on the next sync.
type AuthzSyncService struct {
	client  authz.Client
	replies authzSyncReplyStore
	metrics authzSyncMetrics
	logger  *zap.Logger

	ownerPolicy string
	adminPolicy string
	userPolicy  string
}

// NewAuthzSyncService constructs the sync engine.
func NewAuthzSyncService(client authz.Client, replies authzSyncReplyStore, metrics authzSyncMetrics, cfg config.AuthzConfig, logger *zap.Logger) *AuthzSyncService {
	if logger == nil {
		logger = zap.NewNop()
	}
	ownerPolicy := cfg.OwnerPolicyName
	if ownerPolicy == "" {
		ownerPolicy = "owner"
	}
	adminPolicy := cfg.AdminPolicyName
	if adminPolicy == "" {
		adminPolicy = "metaform-admin"
	}
	userPolicy := cfg.UserPolicyName
	if userPolicy == "" {
		userPolicy = "authenticated-user"
	}
	return &AuthzSyncService{
		client:      client,
		replies:     replies,
		metrics:     metrics,
		logger:      logger,
		ownerPolicy: ownerPolicy,
		adminPolicy: adminPolicy,
		userPolicy:  userPolicy,
	}
}

// SyncReplyPermissions ensures the reply has a protected resource and
// upserts one scope permission per scope, unioning the static owner/admin
// policies with the policies of the dynamic groups derived from the current
// field values. previousGroups lists the dynamic group names derived from
// the values before this mutation, so the submitter's stale memberships can
// be dropped.
func (s *AuthzSyncService) SyncReplyPermissions(ctx context.Context, ext sqlx.ExtContext, form *models.Metaform, reply *models.Reply, groups map[authz.Scope][]string, previousGroups []string) (string, error) {
	resourceID, err := s.syncReplyPermissions(ctx, ext, form, reply, groups, previousGroups)
	if s.metrics != nil {
		s.metrics.ObserveAuthzSync(err == nil)
	}
	return resourceID, err
}

func (s *AuthzSyncService) syncReplyPermissions(ctx context.Context, ext sqlx.ExtContext, form *models.Metaform, reply *models.Reply, groups map[authz.Scope][]string, previousGroups []string) (string, error) {
	resourceID, err := s.ensureResource(ctx, ext, reply)
	if err != nil {
		return "", err
	}

	staticNames := []string{s.ownerPolicy, s.adminPolicy}
	staticIDs, err := s.client.FindPolicyIDsByName(ctx, staticNames)
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrAuthzUnavailable.Code, appErrors.ErrAuthzUnavailable.Status, "resolve static policies")
	}

	var userPolicyIDs []string
	if form.AllowAnonymous {
		userPolicyIDs, err = s.client.FindPolicyIDsByName(ctx, []string{s.userPolicy})
		if err != nil {
			return "", appErrors.Wrap(err, appErrors.ErrAuthzUnavailable.Code, appErrors.ErrAuthzUnavailable.Status, "resolve authenticated-user policy")
		}
	}

	if err := s.maintainMemberships(ctx, reply, groups, previousGroups); err != nil {
		return "", err
	}

	for _, scope := range authz.AllScopes() {
		dynamicIDs, err := s.resolveGroupPolicies(ctx, groups[scope])
		if err != nil {
			return "", err
		}
		policyIDs := unionPolicyIDs(staticIDs, dynamicIDs)
		permissionName := scopePermissionName(reply.ID, scope)
		if err := s.client.UpsertScopePermission(ctx, resourceID, []authz.Scope{scope}, permissionName, authz.DecisionAffirmative, policyIDs); err != nil {
			return "", appErrors.Wrap(err, appErrors.ErrAuthzUnavailable.Code, appErrors.ErrAuthzUnavailable.Status, fmt.Sprintf("upsert %s permission", scope))
		}
	}

	if form.AllowAnonymous && len(userPolicyIDs) > 0 {
		permissionName := fmt.Sprintf("permission-%s-authenticated-view", reply.ID)
		if err := s.client.UpsertScopePermission(ctx, resourceID, []authz.Scope{authz.ScopeView}, permissionName, authz.DecisionAffirmative, userPolicyIDs); err != nil {
			return "", appErrors.Wrap(err, appErrors.ErrAuthzUnavailable.Code, appErrors.ErrAuthzUnavailable.Status, "upsert authenticated view permission")
		}
	}

	return resourceID, nil
}

// GetPermittedUsers lists identities holding the scope on the reply's
// resource. Authorization service failures degrade to an empty result so
// visibility and notification fan-out fail closed.
func (s *AuthzSyncService) GetPermittedUsers(ctx context.Context, reply *models.Reply, scope authz.Scope) []string {
	if reply.ResourceID == nil {
		return nil
	}
	users, err := s.client.GetUsersWithScope(ctx, *reply.ResourceID, []authz.Scope{scope})
	if err != nil {
		s.logger.Warn("permitted user lookup failed, treating as empty",
			zap.String("reply_id", reply.ID), zap.String("scope", string(scope)), zap.Error(err))
		return nil
	}
	return users
}

// DeleteResource removes the reply's protected resource when the reply is
// deleted. Failures are logged, not propagated: the reply is already gone.
func (s *AuthzSyncService) DeleteResource(ctx context.Context, reply *models.Reply) {
	if reply.ResourceID == nil {
		return
	}
	if err := s.client.DeleteResource(ctx, *reply.ResourceID); err != nil {
		s.logger.Warn("protected resource deletion failed",
			zap.String("reply_id", reply.ID), zap.String("resource_id", *reply.ResourceID), zap.Error(err))
	}
}

// ensureResource lazily creates the protected resource and persists its
// reference on the reply. A creation failure is a hard error: no reply
// mutation is complete without its resource.
func (s *AuthzSyncService) ensureResource(ctx context.Context, ext sqlx.ExtContext, reply *models.Reply) (string, error) {
	if reply.ResourceID != nil {
		return *reply.ResourceID, nil
	}

	owner := ""
	if reply.OwnerID != nil {
		owner = *reply.OwnerID
	}
	spec := authz.ResourceSpec{
		OwnerID: owner,
		Name:    fmt.Sprintf("reply-%s", reply.ID),
		URI:     fmt.Sprintf("/v1/replies/%s", reply.ID),
		Type:    "urn:metaform:resources:reply",
		Scopes:  authz.AllScopes(),
	}
	resourceID, err := s.client.CreateProtectedResource(ctx, spec)
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrResourceNotFound.Code, appErrors.ErrResourceNotFound.Status, "create protected resource")
	}
	if err := s.replies.SetResourceID(ctx, ext, reply.ID, resourceID); err != nil {
		return "", err
	}
	reply.ResourceID = &resourceID
	return resourceID, nil
}

// resolveGroupPolicies makes sure every dynamic group exists and resolves
// the group-named policies to ids.
func (s *AuthzSyncService) resolveGroupPolicies(ctx context.Context, groupNames []string) ([]string, error) {
	if len(groupNames) == 0 {
		return nil, nil
	}
	for _, name := range groupNames {
		group, err := s.client.FindGroup(ctx, name)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrAuthzUnavailable.Code, appErrors.ErrAuthzUnavailable.Status, "find group")
		}
		if group == nil {
			if _, err := s.client.CreateGroup(ctx, name); err != nil {
				return nil, appErrors.Wrap(err, appErrors.ErrAuthzUnavailable.Code, appErrors.ErrAuthzUnavailable.Status, "create group")
			}
		}
	}
	ids, err := s.client.FindPolicyIDsByName(ctx, groupNames)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrAuthzUnavailable.Code, appErrors.ErrAuthzUnavailable.Status, "resolve group policies")
	}
	return ids, nil
}

// maintainMemberships keeps the submitter's dynamic group memberships in
// step with the current values: joined for every current group, removed
// from groups derived from prior values that no longer apply.
func (s *AuthzSyncService) maintainMemberships(ctx context.Context, reply *models.Reply, groups map[authz.Scope][]string, previousGroups []string) error {
	if reply.OwnerID == nil {
		return nil
	}
	current := make(map[string]struct{})
	for _, scope := range authz.AllScopes() {
		for _, name := range groups[scope] {
			current[name] = struct{}{}
		}
	}

	for _, name := range previousGroups {
		if _, still := current[name]; still {
			continue
		}
		group, err := s.client.FindGroup(ctx, name)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrAuthzUnavailable.Code, appErrors.ErrAuthzUnavailable.Status, "find stale group")
		}
		if group == nil {
			continue
		}
		if err := s.client.RemoveUserFromGroup(ctx, group.ID, *reply.OwnerID); err != nil {
			return appErrors.Wrap(err, appErrors.ErrAuthzUnavailable.Code, appErrors.ErrAuthzUnavailable.Status, "remove stale group membership")
		}
	}

	for name := range current {
		group, err := s.client.FindGroup(ctx, name)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrAuthzUnavailable.Code, appErrors.ErrAuthzUnavailable.Status, "find group")
		}
		if group == nil {
			if group, err = s.client.CreateGroup(ctx, name); err != nil {
				return appErrors.Wrap(err, appErrors.ErrAuthzUnavailable.Code, appErrors.ErrAuthzUnavailable.Status, "create group")
			}
		}
		if err := s.client.AddUserToGroup(ctx, group.ID, *reply.OwnerID); err != nil {
			return appErrors.Wrap(err, appErrors.ErrAuthzUnavailable.Code, appErrors.ErrAuthzUnavailable.Status, "add group membership")
		}
	}
	return nil
}

func scopePermissionName(replyID string, scope authz.Scope) string {
	return fmt.Sprintf("permission-%s-%s", replyID, scope)
}

func unionPolicyIDs(static, dynamic []string) []string {
	seen := make(map[string]struct{}, len(static)+len(dynamic))
	union := make([]string, 0, len(static)+len(dynamic))
	for _, id := range append(append([]string{}, static...), dynamic...) {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		union = append(union, id)
	}
	return union
}
