// Package authz talks to the external identity-and-authorization service
// that stores protected resources, policies, groups and scope permissions.
package authz

import "context"

// Scope is a named capability on a protected resource.
type Scope string

const (
	ScopeView   Scope = "reply:view"
	ScopeEdit   Scope = "reply:edit"
	ScopeNotify Scope = "reply:notify"
)

// AllScopes lists every scope a reply resource declares.
func AllScopes() []Scope {
	return []Scope{ScopeView, ScopeEdit, ScopeNotify}
}

// DecisionStrategy tells how a permission combines its attached policies.
type DecisionStrategy string

// DecisionAffirmative grants access if any one attached policy permits.
const DecisionAffirmative DecisionStrategy = "AFFIRMATIVE"

// ResourceSpec describes a protected resource to create.
type ResourceSpec struct {
	OwnerID string
	Name    string
	URI     string
	Type    string
	Scopes  []Scope
}

// Group is an access-control group on the authorization service.
type Group struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Client is the capability contract against the external service. All
// methods are synchronous and bounded by the client's request timeout.
type Client interface {
	CreateProtectedResource(ctx context.Context, spec ResourceSpec) (string, error)
	FindPolicyIDsByName(ctx context.Context, names []string) ([]string, error)
	UpsertScopePermission(ctx context.Context, resourceID string, scopes []Scope, permissionName string, strategy DecisionStrategy, policyIDs []string) error
	GetUsersWithScope(ctx context.Context, resourceID string, scopes []Scope) ([]string, error)
	CreateGroup(ctx context.Context, name string) (*Group, error)
	FindGroup(ctx context.Context, name string) (*Group, error)
	AddUserToGroup(ctx context.Context, groupID, userID string) error
	RemoveUserFromGroup(ctx context.Context, groupID, userID string) error
	DeleteResource(ctx context.Context, resourceID string) error
}
