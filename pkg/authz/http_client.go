package authz

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/formwave/metaform-api/pkg/config"
)

// HTTPClient implements Client against the service's REST admin API using
// client-credentials authentication.
type HTTPClient struct {
	baseURL      string
	realm        string
	clientID     string
	clientSecret string
	http         *http.Client
	logger       *zap.Logger

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// NewHTTPClient builds a client from configuration.
func NewHTTPClient(cfg config.AuthzConfig, logger *zap.Logger) *HTTPClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPClient{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		realm:        cfg.Realm,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		http:         &http.Client{Timeout: timeout},
		logger:       logger,
	}
}

type resourceRepresentation struct {
	ID     string   `json:"id,omitempty"`
	Name   string   `json:"name"`
	URI    string   `json:"uri"`
	Type   string   `json:"type"`
	Owner  string   `json:"owner,omitempty"`
	Scopes []string `json:"scopes"`
}

type permissionRepresentation struct {
	Name             string   `json:"name"`
	DecisionStrategy string   `json:"decisionStrategy"`
	Scopes           []string `json:"scopes"`
	Policies         []string `json:"policies"`
}

// CreateProtectedResource registers a new resource and returns its id.
func (c *HTTPClient) CreateProtectedResource(ctx context.Context, spec ResourceSpec) (string, error) {
	scopes := make([]string, len(spec.Scopes))
	for i, s := range spec.Scopes {
		scopes[i] = string(s)
	}
	payload := resourceRepresentation{
		Name:   spec.Name,
		URI:    spec.URI,
		Type:   spec.Type,
		Owner:  spec.OwnerID,
		Scopes: scopes,
	}
	var created resourceRepresentation
	if err := c.do(ctx, http.MethodPost, c.realmPath("resources"), payload, &created); err != nil {
		return "", fmt.Errorf("create protected resource: %w", err)
	}
	return created.ID, nil
}

// FindPolicyIDsByName resolves policy names to ids, preserving order.
// Unknown names are skipped.
func (c *HTTPClient) FindPolicyIDsByName(ctx context.Context, names []string) ([]string, error) {
	ids := make([]string, 0, len(names))
	for _, name := range names {
		var policies []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		}
		path := c.realmPath("policies") + "?name=" + url.QueryEscape(name)
		if err := c.do(ctx, http.MethodGet, path, nil, &policies); err != nil {
			return nil, fmt.Errorf("find policy %q: %w", name, err)
		}
		for _, policy := range policies {
			if policy.Name == name {
				ids = append(ids, policy.ID)
				break
			}
		}
	}
	return ids, nil
}

// UpsertScopePermission creates or replaces a scope-level permission on the
// resource. The policy set is replaced wholesale, which is what drops
// policies derived from stale field values.
func (c *HTTPClient) UpsertScopePermission(ctx context.Context, resourceID string, scopes []Scope, permissionName string, strategy DecisionStrategy, policyIDs []string) error {
	scopeNames := make([]string, len(scopes))
	for i, s := range scopes {
		scopeNames[i] = string(s)
	}
	payload := permissionRepresentation{
		Name:             permissionName,
		DecisionStrategy: string(strategy),
		Scopes:           scopeNames,
		Policies:         policyIDs,
	}
	path := c.realmPath("resources", resourceID, "permissions", permissionName)
	if err := c.do(ctx, http.MethodPut, path, payload, nil); err != nil {
		return fmt.Errorf("upsert scope permission %s: %w", permissionName, err)
	}
	return nil
}

// GetUsersWithScope returns ids of users currently holding any of the given
// scopes on the resource.
func (c *HTTPClient) GetUsersWithScope(ctx context.Context, resourceID string, scopes []Scope) ([]string, error) {
	query := url.Values{}
	for _, s := range scopes {
		query.Add("scope", string(s))
	}
	var users []struct {
		ID string `json:"id"`
	}
	path := c.realmPath("resources", resourceID, "users") + "?" + query.Encode()
	if err := c.do(ctx, http.MethodGet, path, nil, &users); err != nil {
		return nil, fmt.Errorf("get users with scope: %w", err)
	}
	ids := make([]string, 0, len(users))
	for _, user := range users {
		ids = append(ids, user.ID)
	}
	return ids, nil
}

// CreateGroup creates a named group.
func (c *HTTPClient) CreateGroup(ctx context.Context, name string) (*Group, error) {
	var group Group
	if err := c.do(ctx, http.MethodPost, c.realmPath("groups"), map[string]string{"name": name}, &group); err != nil {
		return nil, fmt.Errorf("create group %q: %w", name, err)
	}
	return &group, nil
}

// FindGroup looks a group up by exact name; nil when absent.
func (c *HTTPClient) FindGroup(ctx context.Context, name string) (*Group, error) {
	var groups []Group
	path := c.realmPath("groups") + "?name=" + url.QueryEscape(name)
	if err := c.do(ctx, http.MethodGet, path, nil, &groups); err != nil {
		return nil, fmt.Errorf("find group %q: %w", name, err)
	}
	for i := range groups {
		if groups[i].Name == name {
			return &groups[i], nil
		}
	}
	return nil, nil
}

// AddUserToGroup makes the user a member of the group. Idempotent on the
// service side.
func (c *HTTPClient) AddUserToGroup(ctx context.Context, groupID, userID string) error {
	path := c.realmPath("groups", groupID, "members", userID)
	if err := c.do(ctx, http.MethodPut, path, nil, nil); err != nil {
		return fmt.Errorf("add user to group: %w", err)
	}
	return nil
}

// RemoveUserFromGroup drops the user's membership.
func (c *HTTPClient) RemoveUserFromGroup(ctx context.Context, groupID, userID string) error {
	path := c.realmPath("groups", groupID, "members", userID)
	if err := c.do(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return fmt.Errorf("remove user from group: %w", err)
	}
	return nil
}

// DeleteResource removes a protected resource, e.g. when its reply is deleted.
func (c *HTTPClient) DeleteResource(ctx context.Context, resourceID string) error {
	if err := c.do(ctx, http.MethodDelete, c.realmPath("resources", resourceID), nil, nil); err != nil {
		return fmt.Errorf("delete resource: %w", err)
	}
	return nil
}

func (c *HTTPClient) realmPath(parts ...string) string {
	segments := append([]string{"realms", c.realm, "authz"}, parts...)
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}
	return "/" + strings.Join(segments, "/")
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) error {
	token, err := c.token(ctx)
	if err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// token returns a cached client-credentials access token, refreshing it a
// little before expiry.
func (c *HTTPClient) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" && time.Now().Before(c.tokenExpiry.Add(-30*time.Second)) {
		return c.accessToken, nil
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", c.clientID)
	form.Set("client_secret", c.clientSecret)

	endpoint := fmt.Sprintf("%s/realms/%s/protocol/openid-connect/token", c.baseURL, url.PathEscape(c.realm))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("request token: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("request token: status %d", resp.StatusCode)
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode token: %w", err)
	}

	c.accessToken = payload.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(payload.ExpiresIn) * time.Second)
	return c.accessToken, nil
}
