package service

import (
	"fmt"

	"github.com/formwave/metaform-api/internal/models"
	"github.com/formwave/metaform-api/pkg/authz"
)

// PermissionContextExtractor derives, per access scope, the access-control
// groups a reply should belong to from the values the user submitted.
type PermissionContextExtractor struct{}

// NewPermissionContextExtractor constructs an extractor.
func NewPermissionContextExtractor() *PermissionContextExtractor {
	return &PermissionContextExtractor{}
}

// GroupName builds the deterministic dynamic group name for a permission
// context field and its submitted value.
func GroupName(formSlug, fieldName, value string) string {
	return fmt.Sprintf("%s-%s-%s", formSlug, fieldName, value)
}

// ComputeGroups walks the form's fields in declaration order and collects,
// per scope, the group names derived from permission-context fields whose
// submitted value is a plain string. Other value shapes contribute nothing.
// Duplicates are kept; they collapse when merged with static policies during
// sync.
func (e *PermissionContextExtractor) ComputeGroups(form *models.Metaform, values map[string]any) map[authz.Scope][]string {
	groups := map[authz.Scope][]string{
		authz.ScopeView:   nil,
		authz.ScopeEdit:   nil,
		authz.ScopeNotify: nil,
	}
	for _, field := range form.Fields {
		if !field.PermissionContexts.Any() {
			continue
		}
		raw, present := values[field.Name]
		if !present {
			continue
		}
		value, ok := raw.(string)
		if !ok || value == "" {
			continue
		}
		name := GroupName(form.Slug, field.Name, value)
		if field.PermissionContexts.View {
			groups[authz.ScopeView] = append(groups[authz.ScopeView], name)
		}
		if field.PermissionContexts.Edit {
			groups[authz.ScopeEdit] = append(groups[authz.ScopeEdit], name)
		}
		if field.PermissionContexts.Notify {
			groups[authz.ScopeNotify] = append(groups[authz.ScopeNotify], name)
		}
	}
	return groups
}

// AllGroupNames flattens the per-scope map into a de-duplicated list, used
// for group membership maintenance.
func AllGroupNames(groups map[authz.Scope][]string) []string {
	seen := make(map[string]struct{})
	var names []string
	for _, scope := range authz.AllScopes() {
		for _, name := range groups[scope] {
			if _, dup := seen[name]; dup {
				continue
			}
			seen[name] = struct{}{}
			names = append(names, name)
		}
	}
	return names
}
