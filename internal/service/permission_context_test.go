package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/formwave/metaform-api/internal/models"
	"github.com/formwave/metaform-api/pkg/authz"
)

func contextForm() *models.Metaform {
	return &models.Metaform{
		ID:   "mf-1",
		Slug: "leave-request",
		Fields: []models.MetaformField{
			{Name: "department", Kind: models.FieldKindString,
				PermissionContexts: models.PermissionContexts{View: true, Notify: true}},
			{Name: "approver", Kind: models.FieldKindString,
				PermissionContexts: models.PermissionContexts{Edit: true}},
			{Name: "comment", Kind: models.FieldKindString},
		},
	}
}

func TestGroupNameFormat(t *testing.T) {
	assert.Equal(t, "leave-request-department-sales", GroupName("leave-request", "department", "sales"))
}

func TestComputeGroupsPerScope(t *testing.T) {
	extractor := NewPermissionContextExtractor()
	groups := extractor.ComputeGroups(contextForm(), map[string]any{
		"department": "sales",
		"approver":   "boss",
		"comment":    "ignored",
	})

	assert.Equal(t, []string{"leave-request-department-sales"}, groups[authz.ScopeView])
	assert.Equal(t, []string{"leave-request-approver-boss"}, groups[authz.ScopeEdit])
	assert.Equal(t, []string{"leave-request-department-sales"}, groups[authz.ScopeNotify])
}

func TestComputeGroupsSkipsNonStringAndMissingValues(t *testing.T) {
	extractor := NewPermissionContextExtractor()
	groups := extractor.ComputeGroups(contextForm(), map[string]any{
		"department": 42,
		"approver":   "",
	})

	assert.Empty(t, groups[authz.ScopeView])
	assert.Empty(t, groups[authz.ScopeEdit])
	assert.Empty(t, groups[authz.ScopeNotify])
}

func TestAllGroupNamesDeduplicates(t *testing.T) {
	names := AllGroupNames(map[authz.Scope][]string{
		authz.ScopeView:   {"g-a", "g-b"},
		authz.ScopeEdit:   {"g-b"},
		authz.ScopeNotify: {"g-a", "g-c"},
	})
	require.Len(t, names, 3)
	assert.ElementsMatch(t, []string{"g-a", "g-b", "g-c"}, names)
}
