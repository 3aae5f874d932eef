package service

import (
	"context"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/formwave/metaform-api/internal/models"
	"github.com/formwave/metaform-api/internal/repository"
	appErrors "github.com/formwave/metaform-api/pkg/errors"
)

type stubValueStore struct {
	values map[string]models.FieldValue
}

func (s *stubValueStore) GetValue(_ context.Context, _ sqlx.ExtContext, _, name string) (*models.FieldValue, error) {
	value, ok := s.values[name]
	if !ok {
		return nil, nil
	}
	return &value, nil
}

func (s *stubValueStore) ListValues(_ context.Context, _ sqlx.ExtContext, _ string) ([]repository.NamedValue, error) {
	var pairs []repository.NamedValue
	for name, value := range s.values {
		pairs = append(pairs, repository.NamedValue{Name: name, Value: value})
	}
	return pairs, nil
}

func surveyForm() *models.Metaform {
	return &models.Metaform{
		ID:        "mf-1",
		Slug:      "survey",
		ReplyMode: models.ReplyModeUpdate,
		Fields: []models.MetaformField{
			{Name: "name", Kind: models.FieldKindString},
			{Name: "score", Kind: models.FieldKindNumber},
			{Name: "agreed", Kind: models.FieldKindBoolean},
			{Name: "tags", Kind: models.FieldKindList},
			{Name: "docs", Kind: models.FieldKindFiles},
			{Name: "lines", Kind: models.FieldKindTable, Columns: []models.TableColumn{
				{Name: "item", Type: "text"},
				{Name: "qty", Type: "number"},
			}},
			{Name: "created", Kind: models.FieldKindCreated},
		},
	}
}

func TestFieldResolverCoerceValue(t *testing.T) {
	resolver := NewFieldResolver(&stubValueStore{}, nil)
	form := surveyForm()

	nameField, _ := form.Field("name")
	value, err := resolver.CoerceValue(nameField, "Ada")
	require.NoError(t, err)
	require.NotNil(t, value.String)
	assert.Equal(t, "Ada", *value.String)

	scoreField, _ := form.Field("score")
	value, err = resolver.CoerceValue(scoreField, " 4.5 ")
	require.NoError(t, err)
	require.NotNil(t, value.Number)
	assert.Equal(t, 4.5, *value.Number)

	agreedField, _ := form.Field("agreed")
	value, err = resolver.CoerceValue(agreedField, "TRUE")
	require.NoError(t, err)
	require.NotNil(t, value.Boolean)
	assert.True(t, *value.Boolean)

	tagsField, _ := form.Field("tags")
	value, err = resolver.CoerceValue(tagsField, []any{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, value.List)
}

func TestFieldResolverCoerceValueRejectsWrongShape(t *testing.T) {
	resolver := NewFieldResolver(&stubValueStore{}, nil)
	form := surveyForm()

	scoreField, _ := form.Field("score")
	_, err := resolver.CoerceValue(scoreField, "not-a-number")
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrInvalidFieldValue))

	linesField, _ := form.Field("lines")
	_, err = resolver.CoerceValue(linesField, []any{map[string]any{"qty": "three"}})
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrInvalidFieldValue))
}

func TestFieldResolverCoerceValueTableRows(t *testing.T) {
	resolver := NewFieldResolver(&stubValueStore{}, nil)
	form := surveyForm()
	linesField, _ := form.Field("lines")

	value, err := resolver.CoerceValue(linesField, []any{
		map[string]any{"item": "bolt", "qty": 12.0},
		map[string]any{"item": "nut"},
	})
	require.NoError(t, err)
	require.Len(t, value.Table, 2)
	assert.Equal(t, 0, value.Table[0].Index)
	require.Len(t, value.Table[0].Cells, 2)
	require.Len(t, value.Table[1].Cells, 1)
	assert.Equal(t, "item", value.Table[1].Cells[0].Name)
}

func TestFieldResolverResolveValueMetaFields(t *testing.T) {
	resolver := NewFieldResolver(&stubValueStore{}, nil)
	form := surveyForm()
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	reply := &models.Reply{ID: "reply-1", CreatedAt: created, ModifiedAt: created}

	value, err := resolver.ResolveValue(context.Background(), nil, form, reply, "created")
	require.NoError(t, err)
	assert.Equal(t, created, value)
}

func TestFieldResolverResolveAllMergesStoredAndMeta(t *testing.T) {
	store := &stubValueStore{values: map[string]models.FieldValue{
		"name": models.StringValue("Ada"),
	}}
	resolver := NewFieldResolver(store, nil)
	form := surveyForm()
	reply := &models.Reply{ID: "reply-1", CreatedAt: time.Now(), ModifiedAt: time.Now()}

	resolved, err := resolver.ResolveAll(context.Background(), nil, form, reply)
	require.NoError(t, err)
	assert.Equal(t, "Ada", resolved["name"])
	assert.Contains(t, resolved, "created")
}

func TestFieldResolverParseFilters(t *testing.T) {
	resolver := NewFieldResolver(&stubValueStore{}, nil)
	form := surveyForm()

	filters := resolver.ParseFilters(form, []string{"name:Ada,score^3", "agreed:true"})
	require.Len(t, filters, 3)

	assert.Equal(t, "name", filters[0].Name)
	assert.Equal(t, models.FilterOpEquals, filters[0].Op)
	require.NotNil(t, filters[0].String)
	assert.Equal(t, "Ada", *filters[0].String)

	assert.Equal(t, "score", filters[1].Name)
	assert.Equal(t, models.FilterOpNotEquals, filters[1].Op)
	require.NotNil(t, filters[1].Number)
	assert.Equal(t, 3.0, *filters[1].Number)

	assert.Equal(t, "agreed", filters[2].Name)
	require.NotNil(t, filters[2].Boolean)
	assert.True(t, *filters[2].Boolean)
}

func TestFieldResolverParseFiltersDropsUnusable(t *testing.T) {
	resolver := NewFieldResolver(&stubValueStore{}, nil)
	form := surveyForm()

	filters := resolver.ParseFilters(form, []string{
		"ghost:1",      // unknown field
		"score:high",   // unparseable number
		"agreed:maybe", // unparseable boolean
		"docs:x",       // files have no comparable representation
		"noseparator",
		"",
	})
	assert.Empty(t, filters)
}
