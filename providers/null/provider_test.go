package null

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProvider_CreateReadDelete(t *testing.T) {
	p := New()
	ctx := context.Background()
	require.NoError(t, p.Configure(ctx))

	id, outputs, err := p.Create(ctx, TypeResource, map[string]any{
		"triggers": map[string]any{"rev": "abc123"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, id, outputs["id"])
	assert.Equal(t, map[string]any{"rev": "abc123"}, outputs["triggers"])

	got, exists, err := p.Read(ctx, TypeResource, id)
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, id, got["id"])

	assert.NoError(t, p.Delete(ctx, TypeResource, id))
}

func TestProvider_UnknownType(t *testing.T) {
	p := New()
	_, _, err := p.Create(context.Background(), "null_widget", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown resource type")
}

func TestProvider_Schema(t *testing.T) {
	p := New()
	schema := p.Schema()

	rs, ok := schema[TypeResource]
	require.True(t, ok)
	assert.True(t, rs.ForcesReplacement("triggers"))
	assert.True(t, rs.CreateBeforeDestroy)
}

func TestProvider_UniqueIDs(t *testing.T) {
	p := New()
	ctx := context.Background()

	a, _, err := p.Create(ctx, TypeResource, nil)
	require.NoError(t, err)
	b, _, err := p.Create(ctx, TypeResource, nil)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}
