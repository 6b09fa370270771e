package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terrane-io/terrane/internal/ir"
)

func TestRefresh(t *testing.T) {
	eng, fake := newTestEngine(t, serverSchema())
	ctx := context.Background()

	cfg := &ir.Config{
		Resources: []*ir.Resource{
			{Type: "vpc", Name: "main", Provider: "test", Properties: map[string]any{"cidr": "10.0.0.0/16"}},
			{Type: "server", Name: "web", Provider: "test", Properties: map[string]any{"image": "debian-12"}},
			{Type: "server", Name: "db", Provider: "test", Properties: map[string]any{"image": "debian-12"}},
		},
	}

	state := &ir.State{}
	plan, err := eng.Plan(ctx, cfg, state)
	require.NoError(t, err)
	_, err = eng.Apply(ctx, plan, state)
	require.NoError(t, err)
	serial := state.Serial

	// Mutate one resource out of band and delete another.
	webID := state.Lookup("server.web").ExternalID
	fake.live[webID] = map[string]any{"id": webID, "image": "debian-13"}
	dbID := state.Lookup("server.db").ExternalID
	fake.gone[dbID] = true

	results, err := eng.Refresh(ctx, state)
	require.NoError(t, err)
	require.Len(t, results, 3)

	byAddr := make(map[string]RefreshResult)
	for _, r := range results {
		byAddr[r.Address] = r
	}
	assert.False(t, byAddr["vpc.main"].Drifted)
	assert.True(t, byAddr["server.web"].Drifted)
	assert.True(t, byAddr["server.db"].Removed)

	// Drifted outputs are rewritten, vanished records dropped.
	assert.Equal(t, "debian-13", state.Lookup("server.web").Outputs["image"])
	assert.Nil(t, state.Lookup("server.db"))
	assert.Equal(t, serial+1, state.Serial)
}

func TestRefresh_EmptyState(t *testing.T) {
	eng, _ := newTestEngine(t, serverSchema())

	results, err := eng.Refresh(context.Background(), &ir.State{})
	require.NoError(t, err)
	assert.Empty(t, results)
}
