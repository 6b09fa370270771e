package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terrane-io/terrane/internal/ir"
	"github.com/terrane-io/terrane/internal/provider"
	"github.com/terrane-io/terrane/internal/secret"
)

func serverSchema() provider.Schema {
	return provider.Schema{
		"server": {
			Attributes: map[string]provider.Attribute{
				"image":    {ForceNew: true},
				"password": {Sensitive: true},
			},
		},
		"vpc": {
			Attributes: map[string]provider.Attribute{
				"cidr": {ForceNew: true},
			},
		},
		"subnet": {
			Attributes: map[string]provider.Attribute{
				"vpcId": {ForceNew: true},
			},
		},
	}
}

func serverConfig(props map[string]any) *ir.Config {
	return &ir.Config{
		Resources: []*ir.Resource{
			{Type: "server", Name: "web", Provider: "test", Properties: props},
		},
	}
}

func TestPlan_Create(t *testing.T) {
	eng, _ := newTestEngine(t, serverSchema())
	ctx := context.Background()

	cfg := serverConfig(map[string]any{"image": "debian-12", "size": "small"})

	plan, err := eng.Plan(ctx, cfg, &ir.State{})
	require.NoError(t, err)
	require.Len(t, plan.Changes, 1)

	change := plan.Changes[0]
	assert.Equal(t, ir.ActionCreate, change.Action)
	assert.Equal(t, "server.web", change.Address)
	assert.Equal(t, 1, plan.Summary.Create)

	require.Contains(t, change.Diff, "image")
	assert.True(t, change.Diff["image"].ForcesReplacement)
	assert.Equal(t, "create", change.Diff["image"].Action)
}

func TestPlan_Idempotent(t *testing.T) {
	eng, _ := newTestEngine(t, serverSchema())
	ctx := context.Background()

	cfg := serverConfig(map[string]any{"image": "debian-12", "size": "small"})

	state := &ir.State{}
	plan, err := eng.Plan(ctx, cfg, state)
	require.NoError(t, err)
	_, err = eng.Apply(ctx, plan, state)
	require.NoError(t, err)

	// A second plan over the unchanged config must be empty.
	plan, err = eng.Plan(ctx, cfg, state)
	require.NoError(t, err)
	assert.True(t, plan.Empty())
	assert.Equal(t, 1, plan.Summary.NoOp)
}

func TestPlan_UpdateVsReplace(t *testing.T) {
	eng, _ := newTestEngine(t, serverSchema())
	ctx := context.Background()

	state := &ir.State{}
	cfg := serverConfig(map[string]any{"image": "debian-12", "size": "small"})
	plan, err := eng.Plan(ctx, cfg, state)
	require.NoError(t, err)
	_, err = eng.Apply(ctx, plan, state)
	require.NoError(t, err)

	// Mutable property change -> update in place.
	cfg = serverConfig(map[string]any{"image": "debian-12", "size": "large"})
	plan, err = eng.Plan(ctx, cfg, state)
	require.NoError(t, err)
	require.Len(t, plan.Changes, 1)
	assert.Equal(t, ir.ActionUpdate, plan.Changes[0].Action)

	// ForceNew property change -> replacement.
	cfg = serverConfig(map[string]any{"image": "debian-13", "size": "small"})
	plan, err = eng.Plan(ctx, cfg, state)
	require.NoError(t, err)
	require.Len(t, plan.Changes, 1)
	assert.Equal(t, ir.ActionReplace, plan.Changes[0].Action)
	assert.Equal(t, "property image forces replacement", plan.Changes[0].Reason)
}

func TestPlan_Delete(t *testing.T) {
	eng, _ := newTestEngine(t, serverSchema())
	ctx := context.Background()

	state := &ir.State{}
	cfg := serverConfig(map[string]any{"image": "debian-12"})
	plan, err := eng.Plan(ctx, cfg, state)
	require.NoError(t, err)
	_, err = eng.Apply(ctx, plan, state)
	require.NoError(t, err)

	// Declaration removed -> delete.
	plan, err = eng.Plan(ctx, &ir.Config{Resources: []*ir.Resource{}}, state)
	require.NoError(t, err)
	require.Len(t, plan.Changes, 1)
	assert.Equal(t, ir.ActionDelete, plan.Changes[0].Action)
	assert.Equal(t, 1, plan.Summary.Delete)
}

func TestPlan_DeleteOrderedConsumersFirst(t *testing.T) {
	eng, _ := newTestEngine(t, serverSchema())
	ctx := context.Background()

	state := &ir.State{}
	cfg := &ir.Config{
		Resources: []*ir.Resource{
			{Type: "vpc", Name: "main", Provider: "test", Properties: map[string]any{"cidr": "10.0.0.0/16"}},
			{Type: "subnet", Name: "app", Provider: "test", Properties: map[string]any{"vpcId": "ptr://vpc/main/id"}},
		},
	}
	plan, err := eng.Plan(ctx, cfg, state)
	require.NoError(t, err)
	_, err = eng.Apply(ctx, plan, state)
	require.NoError(t, err)

	plan, err = eng.Plan(ctx, &ir.Config{}, state)
	require.NoError(t, err)
	require.Len(t, plan.Changes, 2)
	assert.Equal(t, "subnet.app", plan.Changes[0].Address)
	assert.Equal(t, "vpc.main", plan.Changes[1].Address)
}

func TestPlan_ReplacePropagatesToConsumers(t *testing.T) {
	eng, _ := newTestEngine(t, serverSchema())
	ctx := context.Background()

	state := &ir.State{}
	build := func(cidr string) *ir.Config {
		return &ir.Config{
			Resources: []*ir.Resource{
				{Type: "vpc", Name: "main", Provider: "test", Properties: map[string]any{"cidr": cidr}},
				{Type: "subnet", Name: "app", Provider: "test", Properties: map[string]any{"vpcId": "ptr://vpc/main/id"}},
			},
		}
	}

	plan, err := eng.Plan(ctx, build("10.0.0.0/16"), state)
	require.NoError(t, err)
	_, err = eng.Apply(ctx, plan, state)
	require.NoError(t, err)

	// Replacing the vpc must drag the subnet along even though the
	// subnet's own declaration is unchanged.
	plan, err = eng.Plan(ctx, build("10.1.0.0/16"), state)
	require.NoError(t, err)
	require.Len(t, plan.Changes, 2)

	byAddr := make(map[string]*ir.ResourceChange)
	for _, c := range plan.Changes {
		byAddr[c.Address] = c
	}
	assert.Equal(t, ir.ActionReplace, byAddr["vpc.main"].Action)
	assert.Equal(t, ir.ActionUpdate, byAddr["subnet.app"].Action)
	assert.Equal(t, "producer vpc.main will be replaced", byAddr["subnet.app"].Reason)
}

func TestPlan_IgnoreChanges(t *testing.T) {
	eng, _ := newTestEngine(t, serverSchema())
	ctx := context.Background()

	state := &ir.State{}
	build := func(size string) *ir.Config {
		return &ir.Config{
			Resources: []*ir.Resource{
				{
					Type: "server", Name: "web", Provider: "test",
					Lifecycle:  &ir.Lifecycle{IgnoreChanges: []string{"size"}},
					Properties: map[string]any{"image": "debian-12", "size": size},
				},
			},
		}
	}

	plan, err := eng.Plan(ctx, build("small"), state)
	require.NoError(t, err)
	_, err = eng.Apply(ctx, plan, state)
	require.NoError(t, err)

	plan, err = eng.Plan(ctx, build("large"), state)
	require.NoError(t, err)
	assert.True(t, plan.Empty())
}

func TestPlan_PreventDestroy(t *testing.T) {
	eng, _ := newTestEngine(t, serverSchema())
	ctx := context.Background()

	state := &ir.State{}
	build := func(image string) *ir.Config {
		return &ir.Config{
			Resources: []*ir.Resource{
				{
					Type: "server", Name: "web", Provider: "test",
					Lifecycle:  &ir.Lifecycle{PreventDestroy: true},
					Properties: map[string]any{"image": image},
				},
			},
		}
	}

	plan, err := eng.Plan(ctx, build("debian-12"), state)
	require.NoError(t, err)
	_, err = eng.Apply(ctx, plan, state)
	require.NoError(t, err)

	// The image change forces replacement, which preventDestroy forbids.
	_, err = eng.Plan(ctx, build("debian-13"), state)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "preventDestroy")
}

func TestPlan_SecretsAreFingerprinted(t *testing.T) {
	t.Setenv("DB_PASSWORD", "hunter2")

	eng, _ := newTestEngine(t, serverSchema())
	ctx := context.Background()

	cfg := serverConfig(map[string]any{
		"image":    "debian-12",
		"password": "secret://env/DB_PASSWORD",
	})

	state := &ir.State{}
	plan, err := eng.Plan(ctx, cfg, state)
	require.NoError(t, err)
	require.Len(t, plan.Changes, 1)

	// The plan diff never carries the plaintext.
	diff := plan.Changes[0].Diff["password"]
	require.NotNil(t, diff)
	assert.True(t, diff.Sensitive)
	after, ok := diff.After.(string)
	require.True(t, ok)
	assert.True(t, secret.IsOpaque(after))
	assert.NotContains(t, after, "hunter2")

	// And neither does persisted state.
	_, err = eng.Apply(ctx, plan, state)
	require.NoError(t, err)
	rec := state.Lookup("server.web")
	require.NotNil(t, rec)
	stored, ok := rec.Inputs["password"].(string)
	require.True(t, ok)
	assert.True(t, secret.IsOpaque(stored))
}

func TestPlan_SecretRotationDetected(t *testing.T) {
	t.Setenv("DB_PASSWORD", "hunter2")

	eng, _ := newTestEngine(t, serverSchema())
	ctx := context.Background()

	cfg := serverConfig(map[string]any{
		"image":    "debian-12",
		"password": "secret://env/DB_PASSWORD",
	})

	state := &ir.State{}
	plan, err := eng.Plan(ctx, cfg, state)
	require.NoError(t, err)
	_, err = eng.Apply(ctx, plan, state)
	require.NoError(t, err)

	// Same reference, same value: no change.
	eng2, _ := newTestEngine(t, serverSchema())
	plan, err = eng2.Plan(ctx, cfg, state)
	require.NoError(t, err)
	assert.True(t, plan.Empty())

	// Rotated value behind the same reference: update.
	t.Setenv("DB_PASSWORD", "correct-horse")
	eng3, _ := newTestEngine(t, serverSchema())
	plan, err = eng3.Plan(ctx, cfg, state)
	require.NoError(t, err)
	require.Len(t, plan.Changes, 1)
	assert.Equal(t, ir.ActionUpdate, plan.Changes[0].Action)
}

func TestPlan_Targets(t *testing.T) {
	eng, _ := newTestEngine(t, serverSchema())
	ctx := context.Background()

	cfg := &ir.Config{
		Resources: []*ir.Resource{
			{Type: "vpc", Name: "main", Provider: "test", Properties: map[string]any{"cidr": "10.0.0.0/16"}},
			{Type: "subnet", Name: "app", Provider: "test", Properties: map[string]any{"vpcId": "ptr://vpc/main/id"}},
			{Type: "server", Name: "web", Provider: "test", Properties: map[string]any{"image": "debian-12"}},
		},
	}

	// Targeting the subnet pulls in its producer but not the server.
	plan, err := eng.PlanWithOptions(ctx, cfg, &ir.State{}, PlanOptions{Targets: []string{"subnet.app"}})
	require.NoError(t, err)
	require.Len(t, plan.Changes, 2)

	addrs := []string{plan.Changes[0].Address, plan.Changes[1].Address}
	assert.ElementsMatch(t, []string{"vpc.main", "subnet.app"}, addrs)
	assert.Equal(t, 1, plan.Summary.NoOp)
}

func TestDestroyPlan(t *testing.T) {
	eng, _ := newTestEngine(t, serverSchema())
	ctx := context.Background()

	state := &ir.State{}
	cfg := &ir.Config{
		Resources: []*ir.Resource{
			{Type: "vpc", Name: "main", Provider: "test", Properties: map[string]any{"cidr": "10.0.0.0/16"}},
			{Type: "subnet", Name: "app", Provider: "test", Properties: map[string]any{"vpcId": "ptr://vpc/main/id"}},
		},
	}
	plan, err := eng.Plan(ctx, cfg, state)
	require.NoError(t, err)
	_, err = eng.Apply(ctx, plan, state)
	require.NoError(t, err)

	plan, err = eng.DestroyPlan(ctx, state)
	require.NoError(t, err)
	require.Len(t, plan.Changes, 2)
	assert.Equal(t, "subnet.app", plan.Changes[0].Address)
	assert.Equal(t, "vpc.main", plan.Changes[1].Address)
	for _, c := range plan.Changes {
		assert.Equal(t, ir.ActionDelete, c.Action)
	}
}
