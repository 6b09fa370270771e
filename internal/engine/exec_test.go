package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terrane-io/terrane/internal/ir"
	"github.com/terrane-io/terrane/internal/provider"
)

func TestApply_RecordsState(t *testing.T) {
	eng, fake := newTestEngine(t, serverSchema())
	ctx := context.Background()

	cfg := &ir.Config{
		Resources: []*ir.Resource{
			{Type: "vpc", Name: "main", Provider: "test", Properties: map[string]any{"cidr": "10.0.0.0/16"}},
			{Type: "subnet", Name: "app", Provider: "test", Properties: map[string]any{"vpcId": "ptr://vpc/main/id"}},
		},
	}

	state := &ir.State{}
	plan, err := eng.Plan(ctx, cfg, state)
	require.NoError(t, err)

	report, err := eng.Apply(ctx, plan, state)
	require.NoError(t, err)

	applied, failed, skipped := report.Counts()
	assert.Equal(t, 2, applied)
	assert.Equal(t, 0, failed)
	assert.Equal(t, 0, skipped)
	assert.Equal(t, 1, state.Serial)

	vpc := state.Lookup("vpc.main")
	require.NotNil(t, vpc)
	assert.Equal(t, "vpc-1", vpc.ExternalID)
	assert.NotEmpty(t, vpc.InputsHash)

	sub := state.Lookup("subnet.app")
	require.NotNil(t, sub)
	assert.Equal(t, []string{"vpc.main"}, sub.Dependencies)

	// The provider saw the producer's external ID, not the reference.
	assert.Equal(t, "vpc-1", fake.live[sub.ExternalID]["vpcId"])
	assert.Equal(t, []string{"create vpc", "create subnet"}, fake.opLog())
}

func TestApply_FailureSkipsDependents(t *testing.T) {
	eng, fake := newTestEngine(t, serverSchema())
	fake.failCreate["vpc"] = errors.New("boom")
	ctx := context.Background()

	cfg := &ir.Config{
		Resources: []*ir.Resource{
			{Type: "vpc", Name: "main", Provider: "test", Properties: map[string]any{"cidr": "10.0.0.0/16"}},
			{Type: "subnet", Name: "app", Provider: "test", Properties: map[string]any{"vpcId": "ptr://vpc/main/id"}},
			{Type: "server", Name: "web", Provider: "test", Properties: map[string]any{"image": "debian-12", "subnetId": "ptr://subnet/app/id"}},
			{Type: "server", Name: "lone", Provider: "test", Properties: map[string]any{"image": "debian-12"}},
		},
	}

	state := &ir.State{}
	plan, err := eng.Plan(ctx, cfg, state)
	require.NoError(t, err)

	report, err := eng.Apply(ctx, plan, state)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 resource(s) failed")

	statuses := make(map[string]ir.NodeStatus)
	for _, r := range report.Results {
		statuses[r.Address] = r.Status
	}
	assert.Equal(t, ir.StatusFailed, statuses["vpc.main"])
	assert.Equal(t, ir.StatusSkipped, statuses["subnet.app"])
	assert.Equal(t, ir.StatusSkipped, statuses["server.web"])
	assert.Equal(t, ir.StatusApplied, statuses["server.lone"])

	// Skips carry the blocking producer.
	for _, r := range report.Results {
		if r.Address == "subnet.app" {
			assert.Contains(t, r.Error, "dependency vpc.main failed")
		}
	}

	// Only the independent branch landed in state.
	assert.Nil(t, state.Lookup("vpc.main"))
	assert.Nil(t, state.Lookup("subnet.app"))
	assert.NotNil(t, state.Lookup("server.lone"))
}

func TestApply_ReplaceDeleteFirst(t *testing.T) {
	eng, fake := newTestEngine(t, serverSchema())
	ctx := context.Background()

	state := &ir.State{}
	plan, err := eng.Plan(ctx, serverConfig(map[string]any{"image": "debian-12"}), state)
	require.NoError(t, err)
	_, err = eng.Apply(ctx, plan, state)
	require.NoError(t, err)
	oldID := state.Lookup("server.web").ExternalID

	plan, err = eng.Plan(ctx, serverConfig(map[string]any{"image": "debian-13"}), state)
	require.NoError(t, err)
	require.Equal(t, ir.ActionReplace, plan.Changes[0].Action)
	_, err = eng.Apply(ctx, plan, state)
	require.NoError(t, err)

	assert.Equal(t, []string{"create server", "delete server", "create server"}, fake.opLog())

	rec := state.Lookup("server.web")
	require.NotNil(t, rec)
	assert.NotEqual(t, oldID, rec.ExternalID)
}

func TestApply_ReplaceCreateBeforeDestroy(t *testing.T) {
	eng, fake := newTestEngine(t, serverSchema())
	ctx := context.Background()

	build := func(image string) *ir.Config {
		return &ir.Config{
			Resources: []*ir.Resource{
				{
					Type: "server", Name: "web", Provider: "test",
					Lifecycle:  &ir.Lifecycle{CreateBeforeDestroy: true},
					Properties: map[string]any{"image": image},
				},
			},
		}
	}

	state := &ir.State{}
	plan, err := eng.Plan(ctx, build("debian-12"), state)
	require.NoError(t, err)
	_, err = eng.Apply(ctx, plan, state)
	require.NoError(t, err)

	plan, err = eng.Plan(ctx, build("debian-13"), state)
	require.NoError(t, err)
	_, err = eng.Apply(ctx, plan, state)
	require.NoError(t, err)

	assert.Equal(t, []string{"create server", "create server", "delete server"}, fake.opLog())
}

func TestApply_UpdateEscalatesToReplace(t *testing.T) {
	eng, fake := newTestEngine(t, serverSchema())
	ctx := context.Background()

	state := &ir.State{}
	plan, err := eng.Plan(ctx, serverConfig(map[string]any{"image": "debian-12", "size": "small"}), state)
	require.NoError(t, err)
	_, err = eng.Apply(ctx, plan, state)
	require.NoError(t, err)

	// The provider refuses the in-place update, forcing a replacement.
	fake.failUpdate["server"] = provider.ErrRequiresReplacement

	plan, err = eng.Plan(ctx, serverConfig(map[string]any{"image": "debian-12", "size": "large"}), state)
	require.NoError(t, err)
	require.Equal(t, ir.ActionUpdate, plan.Changes[0].Action)

	_, err = eng.Apply(ctx, plan, state)
	require.NoError(t, err)

	assert.Equal(t, []string{"create server", "update server", "delete server", "create server"}, fake.opLog())
}

type recordingSink struct {
	persists int
	serials  []int
}

func (s *recordingSink) Persist(ctx context.Context, state *ir.State) error {
	s.persists++
	s.serials = append(s.serials, state.Serial)
	return nil
}

func TestApply_SinkPersistsIncrementally(t *testing.T) {
	eng, _ := newTestEngine(t, serverSchema())
	ctx := context.Background()

	cfg := &ir.Config{
		Resources: []*ir.Resource{
			{Type: "vpc", Name: "main", Provider: "test", Properties: map[string]any{"cidr": "10.0.0.0/16"}},
			{Type: "subnet", Name: "app", Provider: "test", Properties: map[string]any{"vpcId": "ptr://vpc/main/id"}},
		},
	}

	state := &ir.State{}
	plan, err := eng.Plan(ctx, cfg, state)
	require.NoError(t, err)

	sink := &recordingSink{}
	_, err = eng.ApplyWithOptions(ctx, plan, state, ApplyOptions{Sink: sink})
	require.NoError(t, err)

	// One persist per recorded node plus the final one.
	assert.Equal(t, 3, sink.persists)
	assert.Equal(t, 1, sink.serials[len(sink.serials)-1])
}

func TestApply_Cancelled(t *testing.T) {
	eng, fake := newTestEngine(t, serverSchema())

	state := &ir.State{}
	plan, err := eng.Plan(context.Background(), serverConfig(map[string]any{"image": "debian-12"}), state)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := eng.Apply(ctx, plan, state)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "apply cancelled")

	// Untouched nodes stay pending so the next run re-attempts them.
	require.Len(t, report.Results, 1)
	assert.Equal(t, ir.StatusPending, report.Results[0].Status)
	assert.Empty(t, fake.opLog())
}

func TestApply_CancelledDuringFinalWave(t *testing.T) {
	eng, _ := newTestEngine(t, serverSchema())

	state := &ir.State{}
	plan, err := eng.Plan(context.Background(), serverConfig(map[string]any{"image": "debian-12"}), state)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Cancellation arrives while the only wave is already running. The
	// completed work is kept, but the run must still report cancellation.
	_, err = eng.ApplyWithOptions(ctx, plan, state, ApplyOptions{
		Callback: func(ev ApplyEvent) {
			if ev.Status == "started" {
				cancel()
			}
		},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "apply cancelled")
	assert.NotNil(t, state.Lookup("server.web"))
}

func TestApply_ResolvesRefsAndSecrets(t *testing.T) {
	t.Setenv("DB_PASSWORD", "hunter2")

	eng, fake := newTestEngine(t, serverSchema())
	ctx := context.Background()

	cfg := &ir.Config{
		Resources: []*ir.Resource{
			{Type: "vpc", Name: "main", Provider: "test", Properties: map[string]any{"cidr": "10.0.0.0/16"}},
			{
				Type: "server", Name: "web", Provider: "test",
				Properties: map[string]any{
					"image":    "debian-12",
					"password": "secret://env/DB_PASSWORD",
					"network":  map[string]any{"vpcId": "ptr://vpc/main/id"},
				},
			},
		},
	}

	state := &ir.State{}
	plan, err := eng.Plan(ctx, cfg, state)
	require.NoError(t, err)
	_, err = eng.Apply(ctx, plan, state)
	require.NoError(t, err)

	// The provider sees plaintext and resolved IDs, nested or not.
	seen := fake.live[state.Lookup("server.web").ExternalID]
	assert.Equal(t, "hunter2", seen["password"])
	assert.Equal(t, "vpc-1", seen["network"].(map[string]any)["vpcId"])

	// State still only carries the fingerprint.
	stored, ok := state.Lookup("server.web").Inputs["password"].(string)
	require.True(t, ok)
	assert.NotEqual(t, "hunter2", stored)
}

func TestApply_ResolvesOutputs(t *testing.T) {
	eng, _ := newTestEngine(t, serverSchema())
	ctx := context.Background()

	cfg := &ir.Config{
		Resources: []*ir.Resource{
			{Type: "vpc", Name: "main", Provider: "test", Properties: map[string]any{"cidr": "10.0.0.0/16"}},
		},
		Outputs: map[string]any{
			"vpc_id": "ptr://vpc/main/id",
			"region": "eu-west-1",
		},
	}

	state := &ir.State{}
	plan, err := eng.Plan(ctx, cfg, state)
	require.NoError(t, err)

	report, err := eng.Apply(ctx, plan, state)
	require.NoError(t, err)

	assert.Equal(t, "vpc-1", report.Outputs["vpc_id"])
	assert.Equal(t, "eu-west-1", report.Outputs["region"])
	assert.Equal(t, "vpc-1", state.Outputs["vpc_id"])
}

func TestApply_DestroyChainConsumersFirst(t *testing.T) {
	eng, fake := newTestEngine(t, serverSchema())
	ctx := context.Background()

	cfg := &ir.Config{
		Resources: []*ir.Resource{
			{Type: "vpc", Name: "main", Provider: "test", Properties: map[string]any{"cidr": "10.0.0.0/16"}},
			{Type: "subnet", Name: "app", Provider: "test", Properties: map[string]any{"vpcId": "ptr://vpc/main/id"}},
			{Type: "server", Name: "web", Provider: "test", Properties: map[string]any{"image": "debian-12", "subnetId": "ptr://subnet/app/id"}},
		},
	}

	state := &ir.State{}
	plan, err := eng.Plan(ctx, cfg, state)
	require.NoError(t, err)
	_, err = eng.Apply(ctx, plan, state)
	require.NoError(t, err)

	plan, err = eng.DestroyPlan(ctx, state)
	require.NoError(t, err)

	report, err := eng.Apply(ctx, plan, state)
	require.NoError(t, err)

	// Every delete ran, consumers strictly before their producers.
	applied, failed, skipped := report.Counts()
	assert.Equal(t, 3, applied)
	assert.Equal(t, 0, failed)
	assert.Equal(t, 0, skipped)
	assert.Equal(t, []string{
		"create vpc", "create subnet", "create server",
		"delete server", "delete subnet", "delete vpc",
	}, fake.opLog())
	assert.Empty(t, state.Resources)
}

func TestApply_DeleteFailureSparesProducer(t *testing.T) {
	eng, fake := newTestEngine(t, serverSchema())
	ctx := context.Background()

	cfg := &ir.Config{
		Resources: []*ir.Resource{
			{Type: "vpc", Name: "main", Provider: "test", Properties: map[string]any{"cidr": "10.0.0.0/16"}},
			{Type: "subnet", Name: "app", Provider: "test", Properties: map[string]any{"vpcId": "ptr://vpc/main/id"}},
			{Type: "server", Name: "web", Provider: "test", Properties: map[string]any{"image": "debian-12", "subnetId": "ptr://subnet/app/id"}},
		},
	}

	state := &ir.State{}
	plan, err := eng.Plan(ctx, cfg, state)
	require.NoError(t, err)
	_, err = eng.Apply(ctx, plan, state)
	require.NoError(t, err)

	// The middle delete fails; its producer must not be torn down while a
	// consumer still exists.
	fake.failDelete["subnet"] = errors.New("dependency violation")

	plan, err = eng.DestroyPlan(ctx, state)
	require.NoError(t, err)
	report, err := eng.Apply(ctx, plan, state)
	require.Error(t, err)

	statuses := make(map[string]ir.NodeStatus)
	for _, r := range report.Results {
		statuses[r.Address] = r.Status
	}
	assert.Equal(t, ir.StatusApplied, statuses["server.web"])
	assert.Equal(t, ir.StatusFailed, statuses["subnet.app"])
	assert.Equal(t, ir.StatusSkipped, statuses["vpc.main"])

	// The vpc was never touched and both records survive for the next run.
	assert.NotContains(t, fake.opLog(), "delete vpc")
	assert.NotNil(t, state.Lookup("vpc.main"))
	assert.NotNil(t, state.Lookup("subnet.app"))
	assert.Nil(t, state.Lookup("server.web"))
}

func TestApply_DeleteRemovesRecord(t *testing.T) {
	eng, fake := newTestEngine(t, serverSchema())
	ctx := context.Background()

	state := &ir.State{}
	plan, err := eng.Plan(ctx, serverConfig(map[string]any{"image": "debian-12"}), state)
	require.NoError(t, err)
	_, err = eng.Apply(ctx, plan, state)
	require.NoError(t, err)

	plan, err = eng.Plan(ctx, &ir.Config{}, state)
	require.NoError(t, err)
	_, err = eng.Apply(ctx, plan, state)
	require.NoError(t, err)

	assert.Nil(t, state.Lookup("server.web"))
	assert.Empty(t, state.Resources)
	assert.Equal(t, []string{"create server", "delete server"}, fake.opLog())
}
