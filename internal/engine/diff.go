package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/terrane-io/terrane/internal/ir"
	"github.com/terrane-io/terrane/internal/logging"
	"github.com/terrane-io/terrane/internal/provider"
)

// PlanOptions alter plan generation.
type PlanOptions struct {
	// Targets limits the plan to the given addresses plus their transitive
	// dependencies. Empty means everything.
	Targets []string
}

// Plan compares declared configuration against persisted state and produces
// the change set needed to reconcile them.
func (e *Engine) Plan(ctx context.Context, cfg *ir.Config, state *ir.State) (*ir.Plan, error) {
	return e.PlanWithOptions(ctx, cfg, state, PlanOptions{})
}

func (e *Engine) PlanWithOptions(ctx context.Context, cfg *ir.Config, state *ir.State, opts PlanOptions) (*ir.Plan, error) {
	logging.Debug("creating plan", "resources", len(cfg.Resources), "state_resources", len(state.Resources), "targets", len(opts.Targets))

	plan := &ir.Plan{
		Metadata: &ir.PlanMetadata{
			Timestamp:   time.Now().UTC().Format(time.RFC3339),
			Environment: cfg.Environment,
		},
		Changes: []*ir.ResourceChange{},
		Summary: &ir.PlanSummary{},
		Outputs: cfg.Outputs,
	}

	if err := e.loadProviders(ctx, cfg, state); err != nil {
		return nil, err
	}

	resources := Expand(cfg.Resources)

	g, err := BuildGraph(resources)
	if err != nil {
		return nil, err
	}

	stateMap := make(map[string]*ir.ResourceState, len(state.Resources))
	for _, res := range state.Resources {
		stateMap[res.Addr()] = res
	}
	configByAddr := make(map[string]*ir.Resource, len(resources))
	for _, res := range resources {
		configByAddr[res.Addr()] = res
	}

	var targetSet map[string]bool
	if len(opts.Targets) > 0 {
		targetSet = make(map[string]bool)
		for _, t := range opts.Targets {
			targetSet[t] = true
			for _, dep := range g.TransitiveDeps(t) {
				targetSet[dep] = true
			}
		}
	}

	// Walk desired resources in dependency order, classifying each one.
	// actions records every node's operation so downstream nodes can see
	// whether a producer is being replaced.
	actions := make(map[string]ir.Action, len(resources))
	for _, addr := range g.CreationOrder() {
		res, ok := configByAddr[addr]
		if !ok {
			continue
		}
		if targetSet != nil && !targetSet[addr] {
			actions[addr] = ir.ActionNoOp
			plan.Summary.NoOp++
			continue
		}

		change, err := e.classify(ctx, res, stateMap[addr], g, actions)
		if err != nil {
			return nil, err
		}
		change.Deps = g.Dependencies(addr)
		actions[addr] = change.Action

		if change.Action == ir.ActionNoOp {
			plan.Summary.NoOp++
			continue
		}
		if err := enforceLifecycle(res, change.Action); err != nil {
			return nil, err
		}

		plan.Changes = append(plan.Changes, change)
		switch change.Action {
		case ir.ActionCreate:
			plan.Summary.Create++
		case ir.ActionUpdate:
			plan.Summary.Update++
		case ir.ActionReplace:
			plan.Summary.Replace++
		}
	}

	// Records with no matching declaration are deleted, consumers before
	// producers.
	deletes, err := e.removalChanges(state, configByAddr, targetSet)
	if err != nil {
		return nil, err
	}
	plan.Changes = append(plan.Changes, deletes...)
	plan.Summary.Delete += len(deletes)

	return plan, nil
}

// DestroyPlan produces a plan deleting every resource in state, in reverse
// dependency order.
func (e *Engine) DestroyPlan(ctx context.Context, state *ir.State) (*ir.Plan, error) {
	plan := &ir.Plan{
		Metadata: &ir.PlanMetadata{
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		},
		Changes: []*ir.ResourceChange{},
		Summary: &ir.PlanSummary{},
	}

	if err := e.loadProviders(ctx, &ir.Config{}, state); err != nil {
		return nil, err
	}

	deletes, err := e.removalChanges(state, map[string]*ir.Resource{}, nil)
	if err != nil {
		return nil, err
	}
	plan.Changes = deletes
	plan.Summary.Delete = len(deletes)
	return plan, nil
}

// classify computes the operation for one declared resource.
func (e *Engine) classify(ctx context.Context, res *ir.Resource, prior *ir.ResourceState, g *Graph, upstream map[string]ir.Action) (*ir.ResourceChange, error) {
	addr := res.Addr()

	schema, err := e.registry.SchemaFor(res.Provider, res.Type)
	if err != nil {
		return nil, err
	}

	desired, err := e.canonicalInputs(ctx, res, schema)
	if err != nil {
		return nil, err
	}
	hash, err := hashInputs(desired)
	if err != nil {
		return nil, err
	}

	if prior == nil {
		return &ir.ResourceChange{
			Address: addr,
			Action:  ir.ActionCreate,
			Reason:  "not present in state",
			Desired: res,
			Diff:    buildCreateDiff(desired, schema),
		}, nil
	}

	if hash == prior.InputsHash {
		// Identical inputs; still bumped to Update when a producer is
		// being replaced, since its output identity will change.
		for _, dep := range g.Dependencies(addr) {
			if upstream[dep] == ir.ActionReplace {
				return &ir.ResourceChange{
					Address: addr,
					Action:  ir.ActionUpdate,
					Reason:  fmt.Sprintf("producer %s will be replaced", dep),
					Desired: res,
					Prior:   priorResource(prior),
				}, nil
			}
		}
		return &ir.ResourceChange{Address: addr, Action: ir.ActionNoOp, Desired: res}, nil
	}

	diff := buildPropertyDiff(prior.Inputs, desired, schema)
	changed := changedKeys(diff)

	if res.Lifecycle != nil && len(res.Lifecycle.IgnoreChanges) > 0 {
		changed = dropIgnored(changed, res.Lifecycle.IgnoreChanges)
		if len(changed) == 0 {
			return &ir.ResourceChange{Address: addr, Action: ir.ActionNoOp, Desired: res}, nil
		}
	}

	action := ir.ActionUpdate
	reason := "inputs changed"
	for _, key := range changed {
		if schema.ForcesReplacement(key) {
			action = ir.ActionReplace
			reason = fmt.Sprintf("property %s forces replacement", key)
			break
		}
	}

	return &ir.ResourceChange{
		Address: addr,
		Action:  action,
		Reason:  reason,
		Desired: res,
		Prior:   priorResource(prior),
		Diff:    diff,
	}, nil
}

// removalChanges builds Delete changes for state records absent from the
// configuration, ordered consumers-first from the recorded dependencies.
func (e *Engine) removalChanges(state *ir.State, configByAddr map[string]*ir.Resource, targetSet map[string]bool) ([]*ir.ResourceChange, error) {
	var removed []*ir.ResourceState
	byAddr := make(map[string]*ir.ResourceState)
	for _, res := range state.Resources {
		addr := res.Addr()
		if _, declared := configByAddr[addr]; declared {
			continue
		}
		if targetSet != nil && !targetSet[addr] {
			continue
		}
		removed = append(removed, res)
		byAddr[addr] = res
	}
	if len(removed) == 0 {
		return nil, nil
	}

	sg, err := BuildGraphFromState(removed)
	if err != nil {
		return nil, err
	}

	var changes []*ir.ResourceChange
	for _, addr := range sg.DestructionOrder() {
		res, ok := byAddr[addr]
		if !ok {
			continue
		}
		changes = append(changes, &ir.ResourceChange{
			Address: addr,
			Action:  ir.ActionDelete,
			Reason:  "declaration removed",
			Prior:   priorResource(res),
			Diff:    buildDeleteDiff(res.Inputs),
			Deps:    res.Dependencies,
		})
	}
	return changes, nil
}

func (e *Engine) loadProviders(ctx context.Context, cfg *ir.Config, state *ir.State) error {
	seen := make(map[string]bool)
	load := func(name string) error {
		if name == "" || seen[name] {
			return nil
		}
		seen[name] = true
		if err := e.registry.LoadProvider(ctx, name); err != nil {
			return fmt.Errorf("failed to load provider %s: %w", name, err)
		}
		return nil
	}
	for _, res := range cfg.Resources {
		if err := load(res.Provider); err != nil {
			return err
		}
	}
	for _, res := range state.Resources {
		if err := load(res.Provider); err != nil {
			return err
		}
	}
	return nil
}

func enforceLifecycle(res *ir.Resource, action ir.Action) error {
	if res.Lifecycle == nil {
		return nil
	}
	if res.Lifecycle.PreventDestroy && action.Destructive() {
		return fmt.Errorf("resource %s has preventDestroy set but the plan requires destruction", res.Addr())
	}
	return nil
}

func priorResource(prior *ir.ResourceState) *ir.Resource {
	return &ir.Resource{
		Type:       prior.Type,
		Name:       prior.Name,
		Provider:   prior.Provider,
		Properties: prior.Inputs,
	}
}

func changedKeys(diff map[string]*ir.PropertyDiff) []string {
	var keys []string
	for k := range diff {
		keys = append(keys, k)
	}
	return keys
}

func dropIgnored(keys, ignored []string) []string {
	ignoreSet := make(map[string]bool, len(ignored))
	for _, k := range ignored {
		ignoreSet[k] = true
	}
	var kept []string
	for _, k := range keys {
		if !ignoreSet[k] {
			kept = append(kept, k)
		}
	}
	return kept
}

// buildPropertyDiff compares prior and desired canonical inputs.
func buildPropertyDiff(prior, desired map[string]any, schema provider.ResourceSchema) map[string]*ir.PropertyDiff {
	diff := make(map[string]*ir.PropertyDiff)

	allKeys := make(map[string]bool)
	for k := range prior {
		allKeys[k] = true
	}
	for k := range desired {
		allKeys[k] = true
	}

	for k := range allKeys {
		priorVal, inPrior := prior[k]
		desiredVal, inDesired := desired[k]
		attr := schema.Attributes[k]

		switch {
		case !inPrior:
			diff[k] = &ir.PropertyDiff{After: desiredVal, Action: "create", Sensitive: attr.Sensitive, ForcesReplacement: attr.ForceNew}
		case !inDesired:
			diff[k] = &ir.PropertyDiff{Before: priorVal, Action: "delete", Sensitive: attr.Sensitive, ForcesReplacement: attr.ForceNew}
		case fmt.Sprintf("%v", priorVal) != fmt.Sprintf("%v", desiredVal):
			diff[k] = &ir.PropertyDiff{Before: priorVal, After: desiredVal, Action: "update", Sensitive: attr.Sensitive, ForcesReplacement: attr.ForceNew}
		}
	}

	return diff
}

func buildCreateDiff(desired map[string]any, schema provider.ResourceSchema) map[string]*ir.PropertyDiff {
	diff := make(map[string]*ir.PropertyDiff, len(desired))
	for k, v := range desired {
		attr := schema.Attributes[k]
		diff[k] = &ir.PropertyDiff{After: v, Action: "create", Sensitive: attr.Sensitive, ForcesReplacement: attr.ForceNew}
	}
	return diff
}

func buildDeleteDiff(prior map[string]any) map[string]*ir.PropertyDiff {
	diff := make(map[string]*ir.PropertyDiff, len(prior))
	for k, v := range prior {
		diff[k] = &ir.PropertyDiff{Before: v, Action: "delete"}
	}
	return diff
}
