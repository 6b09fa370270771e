package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/terrane-io/terrane/internal/ir"
	"github.com/terrane-io/terrane/internal/logging"
	"github.com/terrane-io/terrane/internal/provider"
	"github.com/terrane-io/terrane/internal/secret"
)

// ApplyEvent is a progress notification during apply.
type ApplyEvent struct {
	Address  string
	Action   ir.Action
	Status   string // "started", "completed", "failed", "skipped"
	Wave     int
	Duration time.Duration
	Error    error
}

// ApplyCallback receives apply progress events.
type ApplyCallback func(event ApplyEvent)

// StateSink persists state increments as a run progresses, so a crash never
// loses already-applied work. The engine calls it after every successful
// node operation, with no concurrent calls.
type StateSink interface {
	Persist(ctx context.Context, state *ir.State) error
}

// ApplyOptions alter apply execution.
type ApplyOptions struct {
	Callback ApplyCallback
	Sink     StateSink
}

// Apply executes a plan wave by wave, mutating state as it goes.
func (e *Engine) Apply(ctx context.Context, plan *ir.Plan, state *ir.State) (*ir.RunReport, error) {
	return e.ApplyWithOptions(ctx, plan, state, ApplyOptions{})
}

// ApplyWithOptions executes a plan with progress events and incremental
// state persistence.
//
// Within a wave, nodes run concurrently up to e.Parallelism. A node whose
// producer failed (or was skipped) is skipped, never attempted; independent
// branches run to completion. The returned report lists every planned node
// with its terminal status. The returned error aggregates node failures and
// is nil only if every node applied.
func (e *Engine) ApplyWithOptions(ctx context.Context, plan *ir.Plan, state *ir.State, opts ApplyOptions) (*ir.RunReport, error) {
	waves, err := Schedule(plan)
	if err != nil {
		return nil, err
	}

	emit := func(event ApplyEvent) {
		if opts.Callback != nil {
			opts.Callback(event)
		}
	}

	var mu sync.Mutex // guards state and sink
	persist := func(ctx context.Context) error {
		if opts.Sink == nil {
			return nil
		}
		return opts.Sink.Persist(ctx, state)
	}

	results := make(map[string]*ir.NodeResult, len(plan.Changes))
	for _, w := range waves {
		for _, change := range w.Changes {
			results[change.Address] = &ir.NodeResult{
				Address: change.Address,
				Action:  change.Action,
				Status:  ir.StatusPending,
				Wave:    w.Index,
			}
		}
	}

	// Delete ordering is inverted: a producer's delete waits on the deletes
	// of the consumers reading from it, never on its own producers.
	deleteBlockers := make(map[string][]string)
	for _, change := range plan.Changes {
		if change.Action != ir.ActionDelete {
			continue
		}
		for _, dep := range change.Deps {
			deleteBlockers[dep] = append(deleteBlockers[dep], change.Address)
		}
	}

	var (
		resultMu sync.Mutex
		errs     []error
	)
	notDone := func(addr string) bool {
		r, planned := results[addr]
		return planned && r.Status != ir.StatusApplied
	}

	parallelism := e.Parallelism
	if parallelism <= 0 {
		parallelism = defaultParallelism
	}
	sem := make(chan struct{}, parallelism)

	cancelled := false
	for _, wave := range waves {
		if err := ctx.Err(); err != nil {
			// Stop scheduling new operations; nodes never started stay
			// Pending so the next run re-attempts them.
			cancelled = true
			break
		}

		var wg sync.WaitGroup
		for _, change := range wave.Changes {
			result := results[change.Address]

			// A node only starts when everything it is ordered after ended
			// this run in success: producers for create/update/replace,
			// consumer deletes for a delete. Skips cascade wave over wave.
			blockedOn := change.Deps
			if change.Action == ir.ActionDelete {
				blockedOn = deleteBlockers[change.Address]
			}
			resultMu.Lock()
			var blocked string
			for _, dep := range blockedOn {
				if notDone(dep) {
					blocked = dep
					break
				}
			}
			if blocked != "" {
				result.Status = ir.StatusSkipped
				depErr := &DependencyFailedError{Address: change.Address, Dependency: blocked}
				result.Error = depErr.Error()
				resultMu.Unlock()
				emit(ApplyEvent{Address: change.Address, Action: change.Action, Status: "skipped", Wave: wave.Index, Error: depErr})
				continue
			}
			resultMu.Unlock()

			wg.Add(1)
			go func(change *ir.ResourceChange, wave int) {
				defer wg.Done()

				sem <- struct{}{}
				defer func() { <-sem }()

				if err := ctx.Err(); err != nil {
					return // stays Pending
				}

				start := time.Now()
				emit(ApplyEvent{Address: change.Address, Action: change.Action, Status: "started", Wave: wave})

				err := e.applyChange(ctx, change, state, &mu, persist)
				duration := time.Since(start)

				resultMu.Lock()
				result := results[change.Address]
				result.Duration = duration
				if err != nil {
					result.Status = ir.StatusFailed
					result.Error = err.Error()
					errs = append(errs, err)
				} else {
					result.Status = ir.StatusApplied
				}
				resultMu.Unlock()

				if err != nil {
					emit(ApplyEvent{Address: change.Address, Action: change.Action, Status: "failed", Wave: wave, Duration: duration, Error: err})
				} else {
					emit(ApplyEvent{Address: change.Address, Action: change.Action, Status: "completed", Wave: wave, Duration: duration})
				}
			}(change, wave.Index)
		}
		wg.Wait()
	}
	if ctx.Err() != nil {
		// Cancellation during the last wave still has to surface; nodes
		// that never started stay Pending.
		cancelled = true
	}

	state.Serial++
	if len(plan.Outputs) > 0 {
		mu.Lock()
		state.Outputs = resolveOutputValues(plan.Outputs, state)
		mu.Unlock()
	}
	if err := persist(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to persist final state: %w", err))
	}

	report := &ir.RunReport{Outputs: state.Outputs}
	for _, w := range waves {
		for _, change := range w.Changes {
			report.Results = append(report.Results, results[change.Address])
		}
	}

	if cancelled {
		errs = append(errs, fmt.Errorf("apply cancelled: %w", ctx.Err()))
	}
	if len(errs) > 0 {
		return report, fmt.Errorf("%d resource(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return report, nil
}

// applyChange performs one node operation and updates state.
func (e *Engine) applyChange(ctx context.Context, change *ir.ResourceChange, state *ir.State, mu *sync.Mutex, persist func(context.Context) error) error {
	addr := change.Address
	logging.Debug("applying change", "address", addr, "action", change.Action)

	timeout := DefaultTimeout
	if change.Desired != nil && change.Desired.Timeout != "" {
		if d, err := time.ParseDuration(change.Desired.Timeout); err == nil && d > 0 {
			timeout = d
		}
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res := change.Desired
	if res == nil {
		res = change.Prior
	}
	prov, err := e.registry.Get(res.Provider)
	if err != nil {
		return err
	}

	policy := DefaultRetryPolicy()

	switch change.Action {
	case ir.ActionCreate:
		return e.createResource(ctx, prov, change, state, mu, persist, policy)

	case ir.ActionUpdate:
		schema, err := e.registry.SchemaFor(res.Provider, res.Type)
		if err != nil {
			return err
		}

		mu.Lock()
		prior := state.Lookup(addr)
		mu.Unlock()
		if prior == nil {
			// State drifted under us (e.g. a prior partial run); fall back
			// to creation.
			return e.createResource(ctx, prov, change, state, mu, persist, policy)
		}

		config, err := e.resolveForProvider(ctx, change.Desired.Properties, state, mu)
		if err != nil {
			return fmt.Errorf("%s: %w", addr, err)
		}

		var outputs map[string]any
		err = RetryWithBackoff(ctx, policy, func() error {
			var uerr error
			outputs, uerr = prov.Update(ctx, res.Type, prior.ExternalID, config)
			return uerr
		}, IsTransientError)
		if errors.Is(err, provider.ErrRequiresReplacement) {
			return e.replaceResource(ctx, prov, schema, change, prior, state, mu, persist, policy)
		}
		if err != nil {
			return fmt.Errorf("update failed for %s: %w", addr, err)
		}

		return e.record(ctx, change, prior.ExternalID, outputs, state, mu, persist)

	case ir.ActionReplace:
		schema, err := e.registry.SchemaFor(res.Provider, res.Type)
		if err != nil {
			return err
		}
		mu.Lock()
		prior := state.Lookup(addr)
		mu.Unlock()
		if prior == nil {
			return e.createResource(ctx, prov, change, state, mu, persist, policy)
		}
		return e.replaceResource(ctx, prov, schema, change, prior, state, mu, persist, policy)

	case ir.ActionDelete:
		mu.Lock()
		prior := state.Lookup(addr)
		mu.Unlock()
		if prior == nil {
			return nil
		}
		err := RetryWithBackoff(ctx, policy, func() error {
			return prov.Delete(ctx, prior.Type, prior.ExternalID)
		}, IsTransientError)
		if err != nil {
			return fmt.Errorf("delete failed for %s: %w", addr, err)
		}

		mu.Lock()
		defer mu.Unlock()
		state.Remove(addr)
		return persist(ctx)

	default:
		return fmt.Errorf("unexpected action %s for %s", change.Action, addr)
	}
}

func (e *Engine) createResource(ctx context.Context, prov provider.Interface, change *ir.ResourceChange, state *ir.State, mu *sync.Mutex, persist func(context.Context) error, policy *RetryPolicy) error {
	config, err := e.resolveForProvider(ctx, change.Desired.Properties, state, mu)
	if err != nil {
		return fmt.Errorf("%s: %w", change.Address, err)
	}

	var externalID string
	var outputs map[string]any
	err = RetryWithBackoff(ctx, policy, func() error {
		var cerr error
		externalID, outputs, cerr = prov.Create(ctx, change.Desired.Type, config)
		return cerr
	}, IsTransientError)
	if err != nil {
		return fmt.Errorf("create failed for %s: %w", change.Address, err)
	}

	return e.record(ctx, change, externalID, outputs, state, mu, persist)
}

// replaceResource recreates a resource. When the provider supports
// zero-downtime replacement (or the lifecycle requests it), the new
// resource is created before the old one is deleted; otherwise the old
// resource goes first.
func (e *Engine) replaceResource(ctx context.Context, prov provider.Interface, schema provider.ResourceSchema, change *ir.ResourceChange, prior *ir.ResourceState, state *ir.State, mu *sync.Mutex, persist func(context.Context) error, policy *RetryPolicy) error {
	createFirst := schema.CreateBeforeDestroy
	if change.Desired.Lifecycle != nil && change.Desired.Lifecycle.CreateBeforeDestroy {
		createFirst = true
	}

	deleteOld := func() error {
		err := RetryWithBackoff(ctx, policy, func() error {
			return prov.Delete(ctx, prior.Type, prior.ExternalID)
		}, IsTransientError)
		if err != nil {
			return fmt.Errorf("replace: delete of old %s failed: %w", change.Address, err)
		}
		return nil
	}

	if !createFirst {
		if err := deleteOld(); err != nil {
			return err
		}
		// Old resource is gone; drop the record now so a failed create
		// leaves accurate state behind.
		mu.Lock()
		state.Remove(change.Address)
		err := persist(ctx)
		mu.Unlock()
		if err != nil {
			return err
		}
		return e.createResource(ctx, prov, change, state, mu, persist, policy)
	}

	if err := e.createResource(ctx, prov, change, state, mu, persist, policy); err != nil {
		return err
	}
	return deleteOld()
}

// record writes the node's StateRecord and persists immediately.
func (e *Engine) record(ctx context.Context, change *ir.ResourceChange, externalID string, outputs map[string]any, state *ir.State, mu *sync.Mutex, persist func(context.Context) error) error {
	schema, err := e.registry.SchemaFor(change.Desired.Provider, change.Desired.Type)
	if err != nil {
		return err
	}
	inputs, err := e.canonicalInputs(ctx, change.Desired, schema)
	if err != nil {
		return err
	}
	hash, err := hashInputs(inputs)
	if err != nil {
		return err
	}

	rec := &ir.ResourceState{
		Type:         change.Desired.Type,
		Name:         change.Desired.Name,
		Provider:     change.Desired.Provider,
		ExternalID:   externalID,
		Inputs:       inputs,
		InputsHash:   hash,
		Outputs:      outputs,
		Dependencies: change.Deps,
	}

	mu.Lock()
	defer mu.Unlock()
	state.Put(rec)
	return persist(ctx)
}

// resolveForProvider produces the plaintext configuration a provider sees:
// ptr:// references replaced by the producer's resolved values and
// secret:// references replaced by their plaintext. State is only read
// under the lock; secret resolution can be a network round-trip and must
// not block other branches.
func (e *Engine) resolveForProvider(ctx context.Context, props map[string]any, state *ir.State, mu *sync.Mutex) (map[string]any, error) {
	mu.Lock()
	resolved, err := resolveRefs(normalizeValue(props), state)
	mu.Unlock()
	if err != nil {
		return nil, err
	}

	out, err := e.resolveSecrets(ctx, resolved)
	if err != nil {
		return nil, err
	}
	return out.(map[string]any), nil
}

// resolveRefs replaces ptr:// strings anywhere inside v with the producer's
// recorded values. Caller holds the state lock.
func resolveRefs(v any, state *ir.State) (any, error) {
	switch val := v.(type) {
	case string:
		if strings.HasPrefix(val, refScheme) {
			return resolveRef(val, state)
		}
		return val, nil
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, v := range val {
			r, err := resolveRefs(v, state)
			if err != nil {
				return nil, err
			}
			out[k] = r
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, v := range val {
			r, err := resolveRefs(v, state)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	default:
		return val, nil
	}
}

// resolveSecrets replaces secret:// strings anywhere inside v with their
// plaintext.
func (e *Engine) resolveSecrets(ctx context.Context, v any) (any, error) {
	switch val := v.(type) {
	case string:
		if secret.IsRef(val) {
			return e.resolveSecret(ctx, val)
		}
		return val, nil
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, v := range val {
			r, err := e.resolveSecrets(ctx, v)
			if err != nil {
				return nil, err
			}
			out[k] = r
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, v := range val {
			r, err := e.resolveSecrets(ctx, v)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	default:
		return val, nil
	}
}

// resolveRef looks up a ptr:// reference in state. The producer must
// already hold a record; the scheduler guarantees that for planned nodes.
func resolveRef(r string, state *ir.State) (any, error) {
	addr := refToAddr(r)
	attr := refAttribute(r)
	if addr == "" || attr == "" {
		return nil, fmt.Errorf("malformed reference %q", r)
	}

	rec := state.Lookup(addr)
	if rec == nil {
		return nil, fmt.Errorf("reference %q: no state for %s", r, addr)
	}
	if attr == "id" && rec.ExternalID != "" {
		return rec.ExternalID, nil
	}
	if v, ok := rec.Outputs[attr]; ok {
		return v, nil
	}
	if v, ok := rec.Inputs[attr]; ok {
		return v, nil
	}
	return nil, fmt.Errorf("reference %q: %s has no attribute %s", r, addr, attr)
}

// resolveOutputValues resolves exported outputs against final state,
// leaving unresolvable references in place.
func resolveOutputValues(outputs map[string]any, state *ir.State) map[string]any {
	resolved := make(map[string]any, len(outputs))
	for k, v := range outputs {
		resolved[k] = resolveOutputValue(v, state)
	}
	return resolved
}

func resolveOutputValue(v any, state *ir.State) any {
	switch val := v.(type) {
	case string:
		if strings.HasPrefix(val, refScheme) {
			if r, err := resolveRef(val, state); err == nil {
				return r
			}
		}
		return val
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, v := range val {
			out[k] = resolveOutputValue(v, state)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, v := range val {
			out[i] = resolveOutputValue(v, state)
		}
		return out
	default:
		return val
	}
}
