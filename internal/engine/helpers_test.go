package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/terrane-io/terrane/internal/provider"
	"github.com/terrane-io/terrane/internal/secret"
)

// fakeProvider is an in-memory provider for engine tests. Behavior is
// keyed by resource type so one instance can serve a whole graph.
type fakeProvider struct {
	mu     sync.Mutex
	schema provider.Schema
	nextID int

	ops []string // "create thing", "delete thing", ...

	failCreate map[string]error
	failUpdate map[string]error
	failDelete map[string]error

	// live holds Read responses keyed by external ID; IDs absent from the
	// map read as gone once gone is set.
	live map[string]map[string]any
	gone map[string]bool
}

func newFakeProvider(schema provider.Schema) *fakeProvider {
	return &fakeProvider{
		schema:     schema,
		failCreate: make(map[string]error),
		failUpdate: make(map[string]error),
		failDelete: make(map[string]error),
		live:       make(map[string]map[string]any),
		gone:       make(map[string]bool),
	}
}

func (f *fakeProvider) Configure(ctx context.Context) error { return nil }

func (f *fakeProvider) Schema() provider.Schema { return f.schema }

func (f *fakeProvider) Create(ctx context.Context, typ string, config map[string]any) (string, map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, "create "+typ)
	if err := f.failCreate[typ]; err != nil {
		return "", nil, err
	}
	f.nextID++
	id := fmt.Sprintf("%s-%d", typ, f.nextID)

	outputs := map[string]any{"id": id}
	for k, v := range config {
		outputs[k] = v
	}
	f.live[id] = outputs
	return id, outputs, nil
}

func (f *fakeProvider) Read(ctx context.Context, typ, externalID string) (map[string]any, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, "read "+typ)
	if f.gone[externalID] {
		return nil, false, nil
	}
	if outputs, ok := f.live[externalID]; ok {
		return outputs, true, nil
	}
	return map[string]any{"id": externalID}, true, nil
}

func (f *fakeProvider) Update(ctx context.Context, typ, externalID string, config map[string]any) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, "update "+typ)
	if err := f.failUpdate[typ]; err != nil {
		return nil, err
	}
	outputs := map[string]any{"id": externalID}
	for k, v := range config {
		outputs[k] = v
	}
	f.live[externalID] = outputs
	return outputs, nil
}

func (f *fakeProvider) Delete(ctx context.Context, typ, externalID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, "delete "+typ)
	if err := f.failDelete[typ]; err != nil {
		return err
	}
	delete(f.live, externalID)
	return nil
}

func (f *fakeProvider) opLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.ops...)
}

// currentFake is what the "test" factory hands out; each test replaces it
// before loading the provider into a fresh registry.
var currentFake *fakeProvider

func init() {
	provider.RegisterFactory("test", func() provider.Interface { return currentFake })
}

func newTestEngine(t *testing.T, schema provider.Schema) (*Engine, *fakeProvider) {
	t.Helper()
	fake := newFakeProvider(schema)
	currentFake = fake

	reg := provider.NewRegistry()
	require.NoError(t, reg.LoadProvider(context.Background(), "test"))
	return New(reg, secret.NewResolver()), fake
}
