package state

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terrane-io/terrane/internal/ir"
)

func testManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(filepath.Join(t.TempDir(), ".terrane", "state.json"))
}

func sampleState() *ir.State {
	s := NewState()
	s.Serial = 4
	s.Put(&ir.ResourceState{
		Type:       "aws_vpc",
		Name:       "main",
		Provider:   "aws",
		ExternalID: "vpc-0abc",
		Inputs:     map[string]any{"cidrBlock": "10.0.0.0/16"},
		InputsHash: "deadbeef",
		Outputs:    map[string]any{"id": "vpc-0abc"},
	})
	return s
}

func TestManager_RoundTrip(t *testing.T) {
	m := testManager(t)
	ctx := context.Background()

	want := sampleState()
	require.NoError(t, m.Write(ctx, want))

	got, err := m.Read(ctx)
	require.NoError(t, err)

	assert.Equal(t, want.Lineage, got.Lineage)
	assert.Equal(t, 4, got.Serial)
	rec := got.Lookup("aws_vpc.main")
	require.NotNil(t, rec)
	assert.Equal(t, "vpc-0abc", rec.ExternalID)
	assert.Equal(t, "10.0.0.0/16", rec.Inputs["cidrBlock"])
}

func TestManager_MissingFileYieldsFreshState(t *testing.T) {
	m := testManager(t)

	got, err := m.Read(context.Background())
	require.NoError(t, err)

	assert.Equal(t, CurrentVersion, got.Version)
	assert.Equal(t, 0, got.Serial)
	assert.NotEmpty(t, got.Lineage)
	assert.Empty(t, got.Resources)
}

func TestManager_WriteIsPrivate(t *testing.T) {
	m := testManager(t)
	require.NoError(t, m.Write(context.Background(), sampleState()))

	info, err := os.Stat(m.path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestManager_CorruptFile(t *testing.T) {
	m := testManager(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(m.path), 0755))
	require.NoError(t, os.WriteFile(m.path, []byte("{not json"), 0600))

	_, err := m.Read(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse state file")
}

func TestNewBackend(t *testing.T) {
	// 1. nil config is rejected: local needs a path.
	_, err := NewBackend(nil)
	require.Error(t, err)

	// 2. Local backend.
	b, err := NewBackend(&BackendConfig{Type: "local", Config: map[string]string{"path": filepath.Join(t.TempDir(), "state.json")}})
	require.NoError(t, err)
	assert.IsType(t, &Manager{}, b)

	// 3. Unknown type.
	_, err = NewBackend(&BackendConfig{Type: "consul"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown backend type")
}

func TestSink_PersistsThroughBackend(t *testing.T) {
	m := testManager(t)
	ctx := context.Background()

	sink := &Sink{Backend: m}
	require.NoError(t, sink.Persist(ctx, sampleState()))

	got, err := m.Read(ctx)
	require.NoError(t, err)
	assert.NotNil(t, got.Lookup("aws_vpc.main"))
}
