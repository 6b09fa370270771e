package provider

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubProvider counts Configure calls; behavior is fixed.
type stubProvider struct {
	configured   int
	configureErr error
	schema       Schema
}

func (s *stubProvider) Configure(ctx context.Context) error {
	s.configured++
	return s.configureErr
}

func (s *stubProvider) Schema() Schema { return s.schema }

func (s *stubProvider) Create(ctx context.Context, typ string, config map[string]any) (string, map[string]any, error) {
	return "stub-1", nil, nil
}

func (s *stubProvider) Read(ctx context.Context, typ, externalID string) (map[string]any, bool, error) {
	return nil, true, nil
}

func (s *stubProvider) Update(ctx context.Context, typ, externalID string, config map[string]any) (map[string]any, error) {
	return nil, nil
}

func (s *stubProvider) Delete(ctx context.Context, typ, externalID string) error {
	return nil
}

func TestRegistry_LoadProvider(t *testing.T) {
	stub := &stubProvider{}
	RegisterFactory("stub-load", func() Interface { return stub })

	r := NewRegistry()
	ctx := context.Background()

	require.NoError(t, r.LoadProvider(ctx, "stub-load"))
	assert.Equal(t, 1, stub.configured)

	// Loading again is a no-op: still configured once.
	require.NoError(t, r.LoadProvider(ctx, "stub-load"))
	assert.Equal(t, 1, stub.configured)

	p, err := r.Get("stub-load")
	require.NoError(t, err)
	assert.Same(t, stub, p)
}

func TestRegistry_UnknownProvider(t *testing.T) {
	r := NewRegistry()
	err := r.LoadProvider(context.Background(), "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown provider: missing")

	_, err = r.Get("missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "provider not loaded")
}

func TestRegistry_ConfigureFailure(t *testing.T) {
	stub := &stubProvider{configureErr: errors.New("no credentials")}
	RegisterFactory("stub-badconf", func() Interface { return stub })

	r := NewRegistry()
	err := r.LoadProvider(context.Background(), "stub-badconf")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to configure provider stub-badconf")

	// A failed load leaves the provider absent.
	_, err = r.Get("stub-badconf")
	assert.Error(t, err)
}

func TestRegisterFactory_DuplicatePanics(t *testing.T) {
	RegisterFactory("stub-dup", func() Interface { return &stubProvider{} })
	assert.Panics(t, func() {
		RegisterFactory("stub-dup", func() Interface { return &stubProvider{} })
	})
}

func TestRegistry_SchemaFor(t *testing.T) {
	stub := &stubProvider{
		schema: Schema{
			"widget": {
				Attributes: map[string]Attribute{
					"size": {ForceNew: true},
				},
			},
		},
	}
	RegisterFactory("stub-schema", func() Interface { return stub })

	r := NewRegistry()
	require.NoError(t, r.LoadProvider(context.Background(), "stub-schema"))

	rs, err := r.SchemaFor("stub-schema", "widget")
	require.NoError(t, err)
	assert.True(t, rs.ForcesReplacement("size"))
	assert.False(t, rs.ForcesReplacement("color"))

	_, err = r.SchemaFor("stub-schema", "gadget")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not support resource type gadget")
}

func TestProviderError(t *testing.T) {
	inner := errors.New("throttled")
	err := &Error{Provider: "aws", Type: "aws_vpc", Op: "create", Retryable: true, Err: inner}

	assert.ErrorIs(t, err, inner)
	assert.True(t, IsRetryable(err))
	assert.False(t, IsRetryable(errors.New("plain")))
	assert.Contains(t, err.Error(), "aws")
}
