package secret

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsRef(t *testing.T) {
	assert.True(t, IsRef("secret://env/DB_PASSWORD"))
	assert.False(t, IsRef("hunter2"))
	assert.False(t, IsRef("ptr://vpc/main/id"))
}

func TestFingerprint(t *testing.T) {
	fp := Fingerprint("hunter2")

	assert.True(t, IsOpaque(fp))
	assert.NotContains(t, fp, "hunter2")
	// Deterministic, so rotation detection works across runs.
	assert.Equal(t, fp, Fingerprint("hunter2"))
	assert.NotEqual(t, fp, Fingerprint("hunter3"))

	// Opaque prefix plus hex sha256.
	assert.Len(t, strings.TrimPrefix(fp, Opaque), 64)
}

func TestResolver_Env(t *testing.T) {
	t.Setenv("TEST_DB_PASSWORD", "hunter2")

	r := NewResolver()
	value, err := r.Resolve(context.Background(), "secret://env/TEST_DB_PASSWORD")
	require.NoError(t, err)
	assert.Equal(t, "hunter2", value)
}

func TestResolver_EnvMissing(t *testing.T) {
	r := NewResolver()
	_, err := r.Resolve(context.Background(), "secret://env/TERRANE_TEST_UNSET_VAR")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TERRANE_TEST_UNSET_VAR")
}

func TestResolver_CachesWithinRun(t *testing.T) {
	t.Setenv("TEST_DB_PASSWORD", "hunter2")

	r := NewResolver()
	ctx := context.Background()

	first, err := r.Resolve(ctx, "secret://env/TEST_DB_PASSWORD")
	require.NoError(t, err)

	// The cached value wins even if the source changes mid-run.
	t.Setenv("TEST_DB_PASSWORD", "rotated")
	second, err := r.Resolve(ctx, "secret://env/TEST_DB_PASSWORD")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestResolver_Malformed(t *testing.T) {
	r := NewResolver()
	ctx := context.Background()

	for _, uri := range []string{
		"secret://env",
		"secret://env/",
		"secret://",
	} {
		_, err := r.Resolve(ctx, uri)
		assert.Error(t, err, uri)
	}
}

func TestResolver_UnknownSource(t *testing.T) {
	r := NewResolver()
	_, err := r.Resolve(context.Background(), "secret://vault/kv/db")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown secret source "vault"`)
}
