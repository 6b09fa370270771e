package state

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptState_PassThroughWithoutKey(t *testing.T) {
	t.Setenv(EncryptionKeyEnvVar, "")

	content := []byte(`{"version":1}`)
	out, err := EncryptState(content)
	require.NoError(t, err)
	assert.Equal(t, content, out)
	assert.False(t, IsEncrypted(out))
}

func TestEncryptState_RoundTrip(t *testing.T) {
	t.Setenv(EncryptionKeyEnvVar, "0123456789abcdef0123456789abcdef")

	content := []byte(`{"version":1,"serial":7}`)
	encrypted, err := EncryptState(content)
	require.NoError(t, err)

	assert.True(t, IsEncrypted(encrypted))
	assert.NotContains(t, string(encrypted), "serial")

	decrypted, err := DecryptState(encrypted)
	require.NoError(t, err)
	assert.Equal(t, content, decrypted)
}

func TestDecryptState_WrongKey(t *testing.T) {
	t.Setenv(EncryptionKeyEnvVar, "correct-key")
	encrypted, err := EncryptState([]byte(`{"version":1}`))
	require.NoError(t, err)

	t.Setenv(EncryptionKeyEnvVar, "wrong-key")
	_, err = DecryptState(encrypted)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to decrypt state")
}

func TestDecryptState_MissingKey(t *testing.T) {
	t.Setenv(EncryptionKeyEnvVar, "some-key")
	encrypted, err := EncryptState([]byte(`{"version":1}`))
	require.NoError(t, err)

	os.Unsetenv(EncryptionKeyEnvVar)
	_, err = DecryptState(encrypted)
	require.Error(t, err)
	assert.Contains(t, err.Error(), EncryptionKeyEnvVar)
}

func TestManager_EncryptedRoundTrip(t *testing.T) {
	t.Setenv(EncryptionKeyEnvVar, "0123456789abcdef0123456789abcdef")

	m := testManager(t)
	ctx := context.Background()

	want := sampleState()
	require.NoError(t, m.Write(ctx, want))

	// The file on disk is opaque.
	raw, err := os.ReadFile(m.path)
	require.NoError(t, err)
	assert.True(t, IsEncrypted(raw))
	assert.NotContains(t, string(raw), "vpc-0abc")

	got, err := m.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, want.Lineage, got.Lineage)
	assert.NotNil(t, got.Lookup("aws_vpc.main"))
}
