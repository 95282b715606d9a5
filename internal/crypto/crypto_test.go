package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealOpenRoundTrip(t *testing.T) {
	key, err := DeriveKey("hunter2")
	require.NoError(t, err)

	ct, err := Seal([]byte("the payload"), key)
	require.NoError(t, err)
	assert.NotContains(t, string(ct), "the payload")

	plain, err := Open(ct, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("the payload"), plain)
}

func TestOpenWrongKeyFails(t *testing.T) {
	right, err := DeriveKey("right")
	require.NoError(t, err)
	wrong, err := DeriveKey("wrong")
	require.NoError(t, err)

	ct, err := Seal([]byte("secret stuff"), right)
	require.NoError(t, err)

	_, err = Open(ct, wrong)
	assert.Error(t, err)
}

func TestOpenRejectsTamperedCiphertext(t *testing.T) {
	key, err := DeriveKey("hunter2")
	require.NoError(t, err)
	ct, err := Seal([]byte("payload"), key)
	require.NoError(t, err)

	ct[len(ct)-1] ^= 0x01
	_, err = Open(ct, key)
	assert.Error(t, err)
}

func TestDeriveKeyDeterministic(t *testing.T) {
	a, err := DeriveKey("same")
	require.NoError(t, err)
	b, err := DeriveKey("same")
	require.NoError(t, err)
	assert.Equal(t, a, b)

	c, err := DeriveKey("different")
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestHashSecretStableAndOpaque(t *testing.T) {
	h := HashSecret("hunter2")
	assert.Equal(t, HashSecret("hunter2"), h)
	assert.Len(t, h, 64)
	assert.NotContains(t, h, "hunter2")
	assert.NotEqual(t, h, HashSecret("hunter3"))
}
