package storage

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vestio/vestio/internal/util"
)

func TestEnvelope(t *testing.T) {
	key, err := util.NewAESKey()
	require.NoError(t, err)
	plain := []byte("AT1")
	aad := []byte("slot:access_token")

	env, err := SealRecord(key, plain, aad)
	require.NoError(t, err)
	assert.Equal(t, 1, env.Ver)
	assert.Equal(t, "aes256gcm", env.Scheme)

	decrypted, err := OpenRecord(key, env, aad)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(plain, decrypted))

	t.Run("WrongAAD", func(t *testing.T) {
		_, err := OpenRecord(key, env, []byte("slot:refresh_token"))
		assert.Error(t, err)
	})

	t.Run("WrongKey", func(t *testing.T) {
		other, _ := util.NewAESKey()
		_, err := OpenRecord(other, env, aad)
		assert.Error(t, err)
	})

	t.Run("UnsupportedVersion", func(t *testing.T) {
		bad := env.Clone()
		bad.Ver = 2
		_, err := OpenRecord(key, bad, aad)
		assert.ErrorContains(t, err, "unsupported envelope version")
	})

	t.Run("UnsupportedScheme", func(t *testing.T) {
		bad := env.Clone()
		bad.Scheme = "raw"
		_, err := OpenRecord(key, bad, aad)
		assert.ErrorContains(t, err, "unsupported envelope scheme")
	})

	t.Run("NilEnvelope", func(t *testing.T) {
		_, err := OpenRecord(key, nil, aad)
		assert.Error(t, err)
	})

	t.Run("CloneIsolated", func(t *testing.T) {
		c := env.Clone()
		c.Nonce[0] ^= 0xFF
		assert.NotEqual(t, c.Nonce[0], env.Nonce[0])
	})
}
