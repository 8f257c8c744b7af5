package crypto

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/nacl/box"
)

func TestSealOpensWithMemberKey(t *testing.T) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	require.NoError(t, err)

	s := NewBoxSealer(nil)
	roomKey, err := s.GenerateKey()
	require.NoError(t, err)
	require.Len(t, roomKey, KeySize)

	sealed, err := s.Seal(roomKey, pub[:])
	require.NoError(t, err)

	opened, ok := box.OpenAnonymous(nil, sealed, pub, priv)
	require.True(t, ok)
	assert.Equal(t, roomKey, opened)
}

func TestSealRejectsBadKeys(t *testing.T) {
	s := NewBoxSealer(nil)
	_, err := s.Seal([]byte("k"), []byte("short"))
	assert.Error(t, err)

	_, err = s.Seal([]byte("k"), make([]byte, KeySize))
	assert.Error(t, err)
}

func TestGenerateKeyIsRandom(t *testing.T) {
	s := NewBoxSealer(nil)
	a, err := s.GenerateKey()
	require.NoError(t, err)
	b, err := s.GenerateKey()
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}
