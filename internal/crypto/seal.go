// Package crypto generates shared room keys and seals them to member public keys.
package crypto

import (
	"crypto/rand"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/box"
)

// KeySize is the length of curve25519 public keys and of generated room keys.
const KeySize = 32

// Sealer encrypts a room key so only the holder of the matching private key
// can open it.
type Sealer interface {
	GenerateKey() ([]byte, error)
	Seal(roomKey, publicKey []byte) ([]byte, error)
}

// BoxSealer seals with NaCl anonymous boxes (curve25519, xsalsa20, poly1305).
type BoxSealer struct {
	rand io.Reader
}

func NewBoxSealer(r io.Reader) *BoxSealer {
	if r == nil {
		r = rand.Reader
	}
	return &BoxSealer{rand: r}
}

func (s *BoxSealer) GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(s.rand, key); err != nil {
		return nil, fmt.Errorf("generate room key: %w", err)
	}
	return key, nil
}

func (s *BoxSealer) Seal(roomKey, publicKey []byte) ([]byte, error) {
	if err := ValidatePublicKey(publicKey); err != nil {
		return nil, err
	}
	var pub [KeySize]byte
	copy(pub[:], publicKey)

	sealed, err := box.SealAnonymous(nil, roomKey, &pub, s.rand)
	if err != nil {
		return nil, fmt.Errorf("seal room key: %w", err)
	}
	return sealed, nil
}

// ValidatePublicKey checks the key has the curve25519 size and is not all zero.
func ValidatePublicKey(pub []byte) error {
	if len(pub) != KeySize {
		return fmt.Errorf("public key must be %d bytes, got %d", KeySize, len(pub))
	}
	var acc byte
	for _, b := range pub {
		acc |= b
	}
	if acc == 0 {
		return fmt.Errorf("public key is all zero")
	}
	return nil
}
