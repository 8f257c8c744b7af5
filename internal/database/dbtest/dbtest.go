// Package dbtest opens throwaway sqlite databases for tests.
package dbtest

import (
	"context"
	"crypto/rand"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/thereayou/cipherchat/internal/database"
	"github.com/thereayou/cipherchat/internal/models"
	"go.uber.org/zap"
	"golang.org/x/crypto/nacl/box"
)

// New returns a migrated in-memory database private to the test.
func New(t testing.TB) *database.Database {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	d, err := database.Connect("sqlite", dsn, zap.NewNop())
	require.NoError(t, err)

	sqlDB, err := d.DB().DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	return d
}

// User stores an identity with a fresh curve25519 key pair and returns it
// together with its private key.
func User(t testing.TB, d *database.Database, name string) (*models.User, *[32]byte) {
	t.Helper()
	pub, priv, err := box.GenerateKey(rand.Reader)
	require.NoError(t, err)

	u := &models.User{
		Username:     name,
		Email:        name + "@example.com",
		PasswordHash: "x",
		PublicKey:    pub[:],
	}
	require.NoError(t, d.SaveUser(context.Background(), u))
	return u, priv
}
