package database

import (
	stderrors "errors"

	"github.com/pkg/errors"
	"github.com/thereayou/cipherchat/internal/services"
	"github.com/thereayou/cipherchat/pkg/apperr"
	"gorm.io/gorm"
)

// Database implements every store contract on top of gorm.
type Database struct {
	db *gorm.DB
}

var (
	_ services.IdentityStore = (*Database)(nil)
	_ services.RoomStore     = (*Database)(nil)
	_ services.ChatStore     = (*Database)(nil)
	_ services.MessageStore  = (*Database)(nil)
	_ services.KeyStore      = (*Database)(nil)
)

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// DB exposes the underlying handle for lifecycle management.
func (d *Database) DB() *gorm.DB {
	return d.db
}

// storeErr maps gorm errors onto application errors. what names the record for
// not-found errors, op names the failing call.
func storeErr(err error, what, op string) error {
	if err == nil {
		return nil
	}
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.NotFound(what + " not found")
	}
	if stderrors.Is(err, gorm.ErrDuplicatedKey) {
		return apperr.Conflict(what + " already exists")
	}
	return apperr.Storage(op+" failed", errors.Wrap(err, op))
}
