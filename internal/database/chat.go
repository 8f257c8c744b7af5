package database

import (
	"context"

	"github.com/thereayou/cipherchat/internal/models"
	"gorm.io/gorm/clause"
)

func (d *Database) GetPrivateChat(ctx context.Context, id string) (*models.PrivateChat, error) {
	var chat models.PrivateChat
	if err := d.db.WithContext(ctx).First(&chat, "id = ?", id).Error; err != nil {
		return nil, storeErr(err, "chat", "GetPrivateChat.First")
	}
	return &chat, nil
}

// GetOrCreatePrivateChat inserts chat unless a chat with the same id exists and
// returns the stored row. The id is derived from the participants, so a lost
// insert race still yields the winner's identical record.
func (d *Database) GetOrCreatePrivateChat(ctx context.Context, chat *models.PrivateChat) (*models.PrivateChat, error) {
	db := d.db.WithContext(ctx)
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(chat).Error; err != nil {
		return nil, storeErr(err, "chat", "GetOrCreatePrivateChat.Create")
	}
	return d.GetPrivateChat(ctx, chat.ID)
}
