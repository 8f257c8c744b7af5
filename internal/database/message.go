package database

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/thereayou/cipherchat/internal/models"
	"github.com/thereayou/cipherchat/internal/services"
	"github.com/thereayou/cipherchat/pkg/apperr"
	"gorm.io/gorm"
)

func (d *Database) SaveMessage(ctx context.Context, message *models.Message) error {
	err := d.db.WithContext(ctx).Create(message).Error
	if errors.Is(err, models.ErrChatReference) {
		return apperr.Wrap(apperr.CodeValidationFailed, "invalid message", err)
	}
	return storeErr(err, "message", "SaveMessage.Create")
}

// Page returns up to q.Limit messages of one chat, oldest first. With a
// reference it returns the messages sent before the referenced one.
func (d *Database) Page(ctx context.Context, q services.PageQuery) ([]models.Message, error) {
	db := d.db.WithContext(ctx)

	scoped, err := scopeChat(db, q)
	if err != nil {
		return nil, err
	}

	if q.Reference != "" {
		var ref models.Message
		if err := scoped.Where("client_message_id = ?", q.Reference).First(&ref).Error; err != nil {
			return nil, storeErr(err, "reference message", "Page.Reference")
		}
		scoped = scoped.Where("created_at < ?", ref.CreatedAt)
	}

	var messages []models.Message
	if err := scoped.Order("created_at DESC").Limit(q.Limit).Find(&messages).Error; err != nil {
		return nil, storeErr(err, "messages", "Page.Find")
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

func scopeChat(db *gorm.DB, q services.PageQuery) (*gorm.DB, error) {
	if q.Limit <= 0 {
		return nil, apperr.Validation("page limit must be positive")
	}
	switch q.Kind {
	case services.KindRoom:
		roomID, err := uuid.Parse(q.ChatRef)
		if err != nil {
			return nil, apperr.Validation("invalid room id")
		}
		return db.Model(&models.Message{}).Where("room_id = ?", roomID).Session(&gorm.Session{}), nil
	case services.KindChat:
		if q.ChatRef == "" {
			return nil, apperr.Validation("missing chat id")
		}
		return db.Model(&models.Message{}).Where("chat_id = ?", q.ChatRef).Session(&gorm.Session{}), nil
	default:
		return nil, apperr.Validation("unknown chat type " + string(q.Kind))
	}
}
