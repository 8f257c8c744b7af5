package database

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/thereayou/cipherchat/internal/models"
	"gorm.io/gorm"
)

func (d *Database) SaveUser(ctx context.Context, user *models.User) error {
	return storeErr(d.db.WithContext(ctx).Create(user).Error, "user", "SaveUser.Create")
}

func (d *Database) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	user := models.User{}
	if err := d.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		return nil, storeErr(err, "user", "GetUser.First")
	}
	return &user, nil
}

func (d *Database) FindUserByUsername(ctx context.Context, username string) (*models.User, error) {
	user := models.User{}
	if err := d.db.WithContext(ctx).Where("username = ?", username).First(&user).Error; err != nil {
		return nil, storeErr(err, "user", "FindUserByUsername.First")
	}
	return &user, nil
}

func (d *Database) FindUserByEmail(ctx context.Context, email string) (*models.User, error) {
	user := models.User{}
	if err := d.db.WithContext(ctx).Where("email = ?", email).First(&user).Error; err != nil {
		return nil, storeErr(err, "user", "FindUserByEmail.First")
	}
	return &user, nil
}

// ListUsers returns every identity ordered by username.
func (d *Database) ListUsers(ctx context.Context) ([]models.User, error) {
	var users []models.User
	if err := d.db.WithContext(ctx).Order("username ASC").Find(&users).Error; err != nil {
		return nil, storeErr(err, "users", "ListUsers.Find")
	}
	return users, nil
}

// SetActive flips the active flag and refreshes last_seen_at.
func (d *Database) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	res := d.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Updates(map[string]interface{}{
		"active":       active,
		"last_seen_at": time.Now(),
	})
	if res.Error != nil {
		return storeErr(res.Error, "user", "SetActive.Updates")
	}
	if res.RowsAffected == 0 {
		return storeErr(gorm.ErrRecordNotFound, "user", "SetActive.Updates")
	}
	return nil
}

// ToggleFavorite adds the room to the user's favorites or removes it, and
// reports whether it is a favorite afterwards.
func (d *Database) ToggleFavorite(ctx context.Context, userID, roomID uuid.UUID) (bool, error) {
	favorite := false
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("user_id = ? AND room_id = ?", userID, roomID).Delete(&models.Favorite{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			return nil
		}
		favorite = true
		return tx.Create(&models.Favorite{UserID: userID, RoomID: roomID, CreatedAt: time.Now()}).Error
	})
	if err != nil {
		return false, storeErr(err, "favorite", "ToggleFavorite.Transaction")
	}
	return favorite, nil
}

func (d *Database) FavoriteRooms(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := d.db.WithContext(ctx).Model(&models.Favorite{}).
		Where("user_id = ?", userID).
		Order("created_at ASC").
		Pluck("room_id", &ids).Error
	if err != nil {
		return nil, storeErr(err, "favorites", "FavoriteRooms.Pluck")
	}
	return ids, nil
}
