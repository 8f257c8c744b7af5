package database

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/thereayou/cipherchat/internal/models"
	"gorm.io/gorm"
)

func (d *Database) CurrentVersion(ctx context.Context, roomID uuid.UUID) (uint64, error) {
	room, err := d.GetRoom(ctx, roomID)
	if err != nil {
		return 0, err
	}
	return room.KeyVersion, nil
}

// MemberVersions returns the newest version each member holds a sealed key for.
func (d *Database) MemberVersions(ctx context.Context, roomID uuid.UUID) (map[uuid.UUID]uint64, error) {
	type row struct {
		UserID    uuid.UUID
		VersionID uint64
	}
	var rows []row
	err := d.db.WithContext(ctx).Model(&models.MemberKey{}).
		Select("user_id, MAX(version_id) AS version_id").
		Where("room_id = ?", roomID).
		Group("user_id").
		Scan(&rows).Error
	if err != nil {
		return nil, storeErr(err, "member keys", "MemberVersions.Scan")
	}

	versions := make(map[uuid.UUID]uint64, len(rows))
	for _, r := range rows {
		versions[r.UserID] = r.VersionID
	}
	return versions, nil
}

// CreateVersion writes the version row, every sealed key and the room pointer in
// one transaction, so readers never observe a current version with missing keys.
func (d *Database) CreateVersion(ctx context.Context, roomID uuid.UUID, sealed map[uuid.UUID][]byte) (uint64, error) {
	var version models.KeyVersion
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		version = models.KeyVersion{RoomID: roomID, CreatedAt: time.Now()}
		if err := tx.Create(&version).Error; err != nil {
			return err
		}

		keys := make([]models.MemberKey, 0, len(sealed))
		for userID, ciphertext := range sealed {
			keys = append(keys, models.MemberKey{
				VersionID:  version.ID,
				UserID:     userID,
				RoomID:     roomID,
				Ciphertext: ciphertext,
				CreatedAt:  version.CreatedAt,
			})
		}
		if len(keys) > 0 {
			if err := tx.Create(&keys).Error; err != nil {
				return err
			}
		}

		res := tx.Model(&models.Room{}).Where("id = ?", roomID).Update("key_version", version.ID)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
	if err != nil {
		return 0, storeErr(err, "room", "CreateVersion.Transaction")
	}
	return version.ID, nil
}

// MemberKey returns the user's sealed key for the room's current version.
func (d *Database) MemberKey(ctx context.Context, roomID, userID uuid.UUID) (*models.MemberKey, error) {
	current, err := d.CurrentVersion(ctx, roomID)
	if err != nil {
		return nil, err
	}

	var key models.MemberKey
	err = d.db.WithContext(ctx).
		Where("room_id = ? AND user_id = ? AND version_id = ?", roomID, userID, current).
		First(&key).Error
	if err != nil {
		return nil, storeErr(err, "member key", "MemberKey.First")
	}
	return &key, nil
}
