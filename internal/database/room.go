package database

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/thereayou/cipherchat/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CreateRoom inserts the room and makes owner its first member.
func (d *Database) CreateRoom(ctx context.Context, room *models.Room, owner uuid.UUID) error {
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(room).Error; err != nil {
			return err
		}
		return tx.Create(&models.RoomMembership{
			RoomID:   room.ID,
			UserID:   owner,
			Role:     models.RoleOwner,
			JoinedAt: time.Now(),
		}).Error
	})
	return storeErr(err, "room", "CreateRoom.Transaction")
}

func (d *Database) GetRoom(ctx context.Context, id uuid.UUID) (*models.Room, error) {
	var room models.Room
	if err := d.db.WithContext(ctx).First(&room, "id = ?", id).Error; err != nil {
		return nil, storeErr(err, "room", "GetRoom.First")
	}
	return &room, nil
}

// GetOrCreateRoomByName returns the room named room.Name, inserting room when
// none exists. Concurrent callers converge on the same row.
func (d *Database) GetOrCreateRoomByName(ctx context.Context, room *models.Room) (*models.Room, error) {
	db := d.db.WithContext(ctx)
	err := db.Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "name"}}, DoNothing: true}).
		Create(room).Error
	if err != nil {
		return nil, storeErr(err, "room", "GetOrCreateRoomByName.Create")
	}

	var existing models.Room
	if err := db.Where("name = ?", room.Name).First(&existing).Error; err != nil {
		return nil, storeErr(err, "room", "GetOrCreateRoomByName.First")
	}
	return &existing, nil
}

// UpdateRoom writes the room's settings. The key version is owned by
// CreateVersion and is never written here.
func (d *Database) UpdateRoom(ctx context.Context, room *models.Room) error {
	res := d.db.WithContext(ctx).Model(room).
		Select("name", "topic", "keep_history", "membership_required", "encryption_scheme").
		Updates(room)
	if res.Error != nil {
		return storeErr(res.Error, "room", "UpdateRoom.Updates")
	}
	if res.RowsAffected == 0 {
		return storeErr(gorm.ErrRecordNotFound, "room", "UpdateRoom.Updates")
	}
	return nil
}

// AvailableRooms lists open rooms plus membership-required rooms the user
// belongs to.
func (d *Database) AvailableRooms(ctx context.Context, userID uuid.UUID) ([]models.Room, error) {
	var rooms []models.Room
	err := d.db.WithContext(ctx).
		Where("membership_required = ?", false).
		Or("id IN (?)", d.db.Model(&models.RoomMembership{}).Select("room_id").Where("user_id = ?", userID)).
		Order("name ASC").
		Find(&rooms).Error
	if err != nil {
		return nil, storeErr(err, "rooms", "AvailableRooms.Find")
	}
	return rooms, nil
}

func (d *Database) Membership(ctx context.Context, roomID, userID uuid.UUID) (*models.RoomMembership, error) {
	var m models.RoomMembership
	err := d.db.WithContext(ctx).Where("room_id = ? AND user_id = ?", roomID, userID).First(&m).Error
	if err != nil {
		return nil, storeErr(err, "membership", "Membership.First")
	}
	return &m, nil
}

func (d *Database) Members(ctx context.Context, roomID uuid.UUID) ([]models.RoomMembership, error) {
	var members []models.RoomMembership
	err := d.db.WithContext(ctx).Where("room_id = ?", roomID).Order("joined_at ASC").Find(&members).Error
	if err != nil {
		return nil, storeErr(err, "members", "Members.Find")
	}
	return members, nil
}

// UpsertMembership creates the membership or updates its role.
func (d *Database) UpsertMembership(ctx context.Context, m *models.RoomMembership) error {
	if m.JoinedAt.IsZero() {
		m.JoinedAt = time.Now()
	}
	err := d.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "room_id"}, {Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"role"}),
	}).Create(m).Error
	return storeErr(err, "membership", "UpsertMembership.Create")
}

// SetMembershipActive records a join or part. Joining an open room without a
// membership creates one with the member role.
func (d *Database) SetMembershipActive(ctx context.Context, roomID, userID uuid.UUID, active bool) error {
	db := d.db.WithContext(ctx)
	if !active {
		err := db.Model(&models.RoomMembership{}).
			Where("room_id = ? AND user_id = ?", roomID, userID).
			Update("active", false).Error
		return storeErr(err, "membership", "SetMembershipActive.Update")
	}

	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "room_id"}, {Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"active"}),
	}).Create(&models.RoomMembership{
		RoomID:   roomID,
		UserID:   userID,
		Role:     models.RoleMember,
		Active:   true,
		JoinedAt: time.Now(),
	}).Error
	return storeErr(err, "membership", "SetMembershipActive.Create")
}

// ActiveRooms lists the rooms the user is currently joined to.
func (d *Database) ActiveRooms(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := d.db.WithContext(ctx).Model(&models.RoomMembership{}).
		Where("user_id = ? AND active = ?", userID, true).
		Pluck("room_id", &ids).Error
	if err != nil {
		return nil, storeErr(err, "rooms", "ActiveRooms.Pluck")
	}
	return ids, nil
}

func (d *Database) ListRoomsByScheme(ctx context.Context, scheme models.EncryptionScheme) ([]models.Room, error) {
	var rooms []models.Room
	if err := d.db.WithContext(ctx).Where("encryption_scheme = ?", scheme).Find(&rooms).Error; err != nil {
		return nil, storeErr(err, "rooms", "ListRoomsByScheme.Find")
	}
	return rooms, nil
}
