/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package room

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/friendsincode/tablemix/internal/models"
)

// Persister stores the last known channel records of each room.
type Persister interface {
	Load(ctx context.Context, roomID string) ([]models.Channel, error)
	Save(ctx context.Context, roomID string, channels []models.Channel) error
}

// Store persists room channel records through gorm.
type Store struct {
	db *gorm.DB
}

// NewStore creates a gorm-backed store.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Load returns the persisted channels of a room in channel id order. A room
// with no rows returns nil.
func (s *Store) Load(ctx context.Context, roomID string) ([]models.Channel, error) {
	var rows []models.RoomChannel
	if err := s.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("channel_id").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load room %s: %w", roomID, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	out := make([]models.Channel, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.Channel())
	}
	return out, nil
}

// Save upserts the given channels of a room.
func (s *Store) Save(ctx context.Context, roomID string, channels []models.Channel) error {
	if len(channels) == 0 {
		return nil
	}
	now := time.Now().UTC()
	rows := make([]models.RoomChannel, 0, len(channels))
	for _, ch := range channels {
		row := models.NewRoomChannel(roomID, ch)
		row.UpdatedAt = now
		rows = append(rows, row)
	}

	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "room_id"},
			{Name: "channel_id"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"kind", "group_name", "track", "state", "filename", "asset_id", "url", "volume", "looping", "updated_at",
		}),
	}).Create(&rows).Error; err != nil {
		return fmt.Errorf("save room %s: %w", roomID, err)
	}
	return nil
}

// Delete removes every record of a room.
func (s *Store) Delete(ctx context.Context, roomID string) error {
	if err := s.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Delete(&models.RoomChannel{}).Error; err != nil {
		return fmt.Errorf("delete room %s: %w", roomID, err)
	}
	return nil
}

// Rooms lists room ids with persisted records.
func (s *Store) Rooms(ctx context.Context) ([]string, error) {
	var ids []string
	if err := s.db.WithContext(ctx).
		Model(&models.RoomChannel{}).
		Distinct("room_id").
		Order("room_id").
		Pluck("room_id", &ids).Error; err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	return ids, nil
}
