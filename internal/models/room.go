/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import "time"

// RoomChannel persists the last known state of one channel in a room so
// late joiners and restarted relays can rebuild the room.
type RoomChannel struct {
	RoomID    string  `gorm:"primaryKey;type:varchar(64)"`
	ChannelID string  `gorm:"primaryKey;type:varchar(64)"`
	Kind      string  `gorm:"type:varchar(8)"`
	GroupName string  `gorm:"type:varchar(64)"`
	Track     string  `gorm:"type:varchar(16)"`
	State     string  `gorm:"type:varchar(16);index"`
	Filename  string  `gorm:"type:varchar(512)"`
	AssetID   string  `gorm:"type:varchar(128)"`
	URL       string  `gorm:"type:text"`
	Volume    float64 `gorm:"not null"`
	Looping   bool
	UpdatedAt time.Time
}

// TableName overrides GORM table name.
func (RoomChannel) TableName() string {
	return "room_channels"
}

// NewRoomChannel converts a channel into its persisted row.
func NewRoomChannel(roomID string, ch Channel) RoomChannel {
	return RoomChannel{
		RoomID:    roomID,
		ChannelID: ch.ID,
		Kind:      string(ch.Kind),
		GroupName: ch.Group,
		Track:     ch.Track,
		State:     string(ch.State),
		Filename:  ch.Source.Filename,
		AssetID:   ch.Source.AssetID,
		URL:       ch.Source.URL,
		Volume:    ch.Volume,
		Looping:   ch.Looping,
	}
}

// Channel converts the row back into a channel. Playback position is not persisted.
func (r RoomChannel) Channel() Channel {
	ch := NewChannel(r.ChannelID, ChannelKind(r.Kind), r.GroupName, r.Track)
	ch.State = PlaybackState(r.State)
	ch.Source = SourceRef{Filename: r.Filename, AssetID: r.AssetID, URL: r.URL}
	ch.Volume = ClampVolume(r.Volume)
	ch.Looping = r.Looping && ch.Kind == ChannelBGM
	if ch.State == StatePaused && ch.IsSFX() {
		ch.State = StateStopped
	}
	return ch
}
