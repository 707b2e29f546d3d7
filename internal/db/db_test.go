/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"path/filepath"
	"testing"

	"github.com/friendsincode/tablemix/internal/config"
	"github.com/friendsincode/tablemix/internal/models"
)

func TestConnectMigrateSQLite(t *testing.T) {
	cfg := &config.Config{
		Environment: "test",
		DBBackend:   config.DatabaseSQLite,
		DBDSN:       filepath.Join(t.TempDir(), "tablemix.db"),
	}
	database, err := Connect(cfg)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer Close(database)

	if err := Migrate(database); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if !database.Migrator().HasTable(&models.RoomChannel{}) {
		t.Fatal("expected room_channels table")
	}

	row := models.NewRoomChannel("r1", models.NewChannel("sfx_1", models.ChannelSFX, "", ""))
	if err := database.Create(&row).Error; err != nil {
		t.Fatalf("create: %v", err)
	}
	var count int64
	if err := database.Model(&models.RoomChannel{}).Where("room_id = ?", "r1").Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 row, got %d", count)
	}
	UpdateConnectionMetrics(database)
}

func TestConnectRejectsUnknownBackend(t *testing.T) {
	if _, err := Connect(&config.Config{DBBackend: "oracle", DBDSN: "x"}); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}
