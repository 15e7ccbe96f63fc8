package model

import (
	"gorm.io/gorm"
)

func AutoMigrate(db *gorm.DB, key string) error {
	switch key {

	case "ChangeRecord":
		return db.AutoMigrate(ChangeRecord{})

	case "Device":
		return db.AutoMigrate(Device{})

	case "LocalIdentity":
		return db.AutoMigrate(LocalIdentity{})

	case "EntitySnapshot":
		return db.AutoMigrate(EntitySnapshot{})

	case "SyncSession":
		return db.AutoMigrate(SyncSession{})

	case "VaultSyncState":
		return db.AutoMigrate(VaultSyncState{})
	}
	return nil
}

// AutoMigrateAll 迁移全部同步引擎表
func AutoMigrateAll(db *gorm.DB) error {
	return db.AutoMigrate(
		ChangeRecord{},
		Device{},
		LocalIdentity{},
		EntitySnapshot{},
		SyncSession{},
		VaultSyncState{},
	)
}
