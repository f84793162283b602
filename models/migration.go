package models

import (
	"fmt"

	"gorm.io/gorm"
)

// MigrateTable creates or updates the lifecycle tables, including the scoped
// unique index on invitations.active_key and the nullable job_records FK.
func MigrateTable(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&Invitation{},
		&JobRecord{},
		&LifecycleEvent{},
		&IdempotencyKey{},
	); err != nil {
		return fmt.Errorf("migrate lifecycle tables: %w", err)
	}
	return nil
}
