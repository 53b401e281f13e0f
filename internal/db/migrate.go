/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/friendsincode/grimnir_playout/internal/models"
)

// Migrate creates or updates the schedule table named table.
//
// In production the table usually pre-exists, owned by the playout software
// that reads it; migrating it is harmless since AutoMigrate only adds.
func Migrate(database *gorm.DB, table string) error {
	if table == "" {
		table = models.DefaultScheduleTable
	}
	if err := database.Table(table).AutoMigrate(&models.ScheduleRecord{}); err != nil {
		return fmt.Errorf("migrate table %s: %w", table, err)
	}
	return nil
}
