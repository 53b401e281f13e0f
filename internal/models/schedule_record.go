/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

// DefaultScheduleTable is the table name used by the broadcast automation
// software that reads the schedule.
const DefaultScheduleTable = "schedule"

// ScheduleRecord is one committed row of the broadcast schedule.
//
// Date, time and duration are kept in the textual forms the playout software
// expects ("02 Jan 2006", "03:04:05 PM", "15:04:05[.fff]"). Rows are append
// only: the engine never updates or deletes them.
type ScheduleRecord struct {
	ID        int64  `gorm:"column:id;primaryKey;autoIncrement:false" json:"id"`
	StartTime string `gorm:"column:start_time;type:varchar(16);not null" json:"start_time"`
	StartDate string `gorm:"column:start_date;type:varchar(16);not null" json:"start_date"`
	ItemName  string `gorm:"column:item_name;type:varchar(255)" json:"item_name"`
	ItemPath  string `gorm:"column:item_path;type:varchar(1024)" json:"item_path"`
	Duration  string `gorm:"column:duration;type:varchar(32);not null" json:"duration"`
	Channel   int    `gorm:"column:channel" json:"channel"`
	Flag      bool   `gorm:"column:flag" json:"flag"`
}

// TableName returns the table name for GORM.
func (ScheduleRecord) TableName() string {
	return DefaultScheduleTable
}
