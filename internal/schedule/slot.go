/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package schedule

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/friendsincode/grimnir_playout/internal/models"
)

// IdleGrace is the lead time given to an item scheduled after the schedule ran dry.
const IdleGrace = time.Minute

// Mode describes how a slot was placed.
type Mode string

const (
	ModeFirst      Mode = "first"        // empty schedule, starts now
	ModeBackToBack Mode = "back_to_back" // starts exactly when the previous record ends
	ModeIdleGap    Mode = "idle_gap"     // previous record already ended, starts now + IdleGrace
)

// Slot is the computed start instant of the next record.
type Slot struct {
	Start time.Time
	Mode  Mode
}

// Start returns the start instant of rec in loc.
func Start(rec *models.ScheduleRecord, loc *time.Location) (time.Time, error) {
	return ParseStart(rec.StartDate, rec.StartTime, loc)
}

// End returns the instant at which rec stops playing.
func End(rec *models.ScheduleRecord, loc *time.Location) (time.Time, error) {
	start, err := Start(rec, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("record %d: %w", rec.ID, err)
	}
	d, err := ParseDuration(rec.Duration)
	if err != nil {
		return time.Time{}, fmt.Errorf("record %d: %w", rec.ID, err)
	}
	return start.Add(d), nil
}

// NextSlot computes where the next record goes.
//
// With no previous record the slot starts at now. If now is past the end of
// last, the schedule went idle and the slot starts at now+IdleGrace.
// Otherwise it starts at the end of last, rounded up to a whole second
// because stored start times have no sub-second part.
func NextSlot(last *models.ScheduleRecord, now time.Time, loc *time.Location) (Slot, error) {
	if last == nil {
		return Slot{Start: now, Mode: ModeFirst}, nil
	}

	end, err := End(last, loc)
	if err != nil {
		return Slot{}, err
	}

	if now.After(end) {
		return Slot{Start: now.Add(IdleGrace), Mode: ModeIdleGap}, nil
	}
	return Slot{Start: ceilSecond(end), Mode: ModeBackToBack}, nil
}

func ceilSecond(t time.Time) time.Time {
	whole := t.Truncate(time.Second)
	if whole.Before(t) {
		return whole.Add(time.Second)
	}
	return whole
}

// Draft is a schedule record that has not been assigned an identifier yet.
type Draft struct {
	Start    time.Time
	ItemName string
	ItemPath string
	Duration time.Duration
	Channel  int
	Flag     bool
}

// NewDraft builds a draft for the media descriptor at path.
func NewDraft(path string, start time.Time, duration time.Duration, channel int) Draft {
	return Draft{
		Start:    start,
		ItemName: ItemName(path),
		ItemPath: path,
		Duration: duration,
		Channel:  channel,
	}
}

// Record serialises the draft into its stored textual form under id.
func (d Draft) Record(id int64, loc *time.Location) models.ScheduleRecord {
	date, clock := FormatStart(d.Start, loc)
	return models.ScheduleRecord{
		ID:        id,
		StartTime: clock,
		StartDate: date,
		ItemName:  d.ItemName,
		ItemPath:  d.ItemPath,
		Duration:  FormatDuration(d.Duration),
		Channel:   d.Channel,
		Flag:      d.Flag,
	}
}

// ItemName is the base name of path without its extension.
// Both slash styles are accepted since queue files are often written on Windows hosts.
func ItemName(path string) string {
	base := path
	if i := strings.LastIndexAny(base, `/\`); i >= 0 {
		base = base[i+1:]
	}
	return strings.TrimSuffix(base, filepath.Ext(base))
}
