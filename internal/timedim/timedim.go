//-------------------------------------------------------------------------
//
// pgEdge Project Warehouse
//
// Copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

// Package timedim builds calendar dimension rows. Keys are the date
// encoded as YYYYMMDD, so any caller can compute a key without looking it
// up.
package timedim

import (
	"time"

	"github.com/pgEdge/pgedge-pmdw/internal/model"
)

// DefaultMarginDays pads the observed date range on both sides.
const DefaultMarginDays = 365

type monthDay struct {
	month time.Month
	day   int
}

// holidays is the fixed-date holiday table.
var holidays = map[monthDay]string{
	{time.January, 1}:   "New Year's Day",
	{time.May, 1}:       "Labour Day",
	{time.December, 25}: "Christmas Day",
	{time.December, 26}: "Boxing Day",
	{time.December, 31}: "New Year's Eve",
}

// Key returns the dimension key of the calendar day containing t.
func Key(t time.Time) int32 {
	return int32(t.Year()*10000 + int(t.Month())*100 + t.Day())
}

// KeyPtr returns the key of *t, or nil for a nil date.
func KeyPtr(t *time.Time) *int32 {
	if t == nil {
		return nil
	}
	k := Key(*t)
	return &k
}

// Holiday returns the holiday name for the day, if any.
func Holiday(t time.Time) (string, bool) {
	name, ok := holidays[monthDay{t.Month(), t.Day()}]
	return name, ok
}

// Row builds the dimension row for a single day.
func Row(t time.Time) model.DimTime {
	d := model.Date(t.Year(), t.Month(), t.Day())
	month := int(d.Month())
	quarter := (month-1)/3 + 1
	dow := int(d.Weekday())
	if dow == 0 {
		dow = 7
	}
	_, week := d.ISOWeek()
	name, holiday := Holiday(d)

	return model.DimTime{
		TimeKey:     Key(d),
		FullDate:    d,
		Year:        d.Year(),
		Half:        (quarter-1)/2 + 1,
		Quarter:     quarter,
		Month:       month,
		MonthName:   d.Month().String(),
		Day:         d.Day(),
		DayOfWeek:   dow,
		DayName:     d.Weekday().String(),
		WeekOfYear:  week,
		IsWeekend:   dow >= 6,
		IsHoliday:   holiday,
		HolidayName: name,
	}
}

// Build returns one row per day from min-margin to max+margin inclusive.
func Build(min, max time.Time, marginDays int) []model.DimTime {
	if marginDays < 0 {
		marginDays = 0
	}
	if max.Before(min) {
		min, max = max, min
	}
	first := model.Date(min.Year(), min.Month(), min.Day()).AddDate(0, 0, -marginDays)
	last := model.Date(max.Year(), max.Month(), max.Day()).AddDate(0, 0, marginDays)

	rows := make([]model.DimTime, 0, model.DaysBetween(first, last)+1)
	for d := first; !d.After(last); d = d.AddDate(0, 0, 1) {
		rows = append(rows, Row(d))
	}
	return rows
}

// Range returns the earliest and latest project and task dates in the
// snapshot. ok is false when the snapshot holds no dated records.
func Range(snap *model.Snapshot) (min, max time.Time, ok bool) {
	observe := func(t time.Time) {
		if !ok || t.Before(min) {
			min = t
		}
		if !ok || t.After(max) {
			max = t
		}
		ok = true
	}
	for _, p := range snap.Projects {
		observe(p.Start)
		observe(p.EndPlan)
		if p.EndReal != nil {
			observe(*p.EndReal)
		}
	}
	for _, t := range snap.Tasks {
		observe(t.Start)
		observe(t.EndPlan)
		if t.EndReal != nil {
			observe(*t.EndReal)
		}
	}
	return min, max, ok
}

// ForSnapshot builds the padded calendar covering every date in the
// snapshot.
func ForSnapshot(snap *model.Snapshot, marginDays int) []model.DimTime {
	min, max, ok := Range(snap)
	if !ok {
		return nil
	}
	return Build(min, max, marginDays)
}
