package model

import "fmt"

// DecodeDayRecord builds a DayRecord from stored fields. A missing document
// (nil fields) decodes to an empty record for key.
func DecodeDayRecord(key string, fields map[string]any) (DayRecord, error) {
	rec := DayRecord{Date: key, Shifts: []Shift{}}
	if fields == nil {
		return rec, nil
	}
	if v, ok := fields[FieldDate].(string); ok && v != "" {
		rec.Date = v
	}
	shifts, err := ShiftsFromField(fields[FieldShifts])
	if err != nil {
		return DayRecord{}, fmt.Errorf("day %s: %w", key, err)
	}
	rec.Shifts = shifts
	if v, ok := fields[FieldTotalShiftTime]; ok && v != nil {
		total, err := Float64(v)
		if err != nil {
			return DayRecord{}, fmt.Errorf("day %s: %s: %w", key, FieldTotalShiftTime, err)
		}
		rec.TotalShiftTime = total
	}
	return rec, nil
}

// DecodeProfile builds a Profile from a ledger root document.
func DecodeProfile(fields map[string]any) Profile {
	name, _ := fields[FieldUsername].(string)
	return Profile{Username: name}
}

// OpenShift returns the index of the last shift without outMillis, or -1.
func (d DayRecord) OpenShift() int {
	for i := len(d.Shifts) - 1; i >= 0; i-- {
		if d.Shifts[i].Open() {
			return i
		}
	}
	return -1
}
