package model

import (
	"encoding/json"
	"fmt"
	"math"
)

// Document field names of a day record and a ledger root.
const (
	FieldDate           = "date"
	FieldShifts         = "shifts"
	FieldTotalShiftTime = "totalShiftTime"
	FieldInMillis       = "inMillis"
	FieldOutMillis      = "outMillis"
	FieldUsername       = "username"
)

// Shift is one clock-in/clock-out pair. OutMillis is nil while the shift is open.
type Shift struct {
	InMillis  int64  `json:"inMillis"`
	OutMillis *int64 `json:"outMillis,omitempty"`
}

// Open reports whether the shift has not been clocked out yet.
func (s Shift) Open() bool {
	return s.OutMillis == nil
}

// DayRecord is the per-user, per-day document holding that day's shifts.
type DayRecord struct {
	Date           string  `json:"date"`
	Shifts         []Shift `json:"shifts"`
	TotalShiftTime float64 `json:"totalShiftTime"`
}

// Profile is the ledger root document of a user.
type Profile struct {
	Username string `json:"username"`
}

// ShiftsToFields converts shifts to the document representation. Open shifts
// carry no outMillis key at all.
func ShiftsToFields(shifts []Shift) []any {
	out := make([]any, 0, len(shifts))
	for _, s := range shifts {
		m := map[string]any{FieldInMillis: s.InMillis}
		if s.OutMillis != nil {
			m[FieldOutMillis] = *s.OutMillis
		}
		out = append(out, m)
	}
	return out
}

// ShiftsFromField decodes the stored "shifts" value. A nil value yields an
// empty sequence. A shift without inMillis is rejected as corrupt.
func ShiftsFromField(v any) ([]Shift, error) {
	if v == nil {
		return []Shift{}, nil
	}
	list, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("shifts: unexpected type %T", v)
	}
	shifts := make([]Shift, 0, len(list))
	for i, item := range list {
		s, err := decodeShift(item)
		if err != nil {
			return nil, fmt.Errorf("shifts[%d]: %w", i, err)
		}
		shifts = append(shifts, s)
	}
	return shifts, nil
}

func decodeShift(item any) (Shift, error) {
	m, ok := item.(map[string]any)
	if !ok {
		return Shift{}, fmt.Errorf("unexpected type %T", item)
	}
	v, ok := m[FieldInMillis]
	if !ok || v == nil {
		return Shift{}, fmt.Errorf("missing %s", FieldInMillis)
	}
	in, err := Int64(v)
	if err != nil {
		return Shift{}, fmt.Errorf("%s: %w", FieldInMillis, err)
	}
	s := Shift{InMillis: in}
	if v, ok := m[FieldOutMillis]; ok && v != nil {
		out, err := Int64(v)
		if err != nil {
			return Shift{}, fmt.Errorf("%s: %w", FieldOutMillis, err)
		}
		s.OutMillis = &out
	}
	return s, nil
}

// Int64 converts a decoded document number to int64.
func Int64(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("non-integral timestamp %v", n)
		}
		return int64(n), nil
	case json.Number:
		return n.Int64()
	default:
		return 0, fmt.Errorf("unexpected number type %T", v)
	}
}

// Float64 converts a decoded document number to float64.
func Float64(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case int64:
		return float64(n), nil
	case int:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	default:
		return 0, fmt.Errorf("unexpected number type %T", v)
	}
}
