package model_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tiliavir/trivial-attendance-tracker/internal/model"
)

func TestDecodeDayRecordMissingDocument(t *testing.T) {
	rec, err := model.DecodeDayRecord("2026-02-27", nil)
	require.NoError(t, err)
	assert.Equal(t, "2026-02-27", rec.Date)
	assert.Empty(t, rec.Shifts)
	assert.Equal(t, -1, rec.OpenShift())
}

func TestDecodeDayRecordFromJSON(t *testing.T) {
	raw := `{"date":"2026-02-27","shifts":[{"inMillis":1000,"outMillis":2000},{"inMillis":3000}],"totalShiftTime":0.1}`
	var fields map[string]any
	require.NoError(t, json.Unmarshal([]byte(raw), &fields))

	rec, err := model.DecodeDayRecord("2026-02-27", fields)
	require.NoError(t, err)
	require.Len(t, rec.Shifts, 2)
	assert.Equal(t, int64(1000), rec.Shifts[0].InMillis)
	require.NotNil(t, rec.Shifts[0].OutMillis)
	assert.Equal(t, int64(2000), *rec.Shifts[0].OutMillis)
	assert.True(t, rec.Shifts[1].Open())
	assert.Equal(t, 1, rec.OpenShift())
	assert.Equal(t, 0.1, rec.TotalShiftTime)
}

func TestDecodeDayRecordRejectsShiftWithoutIn(t *testing.T) {
	fields := map[string]any{
		"shifts": []any{map[string]any{"outMillis": int64(5)}},
	}
	_, err := model.DecodeDayRecord("2026-02-27", fields)
	assert.ErrorContains(t, err, "missing inMillis")
}

func TestShiftsToFieldsOmitsOutForOpenShift(t *testing.T) {
	out := int64(20)
	fields := model.ShiftsToFields([]model.Shift{{InMillis: 10, OutMillis: &out}, {InMillis: 30}})
	require.Len(t, fields, 2)

	closed := fields[0].(map[string]any)
	assert.Equal(t, int64(20), closed["outMillis"])

	open := fields[1].(map[string]any)
	_, has := open["outMillis"]
	assert.False(t, has)

	back, err := model.ShiftsFromField(fields)
	require.NoError(t, err)
	assert.Equal(t, 1, model.DayRecord{Shifts: back}.OpenShift())
}

func TestInt64(t *testing.T) {
	n, err := model.Int64(json.Number("1772199000123"))
	require.NoError(t, err)
	assert.Equal(t, int64(1772199000123), n)

	n, err = model.Int64(float64(1772199000123))
	require.NoError(t, err)
	assert.Equal(t, int64(1772199000123), n)

	_, err = model.Int64(1.5)
	assert.Error(t, err)

	_, err = model.Int64("12")
	assert.Error(t, err)
}
