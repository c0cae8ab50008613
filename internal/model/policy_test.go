package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseRunMode(t *testing.T) {
	tests := []struct {
		in   string
		want RunMode
		ok   bool
	}{
		{"cache_only", ModeCacheOnly, true},
		{"limited", ModeLimited, true},
		{"all", ModeAll, true},
		{"", ModeLimited, false},
		{"bogus", ModeLimited, false},
	}
	for _, tt := range tests {
		got, ok := ParseRunMode(tt.in)
		assert.Equal(t, tt.want, got, tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
	}
}

func TestRunPolicy_AllowCall(t *testing.T) {
	assert.False(t, RunPolicy{Mode: ModeCacheOnly, Quota: 100}.AllowCall(0))

	limited := RunPolicy{Mode: ModeLimited, Quota: 2}
	assert.True(t, limited.AllowCall(0))
	assert.True(t, limited.AllowCall(1))
	assert.False(t, limited.AllowCall(2))
	assert.False(t, limited.AllowCall(3))

	all := RunPolicy{Mode: ModeAll}
	assert.True(t, all.AllowCall(0))
	assert.True(t, all.AllowCall(1_000_000))
}

func TestRunPolicy_ZeroQuotaLimited(t *testing.T) {
	// limited with quota 0 behaves exactly like cache_only
	p := RunPolicy{Mode: ModeLimited, Quota: 0}
	assert.False(t, p.AllowCall(0))
}

func TestCrashRecord_DeriveFields(t *testing.T) {
	rec := CrashRecord{CrashDatetime: mustTime(t, "2023-07-15 14:30:00")} // a Saturday
	rec.DeriveFields()

	assert.Equal(t, 2023, rec.Year)
	assert.Equal(t, 7, rec.Month)
	assert.Equal(t, "Saturday", rec.DayOfWeek)
	assert.Equal(t, 14, rec.HourOfDay)
	assert.True(t, rec.IsWeekend)

	rec = CrashRecord{CrashDatetime: mustTime(t, "2023-07-17 08:00:00")} // a Monday
	rec.DeriveFields()
	assert.Equal(t, "Monday", rec.DayOfWeek)
	assert.False(t, rec.IsWeekend)
}

func TestCrashRecord_Geocoded(t *testing.T) {
	var rec CrashRecord
	assert.False(t, rec.Geocoded())

	lat, lon := 43.04, -87.91
	rec.Lat = &lat
	assert.False(t, rec.Geocoded())
	rec.Lon = &lon
	assert.True(t, rec.Geocoded())
}
