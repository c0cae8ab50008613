package model

import "time"

// CrashRecord represents one traffic incident from the Milwaukee crash feed.
// A record is built once during ingest and is immutable afterwards, except
// that enrichment may attach coordinates.
type CrashRecord struct {
	CaseNumber    string    `json:"case_number"`
	CrashDatetime time.Time `json:"crash_datetime"`
	Year          int       `json:"year"`
	Month         int       `json:"month"`
	DayOfWeek     string    `json:"day_of_week"`
	HourOfDay     int       `json:"hour_of_day"`
	IsWeekend     bool      `json:"is_weekend"`
	CrashLocation string    `json:"crash_location"`
	Lat           *float64  `json:"lat,omitempty"`
	Lon           *float64  `json:"lon,omitempty"`
}

// Geocoded reports whether the record carries resolved coordinates.
func (r *CrashRecord) Geocoded() bool {
	return r.Lat != nil && r.Lon != nil
}

// DeriveFields fills the analysis columns from CrashDatetime.
func (r *CrashRecord) DeriveFields() {
	t := r.CrashDatetime
	r.Year = t.Year()
	r.Month = int(t.Month())
	r.DayOfWeek = t.Weekday().String()
	r.HourOfDay = t.Hour()
	r.IsWeekend = t.Weekday() == time.Saturday || t.Weekday() == time.Sunday
}

// CrashStats holds aggregate numbers for the KPI endpoint and post-load summary.
type CrashStats struct {
	Total        int     `json:"total"`
	AvgHour      float64 `json:"avg_hour"`
	WeekendShare float64 `json:"weekend_share"` // fraction 0..1
	Geocoded     int     `json:"geocoded"`
}

// Point is one geocoded crash position for the heat map.
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// WeekdayCount is one bucket of the crashes-by-day-of-week aggregate.
type WeekdayCount struct {
	DayOfWeek string `json:"day_of_week"`
	Count     int    `json:"count"`
}

// MonthCount is one bucket of the crashes-by-month aggregate.
type MonthCount struct {
	Month int `json:"month"`
	Count int `json:"count"`
}
