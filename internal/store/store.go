// Package store persists crash records, the geocode cache, and run audit
// rows. Two backends implement Store: SQLite (default) and Postgres.
package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mke-data/crash-cli/internal/model"
)

// DayType filters crashes by weekday vs weekend.
type DayType string

const (
	DayTypeAll     DayType = ""
	DayTypeWeekday DayType = "weekday"
	DayTypeWeekend DayType = "weekend"
)

// CrashFilter specifies criteria for crash queries. The zero value matches
// everything.
type CrashFilter struct {
	From    *time.Time
	To      *time.Time // exclusive
	Keyword string     // substring match on crash_location, case-insensitive
	DayType DayType
	Limit   int
	Offset  int
}

// CacheKey returns a canonical string for this filter, used as the dashboard
// query-cache key.
func (f CrashFilter) CacheKey() string {
	var b strings.Builder
	if f.From != nil {
		b.WriteString(f.From.UTC().Format(time.RFC3339))
	}
	b.WriteByte('|')
	if f.To != nil {
		b.WriteString(f.To.UTC().Format(time.RFC3339))
	}
	fmt.Fprintf(&b, "|%s|%s|%d|%d", strings.ToUpper(strings.TrimSpace(f.Keyword)), f.DayType, f.Limit, f.Offset)
	return b.String()
}

// Store defines the persistence interface for the crash pipeline.
//
// RecordGeocode is idempotent: a repeated write for an already-resolved
// address is a no-op, and the only permitted update is the
// unresolved-to-resolved transition. Cache entries are never deleted.
type Store interface {
	// Crash fact table
	ResetCrashes(ctx context.Context) error
	InsertCrashes(ctx context.Context, records []model.CrashRecord) (int, error)
	ListCrashes(ctx context.Context, filter CrashFilter) ([]model.CrashRecord, error)
	ListUngeocodedCrashes(ctx context.Context) ([]model.CrashRecord, error)
	SetCrashCoordinates(ctx context.Context, caseNumber string, lat, lon float64) error

	// Dashboard aggregates
	CrashStats(ctx context.Context, filter CrashFilter) (*model.CrashStats, error)
	CountByWeekday(ctx context.Context, filter CrashFilter) ([]model.WeekdayCount, error)
	CountByMonth(ctx context.Context, filter CrashFilter) ([]model.MonthCount, error)
	HeatmapPoints(ctx context.Context, filter CrashFilter) ([]model.Point, error)

	// Geocode cache
	LookupGeocode(ctx context.Context, location string) (*model.GeocodeCacheEntry, error)
	LookupGeocodeBatch(ctx context.Context, locations []string) (map[string]model.GeocodeCacheEntry, error)
	RecordGeocode(ctx context.Context, entry model.GeocodeCacheEntry) error
	GeocodeCacheStats(ctx context.Context) (*model.GeocodeCacheStats, error)

	// Run audit
	RecordLoadRun(ctx context.Context, run model.LoadRun) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// weekdayOrder fixes the bucket order for CountByWeekday output.
var weekdayOrder = []string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday", "Sunday"}

// orderWeekdays maps raw day counts into Monday..Sunday order, filling
// missing days with zero.
func orderWeekdays(counts map[string]int) []model.WeekdayCount {
	out := make([]model.WeekdayCount, 0, len(weekdayOrder))
	for _, day := range weekdayOrder {
		out = append(out, model.WeekdayCount{DayOfWeek: day, Count: counts[day]})
	}
	return out
}

// orderMonths maps raw month counts into 1..12 order, filling missing months
// with zero.
func orderMonths(counts map[int]int) []model.MonthCount {
	out := make([]model.MonthCount, 0, 12)
	for m := 1; m <= 12; m++ {
		out = append(out, model.MonthCount{Month: m, Count: counts[m]})
	}
	return out
}

const datetimeLayout = "2006-01-02 15:04:05"
