package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mke-data/crash-cli/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func testCrash(caseNumber, dt, location string) model.CrashRecord {
	parsed, _ := time.Parse("2006-01-02 15:04:05", dt)
	rec := model.CrashRecord{
		CaseNumber:    caseNumber,
		CrashDatetime: parsed,
		CrashLocation: location,
	}
	rec.DeriveFields()
	return rec
}

// --- Geocode cache ---

func TestSQLite_RecordAndLookupGeocode(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	err := st.RecordGeocode(ctx, model.GeocodeCacheEntry{
		CrashLocation: "N 27TH ST & W CAPITOL DR",
		Resolved:      true,
		Latitude:      43.09,
		Longitude:     -87.94,
		AttemptedAt:   time.Now(),
	})
	require.NoError(t, err)

	entry, err := st.LookupGeocode(ctx, "N 27TH ST & W CAPITOL DR")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.True(t, entry.Resolved)
	assert.InDelta(t, 43.09, entry.Latitude, 0.0001)
	assert.InDelta(t, -87.94, entry.Longitude, 0.0001)
}

func TestSQLite_LookupGeocode_Missing(t *testing.T) {
	st := newTestSQLiteStore(t)

	entry, err := st.LookupGeocode(context.Background(), "NOT CACHED")
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestSQLite_RecordGeocode_ResolvedRewriteIsNoop(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	first := model.GeocodeCacheEntry{
		CrashLocation: "LOC", Resolved: true, Latitude: 43.0, Longitude: -87.9,
		AttemptedAt: time.Now(),
	}
	require.NoError(t, st.RecordGeocode(ctx, first))

	// A conflicting resolved write must not replace the original.
	second := first
	second.Latitude = 1.0
	second.Longitude = 2.0
	require.NoError(t, st.RecordGeocode(ctx, second))

	entry, err := st.LookupGeocode(ctx, "LOC")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.InDelta(t, 43.0, entry.Latitude, 0.0001)

	stats, err := st.GeocodeCacheStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Entries)
}

func TestSQLite_RecordGeocode_UnresolvedStaysUnresolved(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.RecordGeocode(ctx, model.GeocodeCacheEntry{
		CrashLocation: "LOC", Resolved: false, AttemptedAt: time.Now(),
	}))
	// A second unresolved write is a no-op.
	require.NoError(t, st.RecordGeocode(ctx, model.GeocodeCacheEntry{
		CrashLocation: "LOC", Resolved: false, AttemptedAt: time.Now(),
	}))

	entry, err := st.LookupGeocode(ctx, "LOC")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.False(t, entry.Resolved)

	stats, err := st.GeocodeCacheStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Entries)
	assert.Equal(t, 1, stats.Unresolved)
}

func TestSQLite_RecordGeocode_UnresolvedToResolvedUpgrade(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.RecordGeocode(ctx, model.GeocodeCacheEntry{
		CrashLocation: "LOC", Resolved: false, AttemptedAt: time.Now(),
	}))
	require.NoError(t, st.RecordGeocode(ctx, model.GeocodeCacheEntry{
		CrashLocation: "LOC", Resolved: true, Latitude: 43.0, Longitude: -87.9,
		AttemptedAt: time.Now(),
	}))

	entry, err := st.LookupGeocode(ctx, "LOC")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.True(t, entry.Resolved)
	assert.InDelta(t, 43.0, entry.Latitude, 0.0001)
}

func TestSQLite_RecordGeocode_ResolvedNeverDowngrades(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.RecordGeocode(ctx, model.GeocodeCacheEntry{
		CrashLocation: "LOC", Resolved: true, Latitude: 43.0, Longitude: -87.9,
		AttemptedAt: time.Now(),
	}))
	require.NoError(t, st.RecordGeocode(ctx, model.GeocodeCacheEntry{
		CrashLocation: "LOC", Resolved: false, AttemptedAt: time.Now(),
	}))

	entry, err := st.LookupGeocode(ctx, "LOC")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.True(t, entry.Resolved)
}

func TestSQLite_LookupGeocodeBatch(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.RecordGeocode(ctx, model.GeocodeCacheEntry{
		CrashLocation: "A", Resolved: true, Latitude: 1, Longitude: 2, AttemptedAt: time.Now(),
	}))
	require.NoError(t, st.RecordGeocode(ctx, model.GeocodeCacheEntry{
		CrashLocation: "B", Resolved: false, AttemptedAt: time.Now(),
	}))

	got, err := st.LookupGeocodeBatch(ctx, []string{"A", "B", "C"})
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.True(t, got["A"].Resolved)
	assert.False(t, got["B"].Resolved)
	_, ok := got["C"]
	assert.False(t, ok)
}

func TestSQLite_LookupGeocodeBatch_Empty(t *testing.T) {
	st := newTestSQLiteStore(t)

	got, err := st.LookupGeocodeBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSQLite_CacheMonotonicity(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	locations := []string{"A", "B", "C", "A", "B", "A"}
	for i, loc := range locations {
		require.NoError(t, st.RecordGeocode(ctx, model.GeocodeCacheEntry{
			CrashLocation: loc, Resolved: i%2 == 0, Latitude: 1, Longitude: 2,
			AttemptedAt: time.Now(),
		}))
		stats, err := st.GeocodeCacheStats(ctx)
		require.NoError(t, err)
		assert.LessOrEqual(t, stats.Entries, 3)
	}

	stats, err := st.GeocodeCacheStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Entries)
}

// --- Crash fact table ---

func TestSQLite_InsertAndListCrashes(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	lat, lon := 43.03, -87.92
	recs := []model.CrashRecord{
		testCrash("C1", "2023-01-02 08:00:00", "N 27TH ST"),
		testCrash("C2", "2023-06-10 23:15:00", "W CAPITOL DR"),
	}
	recs[1].Lat = &lat
	recs[1].Lon = &lon

	n, err := st.InsertCrashes(ctx, recs)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := st.ListCrashes(ctx, CrashFilter{})
	require.NoError(t, err)
	require.Len(t, got, 2)

	// Newest first.
	assert.Equal(t, "C2", got[0].CaseNumber)
	assert.True(t, got[0].Geocoded())
	assert.InDelta(t, 43.03, *got[0].Lat, 0.0001)
	assert.Equal(t, "Saturday", got[0].DayOfWeek)
	assert.True(t, got[0].IsWeekend)

	assert.Equal(t, "C1", got[1].CaseNumber)
	assert.False(t, got[1].Geocoded())
	assert.Equal(t, 8, got[1].HourOfDay)
}

func TestSQLite_ListCrashes_Filters(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.InsertCrashes(ctx, []model.CrashRecord{
		testCrash("C1", "2023-01-02 08:00:00", "N 27TH ST"),  // Monday
		testCrash("C2", "2023-01-07 22:00:00", "N 27TH ST"),  // Saturday
		testCrash("C3", "2023-03-15 12:00:00", "W HOWELL AVE"), // Wednesday
	})
	require.NoError(t, err)

	// Keyword (case-insensitive).
	got, err := st.ListCrashes(ctx, CrashFilter{Keyword: "27th"})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	// Day type.
	got, err = st.ListCrashes(ctx, CrashFilter{DayType: DayTypeWeekend})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "C2", got[0].CaseNumber)

	got, err = st.ListCrashes(ctx, CrashFilter{DayType: DayTypeWeekday})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	// Date range, To exclusive.
	from := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2023, 2, 1, 0, 0, 0, 0, time.UTC)
	got, err = st.ListCrashes(ctx, CrashFilter{From: &from, To: &to})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	// Limit/offset.
	got, err = st.ListCrashes(ctx, CrashFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "C2", got[0].CaseNumber)
}

func TestSQLite_ResetCrashes_PreservesCache(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.InsertCrashes(ctx, []model.CrashRecord{testCrash("C1", "2023-01-02 08:00:00", "X")})
	require.NoError(t, err)
	require.NoError(t, st.RecordGeocode(ctx, model.GeocodeCacheEntry{
		CrashLocation: "X", Resolved: true, Latitude: 1, Longitude: 2, AttemptedAt: time.Now(),
	}))

	require.NoError(t, st.ResetCrashes(ctx))

	got, err := st.ListCrashes(ctx, CrashFilter{})
	require.NoError(t, err)
	assert.Empty(t, got)

	stats, err := st.GeocodeCacheStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Entries)
}

func TestSQLite_UngeocodedAndSetCoordinates(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	lat, lon := 43.0, -87.9
	withCoords := testCrash("C1", "2023-01-02 08:00:00", "A")
	withCoords.Lat = &lat
	withCoords.Lon = &lon
	_, err := st.InsertCrashes(ctx, []model.CrashRecord{
		withCoords,
		testCrash("C2", "2023-01-03 08:00:00", "B"),
	})
	require.NoError(t, err)

	missing, err := st.ListUngeocodedCrashes(ctx)
	require.NoError(t, err)
	require.Len(t, missing, 1)
	assert.Equal(t, "C2", missing[0].CaseNumber)

	require.NoError(t, st.SetCrashCoordinates(ctx, "C2", 43.1, -87.8))

	missing, err = st.ListUngeocodedCrashes(ctx)
	require.NoError(t, err)
	assert.Empty(t, missing)

	err = st.SetCrashCoordinates(ctx, "NOPE", 1, 2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

// --- Aggregates ---

func TestSQLite_CrashStats(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	lat, lon := 43.0, -87.9
	geocoded := testCrash("C1", "2023-01-07 10:00:00", "A") // Saturday
	geocoded.Lat = &lat
	geocoded.Lon = &lon
	_, err := st.InsertCrashes(ctx, []model.CrashRecord{
		geocoded,
		testCrash("C2", "2023-01-02 20:00:00", "B"), // Monday
	})
	require.NoError(t, err)

	stats, err := st.CrashStats(ctx, CrashFilter{})
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
	assert.InDelta(t, 15.0, stats.AvgHour, 0.001)
	assert.InDelta(t, 0.5, stats.WeekendShare, 0.001)
	assert.Equal(t, 1, stats.Geocoded)
}

func TestSQLite_CrashStats_EmptyTable(t *testing.T) {
	st := newTestSQLiteStore(t)

	stats, err := st.CrashStats(context.Background(), CrashFilter{})
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Total)
	assert.Zero(t, stats.AvgHour)
}

func TestSQLite_CountByWeekdayAndMonth(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.InsertCrashes(ctx, []model.CrashRecord{
		testCrash("C1", "2023-01-02 08:00:00", "A"), // Monday, Jan
		testCrash("C2", "2023-01-09 09:00:00", "B"), // Monday, Jan
		testCrash("C3", "2023-06-10 10:00:00", "C"), // Saturday, Jun
	})
	require.NoError(t, err)

	byDay, err := st.CountByWeekday(ctx, CrashFilter{})
	require.NoError(t, err)
	require.Len(t, byDay, 7)
	assert.Equal(t, model.WeekdayCount{DayOfWeek: "Monday", Count: 2}, byDay[0])
	assert.Equal(t, model.WeekdayCount{DayOfWeek: "Saturday", Count: 1}, byDay[5])
	assert.Equal(t, model.WeekdayCount{DayOfWeek: "Sunday", Count: 0}, byDay[6])

	byMonth, err := st.CountByMonth(ctx, CrashFilter{})
	require.NoError(t, err)
	require.Len(t, byMonth, 12)
	assert.Equal(t, 2, byMonth[0].Count)
	assert.Equal(t, 1, byMonth[5].Count)
	assert.Equal(t, 0, byMonth[11].Count)
}

func TestSQLite_HeatmapPoints(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	lat, lon := 43.0, -87.9
	geocoded := testCrash("C1", "2023-01-07 10:00:00", "A")
	geocoded.Lat = &lat
	geocoded.Lon = &lon
	_, err := st.InsertCrashes(ctx, []model.CrashRecord{
		geocoded,
		testCrash("C2", "2023-01-02 20:00:00", "B"),
	})
	require.NoError(t, err)

	points, err := st.HeatmapPoints(ctx, CrashFilter{})
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.InDelta(t, 43.0, points[0].Lat, 0.0001)

	points, err = st.HeatmapPoints(ctx, CrashFilter{Keyword: "B"})
	require.NoError(t, err)
	assert.Empty(t, points)
}

// --- Run audit ---

func TestSQLite_RecordLoadRun(t *testing.T) {
	st := newTestSQLiteStore(t)

	err := st.RecordLoadRun(context.Background(), model.LoadRun{
		ID: "run-1", Command: "load", Mode: "limited", Quota: 100,
		RowsIn: 10, RowsOut: 9, CacheHits: 3, ExternalCalls: 2,
		Resolved: 1, Unresolved: 1,
		StartedAt: time.Now(), FinishedAt: time.Now(),
	})
	require.NoError(t, err)
}
