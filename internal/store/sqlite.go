package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/mke-data/crash-cli/internal/model"
)

// maxSQLiteParams keeps IN(...) batches safely under SQLite's classic
// 999-parameter-per-statement limit.
const maxSQLiteParams = 900

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens (creating parent directories if needed) a SQLite database
// at the given path and configures WAL mode.
func NewSQLite(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, eris.Wrapf(err, "sqlite: create dir %s", dir)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS crashes (
	case_number    TEXT PRIMARY KEY,
	crash_datetime TEXT,
	year           INTEGER,
	month          INTEGER,
	day_of_week    TEXT,
	hour_of_day    INTEGER,
	is_weekend     INTEGER,
	crash_location TEXT,
	lat            REAL,
	lon            REAL
);

CREATE TABLE IF NOT EXISTS geocode_cache (
	crash_location TEXT PRIMARY KEY,
	resolved       INTEGER NOT NULL,
	latitude       REAL,
	longitude      REAL,
	attempted_at   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS load_runs (
	id             TEXT PRIMARY KEY,
	command        TEXT NOT NULL,
	mode           TEXT NOT NULL,
	quota          INTEGER NOT NULL,
	rows_in        INTEGER NOT NULL,
	rows_out       INTEGER NOT NULL,
	cache_hits     INTEGER NOT NULL,
	external_calls INTEGER NOT NULL,
	resolved       INTEGER NOT NULL,
	unresolved     INTEGER NOT NULL,
	started_at     TEXT NOT NULL,
	finished_at    TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_crashes_datetime ON crashes(crash_datetime);
CREATE INDEX IF NOT EXISTS idx_crashes_location ON crashes(crash_location);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ResetCrashes drops and recreates the crash fact table. The geocode cache
// is left untouched so it accumulates across loads.
func (s *SQLiteStore) ResetCrashes(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DROP TABLE IF EXISTS crashes`); err != nil {
		return eris.Wrap(err, "sqlite: drop crashes")
	}
	return s.Migrate(ctx)
}

func (s *SQLiteStore) InsertCrashes(ctx context.Context, records []model.CrashRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin insert")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO crashes (case_number, crash_datetime, year, month, day_of_week, hour_of_day, is_weekend, crash_location, lat, lon)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare insert")
	}
	defer stmt.Close() //nolint:errcheck

	var n int
	for _, r := range records {
		_, err := stmt.ExecContext(ctx,
			r.CaseNumber,
			r.CrashDatetime.Format(datetimeLayout),
			r.Year, r.Month, r.DayOfWeek, r.HourOfDay,
			boolToInt(r.IsWeekend),
			r.CrashLocation,
			nullableFloat(r.Lat), nullableFloat(r.Lon),
		)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: insert crash %s", r.CaseNumber)
		}
		n++
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit insert")
	}
	return n, nil
}

func (s *SQLiteStore) ListCrashes(ctx context.Context, filter CrashFilter) ([]model.CrashRecord, error) {
	where, args := sqliteFilter(filter)
	query := `SELECT case_number, crash_datetime, year, month, day_of_week, hour_of_day, is_weekend, crash_location, lat, lon
		FROM crashes` + where + ` ORDER BY crash_datetime DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += ` OFFSET ?`
			args = append(args, filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list crashes")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.CrashRecord
	for rows.Next() {
		r, err := scanCrash(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list crashes iterate")
}

func (s *SQLiteStore) ListUngeocodedCrashes(ctx context.Context) ([]model.CrashRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT case_number, crash_datetime, year, month, day_of_week, hour_of_day, is_weekend, crash_location, lat, lon
		FROM crashes WHERE lat IS NULL OR lon IS NULL ORDER BY crash_datetime`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list ungeocoded")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.CrashRecord
	for rows.Next() {
		r, err := scanCrash(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list ungeocoded iterate")
}

func (s *SQLiteStore) SetCrashCoordinates(ctx context.Context, caseNumber string, lat, lon float64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE crashes SET lat = ?, lon = ? WHERE case_number = ?`,
		lat, lon, caseNumber,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set coordinates %s", caseNumber)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Errorf("crash not found: %s", caseNumber)
	}
	return nil
}

func (s *SQLiteStore) CrashStats(ctx context.Context, filter CrashFilter) (*model.CrashStats, error) {
	where, args := sqliteFilter(filter)
	row := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       AVG(hour_of_day),
		       AVG(is_weekend),
		       SUM(CASE WHEN lat IS NOT NULL AND lon IS NOT NULL THEN 1 ELSE 0 END)
		FROM crashes`+where, args...)

	var st model.CrashStats
	var avgHour, weekendShare sql.NullFloat64
	var geocoded sql.NullInt64
	if err := row.Scan(&st.Total, &avgHour, &weekendShare, &geocoded); err != nil {
		return nil, eris.Wrap(err, "sqlite: crash stats")
	}
	st.AvgHour = avgHour.Float64
	st.WeekendShare = weekendShare.Float64
	st.Geocoded = int(geocoded.Int64)
	return &st, nil
}

func (s *SQLiteStore) CountByWeekday(ctx context.Context, filter CrashFilter) ([]model.WeekdayCount, error) {
	where, args := sqliteFilter(filter)
	rows, err := s.db.QueryContext(ctx,
		`SELECT day_of_week, COUNT(*) FROM crashes`+where+` GROUP BY day_of_week`, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: count by weekday")
	}
	defer rows.Close() //nolint:errcheck

	counts := make(map[string]int)
	for rows.Next() {
		var day string
		var n int
		if err := rows.Scan(&day, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan weekday count")
		}
		counts[day] = n
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: count by weekday iterate")
	}
	return orderWeekdays(counts), nil
}

func (s *SQLiteStore) CountByMonth(ctx context.Context, filter CrashFilter) ([]model.MonthCount, error) {
	where, args := sqliteFilter(filter)
	rows, err := s.db.QueryContext(ctx,
		`SELECT month, COUNT(*) FROM crashes`+where+` GROUP BY month`, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: count by month")
	}
	defer rows.Close() //nolint:errcheck

	counts := make(map[int]int)
	for rows.Next() {
		var month, n int
		if err := rows.Scan(&month, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan month count")
		}
		counts[month] = n
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: count by month iterate")
	}
	return orderMonths(counts), nil
}

func (s *SQLiteStore) HeatmapPoints(ctx context.Context, filter CrashFilter) ([]model.Point, error) {
	where, args := sqliteFilter(filter)
	if where == "" {
		where = ` WHERE lat IS NOT NULL AND lon IS NOT NULL`
	} else {
		where += ` AND lat IS NOT NULL AND lon IS NOT NULL`
	}

	rows, err := s.db.QueryContext(ctx, `SELECT lat, lon FROM crashes`+where, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: heatmap points")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Point
	for rows.Next() {
		var p model.Point
		if err := rows.Scan(&p.Lat, &p.Lon); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan point")
		}
		out = append(out, p)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: heatmap iterate")
}

func (s *SQLiteStore) LookupGeocode(ctx context.Context, location string) (*model.GeocodeCacheEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT crash_location, resolved, latitude, longitude, attempted_at
		 FROM geocode_cache WHERE crash_location = ?`, location)

	entry, err := scanCacheEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: lookup geocode")
	}
	return entry, nil
}

func (s *SQLiteStore) LookupGeocodeBatch(ctx context.Context, locations []string) (map[string]model.GeocodeCacheEntry, error) {
	out := make(map[string]model.GeocodeCacheEntry, len(locations))
	if len(locations) == 0 {
		return out, nil
	}

	for i := 0; i < len(locations); i += maxSQLiteParams {
		end := min(i+maxSQLiteParams, len(locations))
		batch := locations[i:end]

		placeholders := strings.Repeat("?,", len(batch))
		placeholders = placeholders[:len(placeholders)-1]
		args := make([]any, len(batch))
		for j, loc := range batch {
			args[j] = loc
		}

		rows, err := s.db.QueryContext(ctx,
			`SELECT crash_location, resolved, latitude, longitude, attempted_at
			 FROM geocode_cache WHERE crash_location IN (`+placeholders+`)`, args...)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: lookup geocode batch")
		}

		for rows.Next() {
			entry, err := scanCacheEntry(rows)
			if err != nil {
				rows.Close() //nolint:errcheck
				return nil, eris.Wrap(err, "sqlite: scan cache entry")
			}
			out[entry.CrashLocation] = *entry
		}
		if err := rows.Err(); err != nil {
			rows.Close() //nolint:errcheck
			return nil, eris.Wrap(err, "sqlite: lookup geocode batch iterate")
		}
		rows.Close() //nolint:errcheck
	}
	return out, nil
}

// RecordGeocode inserts a cache entry. A second write for an existing
// resolved address is a no-op; the only permitted update is the
// unresolved-to-resolved transition.
func (s *SQLiteStore) RecordGeocode(ctx context.Context, entry model.GeocodeCacheEntry) error {
	var lat, lon any
	if entry.Resolved {
		lat, lon = entry.Latitude, entry.Longitude
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO geocode_cache (crash_location, resolved, latitude, longitude, attempted_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(crash_location) DO UPDATE SET
			resolved     = excluded.resolved,
			latitude     = excluded.latitude,
			longitude    = excluded.longitude,
			attempted_at = excluded.attempted_at
		WHERE excluded.resolved = 1 AND geocode_cache.resolved = 0`,
		entry.CrashLocation, boolToInt(entry.Resolved), lat, lon,
		entry.AttemptedAt.UTC().Format(datetimeLayout),
	)
	return eris.Wrap(err, "sqlite: record geocode")
}

func (s *SQLiteStore) GeocodeCacheStats(ctx context.Context) (*model.GeocodeCacheStats, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(resolved), 0) FROM geocode_cache`)

	var st model.GeocodeCacheStats
	if err := row.Scan(&st.Entries, &st.Resolved); err != nil {
		return nil, eris.Wrap(err, "sqlite: cache stats")
	}
	st.Unresolved = st.Entries - st.Resolved
	return &st, nil
}

func (s *SQLiteStore) RecordLoadRun(ctx context.Context, run model.LoadRun) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO load_runs (id, command, mode, quota, rows_in, rows_out, cache_hits, external_calls, resolved, unresolved, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Command, run.Mode, run.Quota,
		run.RowsIn, run.RowsOut, run.CacheHits, run.ExternalCalls,
		run.Resolved, run.Unresolved,
		run.StartedAt.UTC().Format(datetimeLayout),
		run.FinishedAt.UTC().Format(datetimeLayout),
	)
	return eris.Wrap(err, "sqlite: record load run")
}

// helpers

func sqliteFilter(f CrashFilter) (string, []any) {
	var conds []string
	var args []any

	if f.From != nil {
		conds = append(conds, "crash_datetime >= ?")
		args = append(args, f.From.Format(datetimeLayout))
	}
	if f.To != nil {
		conds = append(conds, "crash_datetime < ?")
		args = append(args, f.To.Format(datetimeLayout))
	}
	if kw := strings.ToUpper(strings.TrimSpace(f.Keyword)); kw != "" {
		conds = append(conds, "crash_location LIKE ?")
		args = append(args, "%"+kw+"%")
	}
	switch f.DayType {
	case DayTypeWeekday:
		conds = append(conds, "is_weekend = 0")
	case DayTypeWeekend:
		conds = append(conds, "is_weekend = 1")
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

type scannable interface {
	Scan(dest ...any) error
}

func scanCrash(row scannable) (*model.CrashRecord, error) {
	var r model.CrashRecord
	var dt string
	var isWeekend int
	var lat, lon sql.NullFloat64

	err := row.Scan(&r.CaseNumber, &dt, &r.Year, &r.Month, &r.DayOfWeek, &r.HourOfDay, &isWeekend, &r.CrashLocation, &lat, &lon)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan crash")
	}

	parsed, err := time.Parse(datetimeLayout, dt)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: parse crash_datetime %q", dt)
	}
	r.CrashDatetime = parsed
	r.IsWeekend = isWeekend != 0
	if lat.Valid {
		r.Lat = &lat.Float64
	}
	if lon.Valid {
		r.Lon = &lon.Float64
	}
	return &r, nil
}

func scanCacheEntry(row scannable) (*model.GeocodeCacheEntry, error) {
	var e model.GeocodeCacheEntry
	var resolved int
	var lat, lon sql.NullFloat64
	var attempted string

	err := row.Scan(&e.CrashLocation, &resolved, &lat, &lon, &attempted)
	if err != nil {
		return nil, err
	}

	e.Resolved = resolved != 0
	e.Latitude = lat.Float64
	e.Longitude = lon.Float64
	if ts, parseErr := time.Parse(datetimeLayout, attempted); parseErr == nil {
		e.AttemptedAt = ts
	}
	return &e, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}
