package store

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	mdb "github.com/mke-data/crash-cli/internal/db"
	"github.com/mke-data/crash-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    mdb.Pool
	closeFn func()
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool (used with pgxmock in tests).
func NewPostgresFromPool(pool mdb.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, closeFn: func() {}}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS crashes (
	case_number    TEXT PRIMARY KEY,
	crash_datetime TIMESTAMP,
	year           INTEGER,
	month          INTEGER,
	day_of_week    TEXT,
	hour_of_day    INTEGER,
	is_weekend     BOOLEAN,
	crash_location TEXT,
	lat            DOUBLE PRECISION,
	lon            DOUBLE PRECISION
);

CREATE TABLE IF NOT EXISTS geocode_cache (
	crash_location TEXT PRIMARY KEY,
	resolved       BOOLEAN NOT NULL,
	latitude       DOUBLE PRECISION,
	longitude      DOUBLE PRECISION,
	attempted_at   TIMESTAMP NOT NULL
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
	started_at     TIMESTAMP NOT NULL,
	finished_at    TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_crashes_datetime ON crashes(crash_datetime);
CREATE INDEX IF NOT EXISTS idx_crashes_location ON crashes(crash_location)
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(postgresMigration, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return eris.Wrap(err, "postgres: migrate")
		}
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.closeFn()
	return nil
}

func (s *PostgresStore) ResetCrashes(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `DROP TABLE IF EXISTS crashes`); err != nil {
		return eris.Wrap(err, "postgres: drop crashes")
	}
	return s.Migrate(ctx)
}

// InsertCrashes bulk-loads records via the COPY protocol.
func (s *PostgresStore) InsertCrashes(ctx context.Context, records []model.CrashRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	columns := []string{"case_number", "crash_datetime", "year", "month", "day_of_week", "hour_of_day", "is_weekend", "crash_location", "lat", "lon"}
	rows := make([][]any, 0, len(records))
	for _, r := range records {
		rows = append(rows, []any{
			r.CaseNumber, r.CrashDatetime, r.Year, r.Month, r.DayOfWeek,
			r.HourOfDay, r.IsWeekend, r.CrashLocation,
			nullableFloat(r.Lat), nullableFloat(r.Lon),
		})
	}

	n, err := mdb.CopyFrom(ctx, s.pool, "crashes", columns, rows)
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (s *PostgresStore) ListCrashes(ctx context.Context, filter CrashFilter) ([]model.CrashRecord, error) {
	where, args := postgresFilter(filter)
	query := `SELECT case_number, crash_datetime, year, month, day_of_week, hour_of_day, is_weekend, crash_location, lat, lon
		FROM crashes` + where + ` ORDER BY crash_datetime DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += ` LIMIT $` + strconv.Itoa(len(args))
		if filter.Offset > 0 {
			args = append(args, filter.Offset)
			query += ` OFFSET $` + strconv.Itoa(len(args))
		}
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list crashes")
	}
	defer rows.Close()

	return collectCrashRows(rows)
}

func (s *PostgresStore) ListUngeocodedCrashes(ctx context.Context) ([]model.CrashRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT case_number, crash_datetime, year, month, day_of_week, hour_of_day, is_weekend, crash_location, lat, lon
		FROM crashes WHERE lat IS NULL OR lon IS NULL ORDER BY crash_datetime`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list ungeocoded")
	}
	defer rows.Close()

	return collectCrashRows(rows)
}

func (s *PostgresStore) SetCrashCoordinates(ctx context.Context, caseNumber string, lat, lon float64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE crashes SET lat = $1, lon = $2 WHERE case_number = $3`,
		lat, lon, caseNumber,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set coordinates %s", caseNumber)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("crash not found: %s", caseNumber)
	}
	return nil
}

func (s *PostgresStore) CrashStats(ctx context.Context, filter CrashFilter) (*model.CrashStats, error) {
	where, args := postgresFilter(filter)
	row := s.pool.QueryRow(ctx, `
		SELECT COUNT(*),
		       COALESCE(AVG(hour_of_day), 0),
		       COALESCE(AVG(is_weekend::int), 0),
		       COALESCE(SUM(CASE WHEN lat IS NOT NULL AND lon IS NOT NULL THEN 1 ELSE 0 END), 0)
		FROM crashes`+where, args...)

	var st model.CrashStats
	if err := row.Scan(&st.Total, &st.AvgHour, &st.WeekendShare, &st.Geocoded); err != nil {
		return nil, eris.Wrap(err, "postgres: crash stats")
	}
	return &st, nil
}

func (s *PostgresStore) CountByWeekday(ctx context.Context, filter CrashFilter) ([]model.WeekdayCount, error) {
	where, args := postgresFilter(filter)
	rows, err := s.pool.Query(ctx,
		`SELECT day_of_week, COUNT(*) FROM crashes`+where+` GROUP BY day_of_week`, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: count by weekday")
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var day string
		var n int
		if err := rows.Scan(&day, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan weekday count")
		}
		counts[day] = n
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: count by weekday iterate")
	}
	return orderWeekdays(counts), nil
}

func (s *PostgresStore) CountByMonth(ctx context.Context, filter CrashFilter) ([]model.MonthCount, error) {
	where, args := postgresFilter(filter)
	rows, err := s.pool.Query(ctx,
		`SELECT month, COUNT(*) FROM crashes`+where+` GROUP BY month`, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: count by month")
	}
	defer rows.Close()

	counts := make(map[int]int)
	for rows.Next() {
		var month, n int
		if err := rows.Scan(&month, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan month count")
		}
		counts[month] = n
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: count by month iterate")
	}
	return orderMonths(counts), nil
}

func (s *PostgresStore) HeatmapPoints(ctx context.Context, filter CrashFilter) ([]model.Point, error) {
	where, args := postgresFilter(filter)
	if where == "" {
		where = ` WHERE lat IS NOT NULL AND lon IS NOT NULL`
	} else {
		where += ` AND lat IS NOT NULL AND lon IS NOT NULL`
	}

	rows, err := s.pool.Query(ctx, `SELECT lat, lon FROM crashes`+where, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: heatmap points")
	}
	defer rows.Close()

	var out []model.Point
	for rows.Next() {
		var p model.Point
		if err := rows.Scan(&p.Lat, &p.Lon); err != nil {
			return nil, eris.Wrap(err, "postgres: scan point")
		}
		out = append(out, p)
	}
	return out, eris.Wrap(rows.Err(), "postgres: heatmap iterate")
}

func (s *PostgresStore) LookupGeocode(ctx context.Context, location string) (*model.GeocodeCacheEntry, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT crash_location, resolved, latitude, longitude, attempted_at
		 FROM geocode_cache WHERE crash_location = $1`, location)

	entry, err := scanPGCacheEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: lookup geocode")
	}
	return entry, nil
}

func (s *PostgresStore) LookupGeocodeBatch(ctx context.Context, locations []string) (map[string]model.GeocodeCacheEntry, error) {
	out := make(map[string]model.GeocodeCacheEntry, len(locations))
	if len(locations) == 0 {
		return out, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT crash_location, resolved, latitude, longitude, attempted_at
		 FROM geocode_cache WHERE crash_location = ANY($1)`, locations)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: lookup geocode batch")
	}
	defer rows.Close()

	for rows.Next() {
		entry, err := scanPGCacheEntry(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan cache entry")
		}
		out[entry.CrashLocation] = *entry
	}
	return out, eris.Wrap(rows.Err(), "postgres: lookup geocode batch iterate")
}

func (s *PostgresStore) RecordGeocode(ctx context.Context, entry model.GeocodeCacheEntry) error {
	var lat, lon any
	if entry.Resolved {
		lat, lon = entry.Latitude, entry.Longitude
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO geocode_cache (crash_location, resolved, latitude, longitude, attempted_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (crash_location) DO UPDATE SET
			resolved     = excluded.resolved,
			latitude     = excluded.latitude,
			longitude    = excluded.longitude,
			attempted_at = excluded.attempted_at
		WHERE excluded.resolved AND NOT geocode_cache.resolved`,
		entry.CrashLocation, entry.Resolved, lat, lon, entry.AttemptedAt.UTC(),
	)
	return eris.Wrap(err, "postgres: record geocode")
}

func (s *PostgresStore) GeocodeCacheStats(ctx context.Context) (*model.GeocodeCacheStats, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT COUNT(*), COALESCE(SUM(resolved::int), 0) FROM geocode_cache`)

	var st model.GeocodeCacheStats
	if err := row.Scan(&st.Entries, &st.Resolved); err != nil {
		return nil, eris.Wrap(err, "postgres: cache stats")
	}
	st.Unresolved = st.Entries - st.Resolved
	return &st, nil
}

func (s *PostgresStore) RecordLoadRun(ctx context.Context, run model.LoadRun) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO load_runs (id, command, mode, quota, rows_in, rows_out, cache_hits, external_calls, resolved, unresolved, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		run.ID, run.Command, run.Mode, run.Quota,
		run.RowsIn, run.RowsOut, run.CacheHits, run.ExternalCalls,
		run.Resolved, run.Unresolved, run.StartedAt.UTC(), run.FinishedAt.UTC(),
	)
	return eris.Wrap(err, "postgres: record load run")
}

// helpers

func postgresFilter(f CrashFilter) (string, []any) {
	var conds []string
	var args []any

	if f.From != nil {
		args = append(args, *f.From)
		conds = append(conds, "crash_datetime >= $"+strconv.Itoa(len(args)))
	}
	if f.To != nil {
		args = append(args, *f.To)
		conds = append(conds, "crash_datetime < $"+strconv.Itoa(len(args)))
	}
	if kw := strings.ToUpper(strings.TrimSpace(f.Keyword)); kw != "" {
		args = append(args, "%"+kw+"%")
		conds = append(conds, "crash_location LIKE $"+strconv.Itoa(len(args)))
	}
	switch f.DayType {
	case DayTypeWeekday:
		conds = append(conds, "NOT is_weekend")
	case DayTypeWeekend:
		conds = append(conds, "is_weekend")
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func collectCrashRows(rows pgx.Rows) ([]model.CrashRecord, error) {
	var out []model.CrashRecord
	for rows.Next() {
		var r model.CrashRecord
		var lat, lon *float64
		err := rows.Scan(&r.CaseNumber, &r.CrashDatetime, &r.Year, &r.Month, &r.DayOfWeek, &r.HourOfDay, &r.IsWeekend, &r.CrashLocation, &lat, &lon)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan crash")
		}
		r.Lat = lat
		r.Lon = lon
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: crash rows iterate")
}

func scanPGCacheEntry(row pgx.Row) (*model.GeocodeCacheEntry, error) {
	var e model.GeocodeCacheEntry
	var lat, lon *float64

	err := row.Scan(&e.CrashLocation, &e.Resolved, &lat, &lon, &e.AttemptedAt)
	if err != nil {
		return nil, err
	}
	if lat != nil {
		e.Latitude = *lat
	}
	if lon != nil {
		e.Longitude = *lon
	}
	return &e, nil
}
