package model

import "time"

// GeocodeCacheEntry maps a canonical crash location to the outcome of a prior
// geocode attempt. Resolved entries carry coordinates; unresolved entries
// record a failed lookup so it is not repeated on later runs.
type GeocodeCacheEntry struct {
	CrashLocation string    `json:"crash_location"`
	Resolved      bool      `json:"resolved"`
	Latitude      float64   `json:"latitude"`
	Longitude     float64   `json:"longitude"`
	AttemptedAt   time.Time `json:"attempted_at"`
}

// GeocodeCacheStats summarizes the cache table for the status command.
type GeocodeCacheStats struct {
	Entries    int `json:"entries"`
	Resolved   int `json:"resolved"`
	Unresolved int `json:"unresolved"`
}

// LoadRun is the audit row written for each load or backfill execution.
type LoadRun struct {
	ID            string    `json:"id"`
	Command       string    `json:"command"`
	Mode          string    `json:"mode"`
	Quota         int       `json:"quota"`
	RowsIn        int       `json:"rows_in"`
	RowsOut       int       `json:"rows_out"`
	CacheHits     int       `json:"cache_hits"`
	ExternalCalls int       `json:"external_calls"`
	Resolved      int       `json:"resolved"`
	Unresolved    int       `json:"unresolved"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
}
