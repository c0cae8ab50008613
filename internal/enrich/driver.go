package enrich

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/mke-data/crash-cli/internal/model"
	"github.com/mke-data/crash-cli/pkg/geocode"
)

// progressEvery controls how often the driver logs enrichment progress.
const progressEvery = 25

// CacheStore is the slice of the store the driver needs.
type CacheStore interface {
	LookupGeocodeBatch(ctx context.Context, locations []string) (map[string]model.GeocodeCacheEntry, error)
	RecordGeocode(ctx context.Context, entry model.GeocodeCacheEntry) error
}

// Summary reports what an enrichment run did. SkippedPolicy counts records
// whose lookup the policy blocked, whether by cache_only mode or an
// exhausted quota.
type Summary struct {
	Records       int `json:"records"`
	CacheHits     int `json:"cache_hits"`
	ExternalCalls int `json:"external_calls"`
	Resolved      int `json:"resolved"`
	Unresolved    int `json:"unresolved"`
	SkippedPolicy int `json:"skipped_policy"`
}

// Driver attaches coordinates to crash records using the geocode cache
// first and the external geocoder only when the run policy allows it.
type Driver struct {
	cache    CacheStore
	geocoder geocode.Client
}

func NewDriver(cache CacheStore, geocoder geocode.Client) *Driver {
	return &Driver{cache: cache, geocoder: geocoder}
}

// Run enriches records in place. Every lookup outcome, including a miss,
// is written to the cache so it is never retried across runs. Geocoder
// failures are swallowed: the record stays uncoordinated and the location
// is cached as unresolved.
func (d *Driver) Run(ctx context.Context, records []model.CrashRecord, policy model.RunPolicy) (Summary, error) {
	var summary Summary
	summary.Records = len(records)

	known, err := d.prefetch(ctx, records)
	if err != nil {
		return summary, err
	}

	for i := range records {
		if err := ctx.Err(); err != nil {
			return summary, eris.Wrap(err, "enrich: run cancelled")
		}

		canonical := CanonicalLocation(records[i].CrashLocation)
		if !Geocodable(canonical) {
			continue
		}

		entry, cached := known[canonical]
		if cached {
			summary.CacheHits++
		} else {
			if !policy.AllowCall(summary.ExternalCalls) {
				summary.SkippedPolicy++
				continue
			}
			entry = d.lookup(ctx, canonical)
			summary.ExternalCalls++
			if entry.Resolved {
				summary.Resolved++
			} else {
				summary.Unresolved++
			}

			if err := d.cache.RecordGeocode(ctx, entry); err != nil {
				return summary, err
			}
			known[canonical] = entry

			if summary.ExternalCalls%progressEvery == 0 {
				zap.L().Info("geocoding progress",
					zap.Int("external_calls", summary.ExternalCalls),
					zap.Int("resolved", summary.Resolved))
			}
		}

		if entry.Resolved {
			lat, lon := entry.Latitude, entry.Longitude
			records[i].Lat = &lat
			records[i].Lon = &lon
		}
	}

	zap.L().Info("enrichment finished",
		zap.Int("records", summary.Records),
		zap.Int("cache_hits", summary.CacheHits),
		zap.Int("external_calls", summary.ExternalCalls),
		zap.Int("resolved", summary.Resolved),
		zap.Int("unresolved", summary.Unresolved),
		zap.Int("skipped_policy", summary.SkippedPolicy),
		zap.String("mode", string(policy.Mode)))

	return summary, nil
}

// prefetch loads existing cache entries for every distinct geocodable
// location in one batched query.
func (d *Driver) prefetch(ctx context.Context, records []model.CrashRecord) (map[string]model.GeocodeCacheEntry, error) {
	seen := make(map[string]struct{}, len(records))
	var locations []string
	for i := range records {
		canonical := CanonicalLocation(records[i].CrashLocation)
		if !Geocodable(canonical) {
			continue
		}
		if _, ok := seen[canonical]; ok {
			continue
		}
		seen[canonical] = struct{}{}
		locations = append(locations, canonical)
	}

	known, err := d.cache.LookupGeocodeBatch(ctx, locations)
	if err != nil {
		return nil, eris.Wrap(err, "enrich: prefetch cache")
	}
	return known, nil
}

// lookup calls the geocoder and folds errors and misses into an
// unresolved cache entry.
func (d *Driver) lookup(ctx context.Context, canonical string) model.GeocodeCacheEntry {
	entry := model.GeocodeCacheEntry{
		CrashLocation: canonical,
		AttemptedAt:   time.Now().UTC(),
	}

	result, err := d.geocoder.Geocode(ctx, canonical)
	if err != nil {
		zap.L().Warn("geocode lookup failed",
			zap.String("location", canonical),
			zap.Error(err))
		return entry
	}
	if !result.Matched {
		return entry
	}

	entry.Resolved = true
	entry.Latitude = result.Latitude
	entry.Longitude = result.Longitude
	return entry
}
