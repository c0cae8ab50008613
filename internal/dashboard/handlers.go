package dashboard

import (
	"net/http"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"

	"github.com/mke-data/crash-cli/internal/model"
	"github.com/mke-data/crash-cli/internal/store"
)

const dateLayout = "2006-01-02"

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type statsResponse struct {
	Crashes      *model.CrashStats        `json:"crashes"`
	GeocodeCache *model.GeocodeCacheStats `json:"geocode_cache"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := cached(s, "stats|"+filter.CacheKey(), func() (*statsResponse, error) {
		crashes, err := s.store.CrashStats(r.Context(), filter)
		if err != nil {
			return nil, err
		}
		cacheStats, err := s.store.GeocodeCacheStats(r.Context())
		if err != nil {
			return nil, err
		}
		return &statsResponse{Crashes: crashes, GeocodeCache: cacheStats}, nil
	})
	if err != nil {
		s.storeError(w, "stats", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCrashes(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if filter.Limit <= 0 || filter.Limit > s.maxListLimit {
		filter.Limit = s.maxListLimit
	}

	crashes, err := cached(s, "crashes|"+filter.CacheKey(), func() ([]model.CrashRecord, error) {
		return s.store.ListCrashes(r.Context(), filter)
	})
	if err != nil {
		s.storeError(w, "crashes", err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse(crashes))
}

func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	limit := s.recentLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		if n < limit {
			limit = n
		}
	}
	filter := store.CrashFilter{Limit: limit}

	crashes, err := cached(s, "recent|"+filter.CacheKey(), func() ([]model.CrashRecord, error) {
		return s.store.ListCrashes(r.Context(), filter)
	})
	if err != nil {
		s.storeError(w, "recent", err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse(crashes))
}

func (s *Server) handleByWeekday(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	counts, err := cached(s, "weekday|"+filter.CacheKey(), func() ([]model.WeekdayCount, error) {
		return s.store.CountByWeekday(r.Context(), filter)
	})
	if err != nil {
		s.storeError(w, "by-weekday", err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

func (s *Server) handleByMonth(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	counts, err := cached(s, "month|"+filter.CacheKey(), func() ([]model.MonthCount, error) {
		return s.store.CountByMonth(r.Context(), filter)
	})
	if err != nil {
		s.storeError(w, "by-month", err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

func (s *Server) handleHeatmap(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	feature, err := cached(s, "heatmap|"+filter.CacheKey(), func() (*geojson.Feature, error) {
		points, err := s.store.HeatmapPoints(r.Context(), filter)
		if err != nil {
			return nil, err
		}
		return heatmapFeature(points)
	})
	if err != nil {
		s.storeError(w, "heatmap", err)
		return
	}
	writeJSON(w, http.StatusOK, feature)
}

func (s *Server) handleCacheClear(w http.ResponseWriter, _ *http.Request) {
	n := s.cache.clear()
	zap.L().Info("dashboard cache cleared", zap.Int("entries", n))
	writeJSON(w, http.StatusOK, map[string]int{"cleared": n})
}

func (s *Server) storeError(w http.ResponseWriter, endpoint string, err error) {
	zap.L().Error("dashboard query failed", zap.String("endpoint", endpoint), zap.Error(err))
	writeError(w, http.StatusInternalServerError, "query failed")
}

// cached runs fn through the server's TTL cache.
func cached[T any](s *Server, key string, fn func() (T, error)) (T, error) {
	if v, ok := s.cache.get(key); ok {
		return v.(T), nil
	}
	v, err := fn()
	if err != nil {
		return v, err
	}
	s.cache.set(key, v)
	return v, nil
}

// listResponse keeps empty results as [] instead of null.
func listResponse(crashes []model.CrashRecord) []model.CrashRecord {
	if crashes == nil {
		return []model.CrashRecord{}
	}
	return crashes
}

// heatmapFeature encodes geocoded crash points as a GeoJSON MultiPoint
// feature in lon/lat order.
func heatmapFeature(points []model.Point) (*geojson.Feature, error) {
	coords := make([]geom.Coord, len(points))
	for i, p := range points {
		coords[i] = geom.Coord{p.Lon, p.Lat}
	}

	mp, err := geom.NewMultiPoint(geom.XY).SetCoords(coords)
	if err != nil {
		return nil, err
	}
	return &geojson.Feature{
		Geometry:   mp,
		Properties: map[string]any{"count": len(points)},
	}, nil
}

// parseFilter reads the shared filter query params.
func parseFilter(r *http.Request) (store.CrashFilter, error) {
	q := r.URL.Query()
	var filter store.CrashFilter

	if raw := q.Get("from"); raw != "" {
		t, err := time.Parse(dateLayout, raw)
		if err != nil {
			return filter, errBadParam("from")
		}
		filter.From = &t
	}
	if raw := q.Get("to"); raw != "" {
		t, err := time.Parse(dateLayout, raw)
		if err != nil {
			return filter, errBadParam("to")
		}
		// Inclusive end date.
		t = t.AddDate(0, 0, 1)
		filter.To = &t
	}
	filter.Keyword = q.Get("q")

	switch q.Get("day_type") {
	case "", "all":
		filter.DayType = store.DayTypeAll
	case string(store.DayTypeWeekday):
		filter.DayType = store.DayTypeWeekday
	case string(store.DayTypeWeekend):
		filter.DayType = store.DayTypeWeekend
	default:
		return filter, errBadParam("day_type")
	}

	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return filter, errBadParam("limit")
		}
		filter.Limit = n
	}
	if raw := q.Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return filter, errBadParam("offset")
		}
		filter.Offset = n
	}
	return filter, nil
}

func errBadParam(name string) error {
	return eris.Errorf("invalid query parameter: %s", name)
}
