package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/mke-data/crash-cli/internal/model"
	"github.com/mke-data/crash-cli/internal/store"
	"github.com/mke-data/crash-cli/pkg/geocode"
)

// openStore opens the configured store backend. A store that cannot be
// opened is fatal for every command.
func openStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite", "":
		st, err := store.NewSQLite(cfg.Store.Path)
		if err != nil {
			return nil, err
		}
		if err := st.Migrate(ctx); err != nil {
			st.Close() //nolint:errcheck
			return nil, err
		}
		return st, nil
	case "postgres":
		st, err := store.NewPostgres(ctx, cfg.Store.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := st.Migrate(ctx); err != nil {
			st.Close() //nolint:errcheck
			return nil, err
		}
		return st, nil
	default:
		return nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// buildPolicy constructs the run policy from flags, falling back to config
// defaults. An unrecognized mode falls back to limited with a warning.
func buildPolicy(mode string, maxNew int) model.RunPolicy {
	if mode == "" {
		mode = cfg.Geocode.Mode
	}
	if maxNew < 0 {
		maxNew = cfg.Geocode.MaxNewLookups
	}

	parsed, ok := model.ParseRunMode(mode)
	if !ok {
		zap.L().Warn("unknown geocode mode, falling back to limited",
			zap.String("mode", mode))
	}
	return model.RunPolicy{Mode: parsed, Quota: maxNew}
}

func newGeocoder() geocode.Client {
	return geocode.NewClient(
		geocode.WithBaseURL(cfg.Geocode.BaseURL),
		geocode.WithUserAgent(cfg.Geocode.UserAgent),
		geocode.WithQuerySuffix(cfg.Geocode.QuerySuffix),
		geocode.WithRateLimit(cfg.Geocode.RequestsPerSecond),
		geocode.WithTimeout(time.Duration(cfg.Geocode.TimeoutSecs)*time.Second),
	)
}
