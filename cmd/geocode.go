package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mke-data/crash-cli/internal/enrich"
	"github.com/mke-data/crash-cli/internal/model"
	"github.com/mke-data/crash-cli/internal/store"
)

var geocodeCmd = &cobra.Command{
	Use:   "geocode",
	Short: "Geocode cache inspection and backfill",
}

var geocodeStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show geocode cache and coverage statistics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		cacheStats, err := st.GeocodeCacheStats(ctx)
		if err != nil {
			return err
		}
		crashStats, err := st.CrashStats(ctx, store.CrashFilter{})
		if err != nil {
			return err
		}

		fmt.Println("=== Geocode Status ===")
		fmt.Printf("Cache entries:   %d\n", cacheStats.Entries)
		fmt.Printf("  Resolved:      %d\n", cacheStats.Resolved)
		fmt.Printf("  Unresolved:    %d\n", cacheStats.Unresolved)
		fmt.Printf("Crashes:         %d\n", crashStats.Total)
		fmt.Printf("  With coords:   %d\n", crashStats.Geocoded)
		fmt.Printf("  Missing:       %d\n", crashStats.Total-crashStats.Geocoded)

		return nil
	},
}

var (
	backfillMode   string
	backfillMaxNew int
)

var geocodeBackfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Geocode crashes that are missing coordinates",
	Long:  "Re-runs enrichment over stored crashes without coordinates; useful after raising the lookup quota.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		started := time.Now().UTC()
		policy := buildPolicy(backfillMode, backfillMaxNew)

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		records, err := st.ListUngeocodedCrashes(ctx)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			fmt.Println("Nothing to backfill.")
			return nil
		}

		driver := enrich.NewDriver(st, newGeocoder())
		summary, err := driver.Run(ctx, records, policy)
		if err != nil {
			return err
		}

		updated := 0
		for _, rec := range records {
			if !rec.Geocoded() {
				continue
			}
			if err := st.SetCrashCoordinates(ctx, rec.CaseNumber, *rec.Lat, *rec.Lon); err != nil {
				zap.L().Warn("set coordinates failed",
					zap.String("case_number", rec.CaseNumber),
					zap.Error(err))
				continue
			}
			updated++
		}

		run := model.LoadRun{
			ID:            uuid.NewString(),
			Command:       "backfill",
			Mode:          string(policy.Mode),
			Quota:         policy.Quota,
			RowsIn:        len(records),
			RowsOut:       updated,
			CacheHits:     summary.CacheHits,
			ExternalCalls: summary.ExternalCalls,
			Resolved:      summary.Resolved,
			Unresolved:    summary.Unresolved,
			StartedAt:     started,
			FinishedAt:    time.Now().UTC(),
		}
		if err := st.RecordLoadRun(ctx, run); err != nil {
			zap.L().Warn("record load run failed", zap.Error(err))
		}

		fmt.Println("=== Backfill Complete ===")
		fmt.Printf("Candidates:      %d\n", len(records))
		fmt.Printf("Updated:         %d\n", updated)
		fmt.Printf("Cache hits:      %d\n", summary.CacheHits)
		fmt.Printf("External calls:  %d (%d resolved, %d unresolved)\n",
			summary.ExternalCalls, summary.Resolved, summary.Unresolved)
		fmt.Printf("Skipped (policy): %d\n", summary.SkippedPolicy)

		return nil
	},
}

func init() {
	geocodeBackfillCmd.Flags().StringVar(&backfillMode, "mode", "", "geocode mode: cache_only, limited, or all (default from config)")
	geocodeBackfillCmd.Flags().IntVar(&backfillMaxNew, "max-new", -1, "max new geocoder lookups in limited mode (default from config)")
	geocodeCmd.AddCommand(geocodeStatusCmd)
	geocodeCmd.AddCommand(geocodeBackfillCmd)
	rootCmd.AddCommand(geocodeCmd)
}
