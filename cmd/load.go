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
	"github.com/mke-data/crash-cli/internal/ingest"
	"github.com/mke-data/crash-cli/internal/model"
)

var (
	loadCSVPath string
	loadMode    string
	loadMaxNew  int
)

var loadCmd = &cobra.Command{
	Use:   "load",
	Short: "Load a crash report CSV export into the store",
	Long:  "Parses the city CSV export, rebuilds the crashes table, and geocodes locations through the cache per the run policy.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		started := time.Now().UTC()
		policy := buildPolicy(loadMode, loadMaxNew)

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		records, report, err := ingest.ReadFile(ctx, loadCSVPath)
		if err != nil {
			return err
		}

		driver := enrich.NewDriver(st, newGeocoder())
		summary, err := driver.Run(ctx, records, policy)
		if err != nil {
			return err
		}

		// Full rebuild: the crashes table is replaced, the geocode cache
		// persists across loads.
		if err := st.ResetCrashes(ctx); err != nil {
			return err
		}
		inserted, err := st.InsertCrashes(ctx, records)
		if err != nil {
			return err
		}

		run := model.LoadRun{
			ID:            uuid.NewString(),
			Command:       "load",
			Mode:          string(policy.Mode),
			Quota:         policy.Quota,
			RowsIn:        report.RowsIn,
			RowsOut:       inserted,
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

		fmt.Println("=== Load Complete ===")
		fmt.Printf("Rows in:         %d\n", report.RowsIn)
		fmt.Printf("Rows loaded:     %d\n", inserted)
		fmt.Printf("Dropped:         %d bad date, %d missing key, %d duplicates\n",
			report.BadDate, report.MissingKey, report.Duplicates)
		fmt.Printf("Cache hits:      %d\n", summary.CacheHits)
		fmt.Printf("External calls:  %d (%d resolved, %d unresolved)\n",
			summary.ExternalCalls, summary.Resolved, summary.Unresolved)
		fmt.Printf("Skipped (policy): %d\n", summary.SkippedPolicy)

		return nil
	},
}

func init() {
	loadCmd.Flags().StringVar(&loadCSVPath, "csv", "", "path to the crash report CSV export (required)")
	loadCmd.Flags().StringVar(&loadMode, "mode", "", "geocode mode: cache_only, limited, or all (default from config)")
	loadCmd.Flags().IntVar(&loadMaxNew, "max-new", -1, "max new geocoder lookups in limited mode (default from config)")
	loadCmd.MarkFlagRequired("csv") //nolint:errcheck
	rootCmd.AddCommand(loadCmd)
}
