package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mke-data/crash-cli/internal/export"
	"github.com/mke-data/crash-cli/internal/store"
)

var (
	exportOut     string
	exportFormat  string
	exportFrom    string
	exportTo      string
	exportKeyword string
	exportDayType string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export filtered crashes to csv, xlsx, or a point shapefile",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		format, err := export.ParseFormat(exportFormat)
		if err != nil {
			return err
		}
		filter, err := exportFilter()
		if err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		records, err := st.ListCrashes(ctx, filter)
		if err != nil {
			return err
		}

		n, err := export.Write(exportOut, records, format)
		if err != nil {
			return err
		}

		fmt.Printf("Wrote %d rows to %s\n", n, exportOut)
		return nil
	},
}

func exportFilter() (store.CrashFilter, error) {
	var filter store.CrashFilter

	if exportFrom != "" {
		t, err := time.Parse("2006-01-02", exportFrom)
		if err != nil {
			return filter, fmt.Errorf("invalid --from date: %w", err)
		}
		filter.From = &t
	}
	if exportTo != "" {
		t, err := time.Parse("2006-01-02", exportTo)
		if err != nil {
			return filter, fmt.Errorf("invalid --to date: %w", err)
		}
		t = t.AddDate(0, 0, 1) // inclusive end date
		filter.To = &t
	}
	filter.Keyword = exportKeyword

	switch dt := store.DayType(exportDayType); dt {
	case store.DayTypeAll, store.DayTypeWeekday, store.DayTypeWeekend:
		filter.DayType = dt
	default:
		return filter, fmt.Errorf("invalid --day-type %q (want weekday or weekend)", exportDayType)
	}

	return filter, nil
}

func init() {
	exportCmd.Flags().StringVar(&exportOut, "out", "", "output file path (required)")
	exportCmd.Flags().StringVar(&exportFormat, "format", "csv", "output format: csv, xlsx, or shp")
	exportCmd.Flags().StringVar(&exportFrom, "from", "", "start date (YYYY-MM-DD)")
	exportCmd.Flags().StringVar(&exportTo, "to", "", "end date, inclusive (YYYY-MM-DD)")
	exportCmd.Flags().StringVar(&exportKeyword, "q", "", "location keyword filter")
	exportCmd.Flags().StringVar(&exportDayType, "day-type", "", "weekday or weekend")
	exportCmd.MarkFlagRequired("out") //nolint:errcheck
	rootCmd.AddCommand(exportCmd)
}
