// Package export writes filtered crash records to analyst-friendly file
// formats.
package export

import (
	"encoding/csv"
	"os"
	"strconv"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/mke-data/crash-cli/internal/model"
)

// Format selects an export file format.
type Format string

const (
	FormatCSV       Format = "csv"
	FormatXLSX      Format = "xlsx"
	FormatShapefile Format = "shp"
)

// ParseFormat validates an export format string.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatCSV, FormatXLSX, FormatShapefile:
		return Format(s), nil
	default:
		return "", eris.Errorf("export: unknown format %q (want csv, xlsx, or shp)", s)
	}
}

const datetimeLayout = "2006-01-02 15:04:05"

var columns = []string{"case_number", "crash_datetime", "year", "month", "day_of_week", "hour_of_day", "is_weekend", "crash_location", "lat", "lon"}

// Write writes records to path in the given format and returns the number
// of rows written. The shapefile format only carries geocoded records.
func Write(path string, records []model.CrashRecord, format Format) (int, error) {
	var n int
	var err error
	switch format {
	case FormatCSV:
		n, err = writeCSV(path, records)
	case FormatXLSX:
		n, err = writeXLSX(path, records)
	case FormatShapefile:
		n, err = writeShapefile(path, records)
	default:
		return 0, eris.Errorf("export: unknown format %q", format)
	}
	if err != nil {
		return 0, err
	}

	zap.L().Info("export written",
		zap.String("path", path),
		zap.String("format", string(format)),
		zap.Int("rows", n))
	return n, nil
}

func rowStrings(r model.CrashRecord) []string {
	lat, lon := "", ""
	if r.Lat != nil {
		lat = strconv.FormatFloat(*r.Lat, 'f', -1, 64)
	}
	if r.Lon != nil {
		lon = strconv.FormatFloat(*r.Lon, 'f', -1, 64)
	}
	return []string{
		r.CaseNumber,
		r.CrashDatetime.Format(datetimeLayout),
		strconv.Itoa(r.Year),
		strconv.Itoa(r.Month),
		r.DayOfWeek,
		strconv.Itoa(r.HourOfDay),
		strconv.FormatBool(r.IsWeekend),
		r.CrashLocation,
		lat,
		lon,
	}
}

func writeCSV(path string, records []model.CrashRecord) (int, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, eris.Wrapf(err, "export: create %s", path)
	}
	defer f.Close() //nolint:errcheck

	w := csv.NewWriter(f)
	if err := w.Write(columns); err != nil {
		return 0, eris.Wrap(err, "export: write csv header")
	}
	for _, r := range records {
		if err := w.Write(rowStrings(r)); err != nil {
			return 0, eris.Wrapf(err, "export: write csv row %s", r.CaseNumber)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return 0, eris.Wrap(err, "export: flush csv")
	}
	return len(records), nil
}

func writeXLSX(path string, records []model.CrashRecord) (int, error) {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("crashes")
	if err != nil {
		return 0, eris.Wrap(err, "export: add xlsx sheet")
	}

	header := sheet.AddRow()
	for _, col := range columns {
		header.AddCell().SetString(col)
	}
	for _, r := range records {
		row := sheet.AddRow()
		for _, cell := range rowStrings(r) {
			row.AddCell().SetString(cell)
		}
	}

	if err := f.Save(path); err != nil {
		return 0, eris.Wrapf(err, "export: save %s", path)
	}
	return len(records), nil
}

// writeShapefile writes geocoded records as a point shapefile with crash
// attributes in the companion dbf.
func writeShapefile(path string, records []model.CrashRecord) (int, error) {
	w, err := shp.Create(path, shp.POINT)
	if err != nil {
		return 0, eris.Wrapf(err, "export: create shapefile %s", path)
	}

	fields := []shp.Field{
		shp.StringField("CASE_NO", 32),
		shp.StringField("DATETIME", 19),
		shp.StringField("DAY", 9),
		shp.NumberField("HOUR", 2),
		shp.StringField("WEEKEND", 5),
		shp.StringField("LOCATION", 128),
	}
	if err := w.SetFields(fields); err != nil {
		w.Close() //nolint:errcheck
		return 0, eris.Wrap(err, "export: set shapefile fields")
	}

	n := 0
	for _, r := range records {
		if !r.Geocoded() {
			continue
		}
		w.Write(&shp.Point{X: *r.Lon, Y: *r.Lat})

		attrs := []string{
			r.CaseNumber,
			r.CrashDatetime.Format(datetimeLayout),
			r.DayOfWeek,
			strconv.Itoa(r.HourOfDay),
			strconv.FormatBool(r.IsWeekend),
			r.CrashLocation,
		}
		for i, v := range attrs {
			if err := w.WriteAttribute(n, i, v); err != nil {
				w.Close() //nolint:errcheck
				return 0, eris.Wrapf(err, "export: write shapefile attribute %s", r.CaseNumber)
			}
		}
		n++
	}

	w.Close()

	// go-shp names the attribute file "<base>dbf" (no dot); readers look
	// for "<base>.dbf".
	base := strings.TrimSuffix(path, ".shp")
	if _, err := os.Stat(base + "dbf"); err == nil {
		if err := os.Rename(base+"dbf", base+".dbf"); err != nil {
			return 0, eris.Wrap(err, "export: rename shapefile dbf")
		}
	}
	return n, nil
}
