package ingest

import (
	"context"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/mke-data/crash-cli/internal/model"
)

// datetimeLayout matches the city export's casedate format.
const datetimeLayout = "2006-01-02 15:04:05"

// Required source columns, after header normalization.
const (
	colCaseNumber = "casenumber"
	colCaseDate   = "casedate"
	colLocation   = "crashloc"
)

// Report summarizes what happened to the raw rows during preparation.
type Report struct {
	RowsIn     int `json:"rows_in"`
	RowsOut    int `json:"rows_out"`
	BadDate    int `json:"bad_date"`
	MissingKey int `json:"missing_key"`
	Duplicates int `json:"duplicates"`
}

// ReadFile loads and prepares crash records from a CSV file on disk.
func ReadFile(ctx context.Context, path string) ([]model.CrashRecord, Report, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, Report{}, eris.Wrapf(err, "ingest: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	return Read(ctx, f)
}

// Read parses crash records from a CSV stream. Rows with an unparseable
// date or a missing case number are dropped and counted; duplicate case
// numbers keep the newest record by crash datetime.
func Read(ctx context.Context, r io.Reader) ([]model.CrashRecord, Report, error) {
	headerCh := make(chan []string, 1)
	rowCh, errCh := streamRows(ctx, r, headerCh)

	var header []string
	select {
	case header = <-headerCh:
	case err := <-errCh:
		if err != nil {
			return nil, Report{}, err
		}
		return nil, Report{}, eris.New("ingest: empty csv input")
	case <-ctx.Done():
		return nil, Report{}, eris.Wrap(ctx.Err(), "ingest: context cancelled")
	}

	cols, err := resolveColumns(header)
	if err != nil {
		return nil, Report{}, err
	}

	var report Report
	var records []model.CrashRecord
	for row := range rowCh {
		report.RowsIn++

		rec, ok := parseRow(row, cols)
		if !ok {
			if field(row, cols.caseNumber) == "" {
				report.MissingKey++
			} else {
				report.BadDate++
			}
			continue
		}
		records = append(records, rec)
	}
	if err := <-errCh; err != nil {
		return nil, Report{}, err
	}

	records, dupes := dedupe(records)
	report.Duplicates = dupes
	report.RowsOut = len(records)

	zap.L().Info("prepared crash records",
		zap.Int("rows_in", report.RowsIn),
		zap.Int("rows_out", report.RowsOut),
		zap.Int("bad_date", report.BadDate),
		zap.Int("missing_key", report.MissingKey),
		zap.Int("duplicates", report.Duplicates))

	return records, report, nil
}

type columnIndex struct {
	caseNumber int
	caseDate   int
	location   int
}

// resolveColumns maps required source columns to their positions. Header
// matching ignores case, spaces, and underscores.
func resolveColumns(header []string) (columnIndex, error) {
	idx := columnIndex{caseNumber: -1, caseDate: -1, location: -1}
	for i, name := range header {
		switch normalizeHeader(name) {
		case colCaseNumber:
			idx.caseNumber = i
		case colCaseDate:
			idx.caseDate = i
		case colLocation:
			idx.location = i
		}
	}

	var missing []string
	if idx.caseNumber < 0 {
		missing = append(missing, colCaseNumber)
	}
	if idx.caseDate < 0 {
		missing = append(missing, colCaseDate)
	}
	if idx.location < 0 {
		missing = append(missing, colLocation)
	}
	if len(missing) > 0 {
		return idx, eris.Errorf("ingest: missing required columns: %s", strings.Join(missing, ", "))
	}
	return idx, nil
}

func normalizeHeader(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.ReplaceAll(name, " ", "")
	return strings.ReplaceAll(name, "_", "")
}

func parseRow(row []string, cols columnIndex) (model.CrashRecord, bool) {
	caseNumber := field(row, cols.caseNumber)
	if caseNumber == "" {
		return model.CrashRecord{}, false
	}

	dt, err := time.Parse(datetimeLayout, field(row, cols.caseDate))
	if err != nil {
		return model.CrashRecord{}, false
	}

	rec := model.CrashRecord{
		CaseNumber:    caseNumber,
		CrashDatetime: dt,
		CrashLocation: strings.ToUpper(field(row, cols.location)),
	}
	rec.DeriveFields()
	return rec, true
}

func field(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// dedupe keeps one record per case number, preferring the newest crash
// datetime. Output is sorted oldest first.
func dedupe(records []model.CrashRecord) ([]model.CrashRecord, int) {
	byCase := make(map[string]model.CrashRecord, len(records))
	dupes := 0
	for _, rec := range records {
		prev, ok := byCase[rec.CaseNumber]
		if ok {
			dupes++
			if !rec.CrashDatetime.After(prev.CrashDatetime) {
				continue
			}
		}
		byCase[rec.CaseNumber] = rec
	}

	out := make([]model.CrashRecord, 0, len(byCase))
	for _, rec := range byCase {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CrashDatetime.Equal(out[j].CrashDatetime) {
			return out[i].CaseNumber < out[j].CaseNumber
		}
		return out[i].CrashDatetime.Before(out[j].CrashDatetime)
	})
	return out, dupes
}
