package export

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jonas-p/go-shp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/mke-data/crash-cli/internal/model"
)

func sampleRecords() []model.CrashRecord {
	lat, lon := 43.03, -87.92
	recs := []model.CrashRecord{
		{
			CaseNumber:    "C1",
			CrashDatetime: time.Date(2023, 1, 2, 8, 0, 0, 0, time.UTC),
			CrashLocation: "N 27TH ST",
		},
		{
			CaseNumber:    "C2",
			CrashDatetime: time.Date(2023, 6, 10, 23, 15, 0, 0, time.UTC),
			CrashLocation: "W HOWELL AVE",
			Lat:           &lat,
			Lon:           &lon,
		},
	}
	for i := range recs {
		recs[i].DeriveFields()
	}
	return recs
}

func TestParseFormat(t *testing.T) {
	for _, valid := range []string{"csv", "xlsx", "shp"} {
		f, err := ParseFormat(valid)
		require.NoError(t, err)
		assert.Equal(t, Format(valid), f)
	}

	_, err := ParseFormat("pdf")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown format")
}

func TestWriteCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crashes.csv")

	n, err := Write(path, sampleRecords(), FormatCSV)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close() //nolint:errcheck

	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, columns, rows[0])
	assert.Equal(t, "C1", rows[1][0])
	assert.Equal(t, "2023-01-02 08:00:00", rows[1][1])
	assert.Equal(t, "", rows[1][8]) // ungeocoded lat is blank
	assert.Equal(t, "43.03", rows[2][8])
	assert.Equal(t, "-87.92", rows[2][9])
}

func TestWriteXLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crashes.xlsx")

	n, err := Write(path, sampleRecords(), FormatXLSX)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	f, err := xlsx.OpenFile(path)
	require.NoError(t, err)
	require.Len(t, f.Sheets, 1)

	sheet := f.Sheets[0]
	assert.Equal(t, "crashes", sheet.Name)
	require.Len(t, sheet.Rows, 3)
	assert.Equal(t, "case_number", sheet.Rows[0].Cells[0].String())
	assert.Equal(t, "C2", sheet.Rows[2].Cells[0].String())
	assert.Equal(t, "W HOWELL AVE", sheet.Rows[2].Cells[7].String())
}

func TestWriteShapefile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crashes.shp")

	n, err := Write(path, sampleRecords(), FormatShapefile)
	require.NoError(t, err)
	assert.Equal(t, 1, n) // only geocoded rows

	// The attribute table must be readable by standard tooling.
	_, err = os.Stat(strings.TrimSuffix(path, ".shp") + ".dbf")
	require.NoError(t, err)

	r, err := shp.Open(path)
	require.NoError(t, err)
	defer r.Close() //nolint:errcheck

	require.True(t, r.Next())
	_, shape := r.Shape()
	point, ok := shape.(*shp.Point)
	require.True(t, ok)
	assert.InDelta(t, -87.92, point.X, 0.0001)
	assert.InDelta(t, 43.03, point.Y, 0.0001)

	caseNo := strings.TrimRight(r.Attribute(0), "\x00")
	assert.Equal(t, "C2", strings.TrimSpace(caseNo))
	assert.False(t, r.Next())
}

func TestWriteEmpty(t *testing.T) {
	dir := t.TempDir()

	n, err := Write(filepath.Join(dir, "empty.csv"), nil, FormatCSV)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = Write(filepath.Join(dir, "empty.shp"), sampleRecords()[:1], FormatShapefile)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
