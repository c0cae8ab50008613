// Package ingest reads raw crash report CSV exports and prepares them for loading.
package ingest

import (
	"context"
	"encoding/csv"
	"io"
	"strings"

	"github.com/rotisserie/eris"
)

// streamRows reads CSV rows and sends them to a channel. The first row is
// sent on the header channel. Caller must consume the row channel; both
// channels are closed when processing completes.
func streamRows(ctx context.Context, r io.Reader, headerCh chan<- []string) (<-chan []string, <-chan error) {
	rowCh := make(chan []string, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(rowCh)
		defer close(errCh)

		reader := csv.NewReader(r)
		reader.FieldsPerRecord = -1 // raw exports have ragged rows
		reader.LazyQuotes = true

		first := true
		for {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}

			record, err := reader.Read()
			if err == io.EOF {
				return
			}
			if err != nil {
				errCh <- eris.Wrap(err, "csv: read row")
				return
			}

			for i, field := range record {
				record[i] = strings.TrimSpace(field)
			}

			if first {
				first = false
				select {
				case headerCh <- record:
				case <-ctx.Done():
					errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled sending header")
					return
				}
				continue
			}

			select {
			case rowCh <- record:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}
		}
	}()

	return rowCh, errCh
}
