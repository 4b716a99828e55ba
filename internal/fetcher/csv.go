package fetcher

import (
	"context"
	"encoding/csv"
	"io"
	"strings"

	"github.com/rotisserie/eris"
)

// CSVOptions configures the streaming CSV parser.
type CSVOptions struct {
	Delimiter  rune // default ','
	Comment    rune // comment character (0 = none)
	LazyQuotes bool
	TrimSpace  bool
}

// Record is one CSV data row keyed by lower-cased header name.
type Record map[string]string

// StreamCSV reads a CSV document whose first row is a header and sends each
// data row as a Record. Rows shorter than the header leave the missing keys
// empty. Both channels are closed when processing completes.
func StreamCSV(ctx context.Context, r io.Reader, opts CSVOptions) (<-chan Record, <-chan error) {
	rowCh := make(chan Record, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(rowCh)
		defer close(errCh)

		reader := csv.NewReader(r)
		if opts.Delimiter != 0 {
			reader.Comma = opts.Delimiter
		}
		if opts.Comment != 0 {
			reader.Comment = opts.Comment
		}
		reader.LazyQuotes = opts.LazyQuotes
		reader.FieldsPerRecord = -1 // allow variable fields

		var header []string
		for {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}

			fields, err := reader.Read()
			if err == io.EOF {
				return
			}
			if err != nil {
				errCh <- eris.Wrap(err, "csv: read row")
				return
			}

			if header == nil {
				header = make([]string, len(fields))
				for i, h := range fields {
					header[i] = strings.ToLower(strings.TrimSpace(h))
				}
				continue
			}

			rec := make(Record, len(header))
			for i, h := range header {
				if i >= len(fields) {
					break
				}
				v := fields[i]
				if opts.TrimSpace {
					v = strings.TrimSpace(v)
				}
				rec[h] = v
			}

			select {
			case rowCh <- rec:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}
		}
	}()

	return rowCh, errCh
}
