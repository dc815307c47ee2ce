// Package export writes dashboard tables as CSV and ships them to a sink.
package export

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
)

// Recorder is a table row that knows its CSV header and values.
type Recorder interface {
	Header() []string
	Record() []string
}

// Table is a decoded CSV file.
type Table struct {
	Header []string
	Rows   [][]string
}

// WriteCSV writes a header and one line per row. An empty slice still gets
// the header.
func WriteCSV[T Recorder](w io.Writer, rows []T) error {
	cw := csv.NewWriter(w)
	var zero T
	if err := cw.Write(zero.Header()); err != nil {
		return err
	}
	for _, r := range rows {
		if err := cw.Write(r.Record()); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// EncodeCSV returns the UTF-8 CSV bytes of rows.
func EncodeCSV[T Recorder](rows []T) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, rows); err != nil {
		return nil, fmt.Errorf("encode csv: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeCSV reads bytes produced by EncodeCSV back into a table.
func DecodeCSV(b []byte) (Table, error) {
	recs, err := csv.NewReader(bytes.NewReader(b)).ReadAll()
	if err != nil {
		return Table{}, fmt.Errorf("decode csv: %w", err)
	}
	if len(recs) == 0 {
		return Table{}, errors.New("decode csv: missing header")
	}
	return Table{Header: recs[0], Rows: recs[1:]}, nil
}
