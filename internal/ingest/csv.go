// Package ingest decodes deal records from external tabular data.
package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// ErrMissingColumns reports a header without the required column set.
var ErrMissingColumns = errors.New("missing required columns")

// MalformedRecordError marks a row that cannot be decoded at all, e.g. a
// non-numeric deal size. It is distinct from policy violations, which are
// validation outcomes on well-formed records.
type MalformedRecordError struct {
	Line  int
	Field string
	Err   error
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("malformed record at line %d: field %q: %v", e.Line, e.Field, e.Err)
}

func (e *MalformedRecordError) Unwrap() error { return e.Err }

// Required CSV columns, matched case-insensitively.
var requiredColumns = []string{
	"deal_id", "sales_rep", "region", "product_tier",
	"deal_size", "commission_rate", "commission_amount",
}

// ReadCSV decodes deal records from CSV data with a header row. It fails
// fast on a bad header or a malformed row; partially decoded batches are
// never returned.
func ReadCSV(r io.Reader) ([]domain.DealRecord, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range requiredColumns {
		if _, ok := cols[required]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumns, required)
		}
	}

	var records []domain.DealRecord
	line := 1
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV row: %w", err)
		}
		line++

		record, err := decodeRow(row, cols, line)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}

	return records, nil
}

func decodeRow(row []string, cols map[string]int, line int) (domain.DealRecord, error) {
	get := func(name string) string {
		i := cols[name]
		if i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	record := domain.DealRecord{
		DealID:      get("deal_id"),
		SalesRep:    get("sales_rep"),
		Region:      get("region"),
		ProductTier: get("product_tier"),
	}

	for _, f := range []struct {
		name string
		dst  *float64
	}{
		{"deal_size", &record.DealSize},
		{"commission_rate", &record.CommissionRate},
		{"commission_amount", &record.CommissionAmount},
	} {
		v, err := strconv.ParseFloat(get(f.name), 64)
		if err != nil {
			return domain.DealRecord{}, &MalformedRecordError{Line: line, Field: f.name, Err: err}
		}
		*f.dst = v
	}

	return record, nil
}

// WriteCSV encodes deal records as CSV with the canonical header.
func WriteCSV(w io.Writer, records []domain.DealRecord) error {
	writer := csv.NewWriter(w)

	if err := writer.Write(requiredColumns); err != nil {
		return err
	}
	for _, r := range records {
		row := []string{
			r.DealID,
			r.SalesRep,
			r.Region,
			r.ProductTier,
			strconv.FormatFloat(r.DealSize, 'f', 2, 64),
			strconv.FormatFloat(r.CommissionRate, 'f', 4, 64),
			strconv.FormatFloat(r.CommissionAmount, 'f', 2, 64),
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}
