/*
import.go - Seed counters from a legacy list of issued codes

PURPOSE:
  Offices moving onto the service already have codes in spreadsheets.
  Importing them marks each code used and raises its prefix counter so
  the next reservation continues after the highest imported number.

INPUT:
  CSV, UTF-8 (BOM tolerated) or EUC-KR/CP949 as saved by Korean Excel.
  The code column is either named (ImportOptions.Column, matched against
  the header row) or detected: the first column whose first data cell
  parses as a code.

  Blank cells are skipped. Cells that do not parse are reported in
  ImportReport.Invalid and do not abort the import.

ATOMICITY:
  The whole file is committed in one transaction.
*/
package codes

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Encoding names accepted by ImportOptions.
const (
	EncodingUTF8  = "utf-8"
	EncodingEUCKR = "euc-kr"
)

// ImportOptions controls Import.
type ImportOptions struct {
	Encoding string // "utf-8" (default) or "euc-kr"/"cp949"
	Column   string // header name of the code column; empty = detect
	Actor    string
}

// ImportReport summarises an import.
type ImportReport struct {
	Imported int
	Skipped  int      // blank cells and codes already used
	Invalid  []string // cells that did not parse as codes
}

// Import reads r and commits every code found.
func (a *Allocator) Import(ctx context.Context, r io.Reader, opts ImportOptions) (ImportReport, error) {
	decoded, err := decodeReader(r, opts.Encoding)
	if err != nil {
		return ImportReport{}, err
	}

	cr := csv.NewReader(decoded)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	records, err := cr.ReadAll()
	if err != nil {
		return ImportReport{}, fmt.Errorf("%w: read csv: %w", ErrInvalidImport, err)
	}
	if len(records) == 0 {
		return ImportReport{}, nil
	}

	col, start, err := locateCodeColumn(records, opts.Column)
	if err != nil {
		return ImportReport{}, err
	}

	var report ImportReport
	err = a.store.WithTx(ctx, func(s Store) error {
		report = ImportReport{}
		for _, rec := range records[start:] {
			if col >= len(rec) || strings.TrimSpace(rec[col]) == "" {
				report.Skipped++
				continue
			}
			cell := strings.TrimSpace(rec[col])
			prefix, seq, err := Parse(Code(cell))
			if err != nil {
				report.Invalid = append(report.Invalid, cell)
				continue
			}
			code := Format(prefix, seq)
			used, err := s.IsUsed(ctx, code)
			if err != nil {
				return err
			}
			if used {
				report.Skipped++
				continue
			}
			alloc := Allocation{Prefix: prefix, NextSeq: seq, Code: code}
			if err := a.commitIn(ctx, s, alloc, SourceImport, opts.Actor); err != nil {
				return err
			}
			report.Imported++
		}
		return nil
	})
	if err != nil {
		return ImportReport{}, storageErr("import", err)
	}

	a.logger.Info("legacy codes imported",
		zap.Int("imported", report.Imported),
		zap.Int("skipped", report.Skipped),
		zap.Int("invalid", len(report.Invalid)))
	return report, nil
}

func decodeReader(r io.Reader, encoding string) (io.Reader, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", EncodingUTF8, "utf8":
		return transform.NewReader(r, unicode.UTF8BOM.NewDecoder()), nil
	case EncodingEUCKR, "euckr", "cp949", "ks_c_5601-1987":
		return transform.NewReader(r, korean.EUCKR.NewDecoder()), nil
	default:
		return nil, fmt.Errorf("%w: unsupported encoding %q", ErrInvalidImport, encoding)
	}
}

// locateCodeColumn returns the column index and first data row.
func locateCodeColumn(records [][]string, column string) (int, int, error) {
	if column != "" {
		want := NormalizeLabel(column)
		for i, h := range records[0] {
			if NormalizeLabel(h) == want {
				return i, 1, nil
			}
		}
		return 0, 0, fmt.Errorf("%w: column %q not found in header", ErrInvalidImport, column)
	}

	// Header row is optional: if row 0 already holds a code, there is none.
	for start := 0; start < len(records) && start < 2; start++ {
		for i, cell := range records[start] {
			if _, _, err := Parse(Code(strings.TrimSpace(cell))); err == nil {
				return i, start, nil
			}
		}
	}
	return 0, 0, fmt.Errorf("%w: no column of listing codes found", ErrInvalidImport)
}
