package admin

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/lamcatuk/vy-numbers/internal/slots"
	pkgerrors "github.com/lamcatuk/vy-numbers/pkg/errors"
)

// importColumns is the expected CSV layout after the header row.
var importColumns = []string{"number", "association", "nickname", "category", "country", "significance"}

// RowIssue points at a CSV row that was not imported.
type RowIssue struct {
	Row    int    `json:"row"`
	Number string `json:"number"`
	Reason string `json:"reason"`
}

type ImportReport struct {
	Rows       int        `json:"rows"`
	Applied    int64      `json:"applied"`
	Skipped    []string   `json:"skipped"`
	Duplicates []RowIssue `json:"duplicates"`
	Invalid    []RowIssue `json:"invalid"`
}

// Import reads number, association, nickname, category, country and
// significance columns and places each listed number on an admin hold with
// those attributes. The first row is a header.
func (s *service) Import(ctx context.Context, r io.Reader) (*ImportReport, error) {
	records, report, err := parseImport(r, s.idRange)
	if err != nil {
		return nil, err
	}
	if len(records) > 0 {
		res, err := s.store.ImportRecords(ctx, records)
		if err != nil {
			s.logg.Error(ctx, "admin.import_failed", err)
			return nil, storeError(err)
		}
		report.Applied = res.Applied
		if res.Skipped != nil {
			report.Skipped = res.Skipped
		}
	}
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"rows":       report.Rows,
		"applied":    report.Applied,
		"skipped":    len(report.Skipped),
		"duplicates": len(report.Duplicates),
		"invalid":    len(report.Invalid),
	}), "admin.import")
	return report, nil
}

func parseImport(r io.Reader, idRange slots.Range) ([]slots.ImportRecord, *ImportReport, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	report := &ImportReport{Skipped: []string{}, Duplicates: []RowIssue{}, Invalid: []RowIssue{}}
	var records []slots.ImportRecord
	seen := map[string]bool{}
	row := 0
	for {
		fields, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		row++
		if err != nil {
			return nil, nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, fmt.Sprintf("CSV row %d could not be read", row))
		}
		if row == 1 {
			continue
		}
		report.Rows++

		if len(fields) < len(importColumns) {
			report.Invalid = append(report.Invalid, RowIssue{
				Row:    row,
				Number: firstField(fields),
				Reason: fmt.Sprintf("expected %d columns, got %d", len(importColumns), len(fields)),
			})
			continue
		}
		raw := strings.TrimSpace(fields[0])
		id, err := slots.NormalizeID(raw, idRange)
		if err != nil {
			report.Invalid = append(report.Invalid, RowIssue{Row: row, Number: raw, Reason: "invalid number"})
			continue
		}
		if seen[id] {
			report.Duplicates = append(report.Duplicates, RowIssue{Row: row, Number: raw, Reason: "duplicate number"})
			continue
		}
		seen[id] = true

		records = append(records, slots.ImportRecord{
			ID:           id,
			Association:  strings.TrimSpace(fields[1]),
			Nickname:     strings.TrimSpace(fields[2]),
			Category:     strings.TrimSpace(fields[3]),
			Country:      strings.TrimSpace(fields[4]),
			Significance: strings.TrimSpace(fields[5]),
		})
	}
	return records, report, nil
}

func firstField(fields []string) string {
	if len(fields) == 0 {
		return ""
	}
	return strings.TrimSpace(fields[0])
}
