// Package ingestion loads historical support tickets into a record store.
package ingestion

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// DefaultLanguage is the ticket language kept by default.
const DefaultLanguage = "en"

// Column names looked up in the CSV header.
const (
	ColumnBody     = "body"
	ColumnAnswer   = "answer"
	ColumnLanguage = "language"
)

// Ticket is a support ticket row selected for ingestion.
type Ticket struct {
	Body   string
	Answer string
}

// ParseStats counts what happened to each data row.
type ParseStats struct {
	Rows            int
	Kept            int
	SkippedLanguage int
	SkippedEmpty    int
}

// ParseCSV reads tickets from r. Only rows whose language column equals
// language and whose body and answer are both non-blank are kept. Columns are
// matched by header name, case-insensitively; other columns are ignored.
func ParseCSV(r io.Reader, language string) ([]Ticket, ParseStats, error) {
	var stats ParseStats

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, stats, errors.New("csv is empty")
		}
		return nil, stats, fmt.Errorf("reading header: %w", err)
	}

	cols := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\uFEFF")))
		if _, dup := cols[name]; !dup {
			cols[name] = i
		}
	}
	for _, required := range []string{ColumnBody, ColumnAnswer, ColumnLanguage} {
		if _, ok := cols[required]; !ok {
			return nil, stats, fmt.Errorf("missing required column %q", required)
		}
	}

	field := func(row []string, name string) string {
		i := cols[name]
		if i >= len(row) {
			return ""
		}
		return row[i]
	}

	var tickets []Ticket
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, stats, fmt.Errorf("reading row %d: %w", stats.Rows+1, err)
		}
		stats.Rows++

		if strings.TrimSpace(field(row, ColumnLanguage)) != language {
			stats.SkippedLanguage++
			continue
		}

		body := strings.TrimSpace(field(row, ColumnBody))
		answer := strings.TrimSpace(field(row, ColumnAnswer))
		if body == "" || answer == "" {
			stats.SkippedEmpty++
			continue
		}

		tickets = append(tickets, Ticket{Body: body, Answer: answer})
		stats.Kept++
	}

	return tickets, stats, nil
}
