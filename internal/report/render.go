package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v3"
)

// Output formats accepted by Write
const (
	FormatTable = "table"
	FormatJSON  = "json"
	FormatCSV   = "csv"
	FormatYAML  = "yaml"
)

// Write renders rep to w in the given format
func Write(w io.Writer, rep *Report, format string) error {
	switch strings.ToLower(format) {
	case FormatJSON:
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(rep)

	case FormatYAML:
		encoder := yaml.NewEncoder(w)
		encoder.SetIndent(2)
		if err := encoder.Encode(rep); err != nil {
			return fmt.Errorf("failed to encode YAML: %w", err)
		}
		return encoder.Close()

	case FormatCSV:
		return WriteCSV(w, rep)

	case FormatTable, "":
		return WriteTable(w, rep)

	default:
		return fmt.Errorf("unknown output format %q (want table, json, csv or yaml)", format)
	}
}

// WriteCSV writes the date line, a blank line, the header and all rows
func WriteCSV(w io.Writer, rep *Report) error {
	cw := csv.NewWriter(w)

	records := [][]string{
		{"Date", rep.Day, rep.TZ},
		{},
		Headers,
	}
	for _, row := range rep.AllRows() {
		records = append(records, row.Cells())
	}

	// An empty record is written as a blank line.
	if err := cw.WriteAll(records); err != nil {
		return fmt.Errorf("failed to write CSV: %w", err)
	}
	return nil
}

// WriteTable renders the report as a text table
func WriteTable(w io.Writer, rep *Report) error {
	fmt.Fprintf(w, "Date: %s (%s)   Range: %s - %s\n\n",
		rep.Day, rep.TZ, HourLabel(rep.Range.Start), HourLabel(rep.Range.End))

	table := tablewriter.NewWriter(w)
	table.Header(cells(Headers)...)
	for _, row := range rep.Rows {
		if err := table.Append(cells(row.Cells())...); err != nil {
			return fmt.Errorf("failed to append row: %w", err)
		}
	}
	table.Footer(cells(rep.Average.Cells())...)
	if err := table.Render(); err != nil {
		return fmt.Errorf("failed to render table: %w", err)
	}

	if rep.DerivedJobID != "" {
		fmt.Fprintf(w, "\nDerived job: %s\n", rep.DerivedJobID)
	}
	return nil
}

func cells(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
