package cli

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v3"
)

// OutputFormat represents the output format for command results.
type OutputFormat string

const (
	// FormatText is aligned plain text (default).
	FormatText OutputFormat = "text"
	// FormatJSON is indented JSON.
	FormatJSON OutputFormat = "json"
	// FormatYAML is YAML.
	FormatYAML OutputFormat = "yaml"
	// FormatCSV is CSV with a header row.
	FormatCSV OutputFormat = "csv"
)

// ErrNotTabular is returned by the CSV formatter for data without rows.
var ErrNotTabular = errors.New("data cannot be rendered as a table")

// Table is a header plus rows of cells.
type Table struct {
	Header []string
	Rows   [][]string
}

// Tabular is implemented by command results that render as a table in
// text and CSV output. JSON and YAML always encode the value itself.
type Tabular interface {
	Table() Table
}

// Formatter formats command output.
type Formatter interface {
	Format(data any) ([]byte, error)
	FormatTo(w io.Writer, data any) error
}

// ParseFormat parses a --output flag value.
func ParseFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(s)); f {
	case "", FormatText:
		return FormatText, nil
	case FormatJSON, FormatYAML, FormatCSV:
		return f, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want text, json, yaml or csv)", s)
	}
}

// NewFormatter creates a new formatter for the specified format.
func NewFormatter(format OutputFormat) Formatter {
	switch format {
	case FormatJSON:
		return &JSONFormatter{Indent: true}
	case FormatYAML:
		return &YAMLFormatter{}
	case FormatCSV:
		return &CSVFormatter{}
	default:
		return &TextFormatter{}
	}
}

func format(f Formatter, data any) ([]byte, error) {
	var buf bytes.Buffer
	if err := f.FormatTo(&buf, data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// TextFormatter writes tables as aligned columns and anything else with %v.
type TextFormatter struct{}

// Format renders data as an aligned table when it implements Tabular and
// with %v otherwise.
func (f *TextFormatter) Format(data any) ([]byte, error) {
	return format(f, data)
}

// FormatTo writes the text rendering of data to w.
func (f *TextFormatter) FormatTo(w io.Writer, data any) error {
	t, ok := data.(Tabular)
	if !ok {
		_, err := fmt.Fprintf(w, "%v\n", data)
		return err
	}

	table := t.Table()
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if len(table.Header) > 0 {
		fmt.Fprintln(tw, strings.Join(table.Header, "\t"))
	}
	for _, row := range table.Rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	return tw.Flush()
}

// JSONFormatter formats output as JSON.
type JSONFormatter struct {
	Indent bool
}

// Format marshals data as JSON, indented unless the formatter is compact.
func (f *JSONFormatter) Format(data any) ([]byte, error) {
	if f.Indent {
		return json.MarshalIndent(data, "", "  ")
	}
	return json.Marshal(data)
}

// FormatTo writes the JSON rendering of data to w followed by a newline.
func (f *JSONFormatter) FormatTo(w io.Writer, data any) error {
	encoder := json.NewEncoder(w)
	if f.Indent {
		encoder.SetIndent("", "  ")
	}
	return encoder.Encode(data)
}

// YAMLFormatter formats output as YAML.
type YAMLFormatter struct{}

// Format marshals data as YAML.
func (f *YAMLFormatter) Format(data any) ([]byte, error) {
	return format(f, data)
}

// FormatTo writes the YAML rendering of data to w.
func (f *YAMLFormatter) FormatTo(w io.Writer, data any) error {
	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	if err := encoder.Encode(data); err != nil {
		return fmt.Errorf("failed to encode YAML: %w", err)
	}
	return encoder.Close()
}

// CSVFormatter writes Tabular data as CSV.
type CSVFormatter struct{}

// Format renders Tabular data as CSV with a header row.
func (f *CSVFormatter) Format(data any) ([]byte, error) {
	return format(f, data)
}

// FormatTo writes the CSV rendering of data to w. Data that does not
// implement Tabular is rejected.
func (f *CSVFormatter) FormatTo(w io.Writer, data any) error {
	t, ok := data.(Tabular)
	if !ok {
		return fmt.Errorf("%w: %T", ErrNotTabular, data)
	}
	table := t.Table()

	csvWriter := csv.NewWriter(w)
	if len(table.Header) > 0 {
		if err := csvWriter.Write(table.Header); err != nil {
			return err
		}
	}
	if err := csvWriter.WriteAll(table.Rows); err != nil {
		return err
	}
	return csvWriter.Error()
}
