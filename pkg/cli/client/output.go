package client

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/olekukonko/tablewriter"
	"golang.org/x/term"
)

// DefaultOutput is "table" on a terminal and "json" when stdout is piped.
func DefaultOutput() string {
	if term.IsTerminal(int(os.Stdout.Fd())) {
		return "table"
	}
	return "json"
}

// PrintJSON writes v as indented JSON.
func PrintJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// PrintTable writes rows under upper-cased column headers. Nothing is
// written when there are no columns.
func PrintTable(w io.Writer, columns []string, rows [][]string) {
	if len(columns) == 0 {
		return
	}
	table := tablewriter.NewWriter(w)
	table.SetHeader(columns)
	table.SetBorder(false)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)
	table.AppendBulk(rows)
	table.Render()
}

// PrintDetail writes one "key:  value" line per field, sorted by key, with
// the values aligned.
func PrintDetail(w io.Writer, fields map[string]interface{}) {
	keys := make([]string, 0, len(fields))
	width := 0
	for k := range fields {
		keys = append(keys, k)
		width = max(width, len(k))
	}
	sort.Strings(keys)
	for _, k := range keys {
		pad := strings.Repeat(" ", width-len(k))
		_, _ = fmt.Fprintf(w, "%s:%s  %s\n", k, pad, FormatValue(fields[k]))
	}
}

// ExtractField renders data[key] for a table cell.
func ExtractField(data map[string]interface{}, key string) string {
	return FormatValue(data[key])
}

// FormatValue renders scalars with %v and maps and slices as JSON. nil is
// the empty string.
func FormatValue(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%g", val)
	case map[string]interface{}, []interface{}:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(b)
	default:
		return strings.TrimSpace(fmt.Sprintf("%v", val))
	}
}

// ExtractRows pulls table rows for columns out of a list envelope's data
// array. Items that are not objects are skipped.
func ExtractRows(data map[string]interface{}, columns []string) [][]string {
	items, ok := data["data"].([]interface{})
	if !ok {
		return nil
	}
	return Rows(items, columns)
}

// Rows turns decoded list items into table rows for columns.
func Rows(items []interface{}, columns []string) [][]string {
	var rows [][]string
	for _, it := range items {
		m, ok := it.(map[string]interface{})
		if !ok {
			continue
		}
		row := make([]string, len(columns))
		for i, col := range columns {
			row[i] = ExtractField(m, col)
		}
		rows = append(rows, row)
	}
	return rows
}
