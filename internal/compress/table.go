package compress

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
)

// compactRowThreshold is the row count above which tables use the compact form.
const compactRowThreshold = 20

// Table is a header row plus data rows, all trimmed strings.
type Table struct {
	Headers []string
	Rows    [][]string
}

// NewTable pads ragged rows, names missing headers col_N and suffixes repeated
// headers (Revenue, Revenue_2) so every record key is unique.
func NewTable(headers []string, rows [][]string) Table {
	width := len(headers)
	for _, r := range rows {
		width = max(width, len(r))
	}
	t := Table{Headers: make([]string, width), Rows: make([][]string, 0, len(rows))}
	seen := make(map[string]bool, width)
	for i := range t.Headers {
		h := fmt.Sprintf("col_%d", i+1)
		if i < len(headers) && strings.TrimSpace(headers[i]) != "" {
			h = strings.TrimSpace(headers[i])
		}
		for base, n := h, 2; seen[h]; n++ {
			h = fmt.Sprintf("%s_%d", base, n)
		}
		seen[h] = true
		t.Headers[i] = h
	}
	for _, r := range rows {
		row := make([]string, width)
		for i := range row {
			if i < len(r) {
				row[i] = strings.TrimSpace(r[i])
			}
		}
		t.Rows = append(t.Rows, row)
	}
	return t
}

// LoadCSV reads a table whose first record is the header.
func LoadCSV(path string) (Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return Table{}, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	recs, err := r.ReadAll()
	if err != nil {
		return Table{}, fmt.Errorf("read csv %s: %w", path, err)
	}
	if len(recs) == 0 {
		return Table{}, errors.New("empty csv")
	}
	return NewTable(recs[0], recs[1:]), nil
}

// WriteCSV stores the table with its header first.
func WriteCSV(path string, t Table) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)
	if err := w.Write(t.Headers); err != nil {
		f.Close()
		return err
	}
	if err := w.WriteAll(t.Rows); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

type compactTable struct {
	Format   string     `json:"format"`
	Headers  []string   `json:"headers"`
	Rows     [][]string `json:"rows"`
	RowCount int        `json:"row_count"`
}

// record keeps header order when marshalled.
type record struct {
	keys, values []string
}

func (r record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range r.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := encode(k, "")
		if err != nil {
			return nil, err
		}
		vb, err := encode(r.values[i], "")
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

type recordsTable struct {
	Format string   `json:"format"`
	Data   []record `json:"data"`
}

// serialize returns the table's context form; tables without rows are skipped.
func (t Table) serialize() (json.RawMessage, bool) {
	if len(t.Rows) == 0 {
		return nil, false
	}
	var v any
	if len(t.Rows) > compactRowThreshold {
		v = compactTable{Format: "compact", Headers: t.Headers, Rows: t.Rows, RowCount: len(t.Rows)}
	} else {
		recs := make([]record, len(t.Rows))
		for i, row := range t.Rows {
			recs[i] = record{keys: t.Headers, values: row}
		}
		v = recordsTable{Format: "records", Data: recs}
	}
	b, err := encode(v, "")
	if err != nil {
		return nil, false
	}
	return b, true
}

// parseTable reverses serialize, keeping record key order.
func parseTable(raw json.RawMessage) (Table, error) {
	var head struct {
		Format string `json:"format"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return Table{}, err
	}
	switch head.Format {
	case "compact":
		var c compactTable
		if err := json.Unmarshal(raw, &c); err != nil {
			return Table{}, err
		}
		return Table{Headers: c.Headers, Rows: c.Rows}, nil
	case "records":
		var r struct {
			Data []json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(raw, &r); err != nil {
			return Table{}, err
		}
		var t Table
		for i, obj := range r.Data {
			keys, values, err := orderedObject(obj)
			if err != nil {
				return Table{}, err
			}
			if i == 0 {
				t.Headers = keys
			}
			t.Rows = append(t.Rows, values)
		}
		return t, nil
	default:
		return Table{}, fmt.Errorf("unknown table format %q", head.Format)
	}
}

func orderedObject(raw json.RawMessage) ([]string, []string, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, nil, errors.New("record is not an object")
	}
	var keys, values []string
	for dec.More() {
		kt, err := dec.Token()
		if err != nil {
			return nil, nil, err
		}
		var v string
		if err := dec.Decode(&v); err != nil {
			return nil, nil, err
		}
		keys = append(keys, kt.(string))
		values = append(values, v)
	}
	return keys, values, nil
}
