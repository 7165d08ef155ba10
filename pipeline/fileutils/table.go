package fileutils

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"unicode/utf8"

	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// ErrEmptyTable is returned when a CSV file has no header row.
var ErrEmptyTable = errors.New("csv has no header row")

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Table is an in-memory CSV file. Every row has exactly len(Header) cells.
type Table struct {
	Header []string
	Rows   [][]string
}

func (t Table) Len() int { return len(t.Rows) }

// ColumnIndex returns the position of the first column called name, or -1.
func (t Table) ColumnIndex(name string) int {
	for i, h := range t.Header {
		if h == name {
			return i
		}
	}
	return -1
}

func (t Table) Has(name string) bool { return t.ColumnIndex(name) >= 0 }

// Value returns the cell of row i in column name, or "" when the column is absent.
func (t Table) Value(i int, name string) string {
	idx := t.ColumnIndex(name)
	if idx < 0 || i < 0 || i >= len(t.Rows) {
		return ""
	}
	return t.Rows[i][idx]
}

// Column returns a copy of every cell in column name. Absent columns yield empty strings.
func (t Table) Column(name string) []string {
	out := make([]string, len(t.Rows))
	idx := t.ColumnIndex(name)
	if idx < 0 {
		return out
	}
	for i, row := range t.Rows {
		out[i] = row[idx]
	}
	return out
}

// SetColumn overwrites column name with values, appending the column when it does not exist.
func (t *Table) SetColumn(name string, values []string) error {
	if len(values) != len(t.Rows) {
		return fmt.Errorf("SetColumn %q: %d values for %d rows", name, len(values), len(t.Rows))
	}
	idx := t.ColumnIndex(name)
	if idx < 0 {
		t.Header = append(t.Header, name)
		for i := range t.Rows {
			t.Rows[i] = append(t.Rows[i], values[i])
		}
		return nil
	}
	for i := range t.Rows {
		t.Rows[i][idx] = values[i]
	}
	return nil
}

// ConcatTables stacks tables in order. The result header is the union of all headers in
// first-seen order; cells for columns a table lacks are left empty.
func ConcatTables(tables ...Table) Table {
	var out Table
	pos := map[string]int{}
	for _, t := range tables {
		for _, h := range t.Header {
			if _, ok := pos[h]; ok {
				continue
			}
			pos[h] = len(out.Header)
			out.Header = append(out.Header, h)
		}
	}
	for _, t := range tables {
		mapping := make([]int, len(t.Header))
		for i, h := range t.Header {
			mapping[i] = pos[h]
		}
		for _, row := range t.Rows {
			merged := make([]string, len(out.Header))
			for i, cell := range row {
				merged[mapping[i]] = cell
			}
			out.Rows = append(out.Rows, merged)
		}
	}
	return out
}

// ReadTable loads a CSV file. UTF-8 (with or without BOM) is tried first; content that is not
// valid UTF-8 is decoded as GBK, which is what spreadsheet tools on zh-CN systems tend to save.
func ReadTable(path string) (Table, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Table{}, err
	}
	t, err := ParseTable(b)
	if err != nil {
		return Table{}, fmt.Errorf("ReadTable %s: %w", path, err)
	}
	return t, nil
}

// ParseTable decodes CSV bytes into a Table. Short rows are padded; rows wider than the
// header are rejected.
func ParseTable(b []byte) (Table, error) {
	text, err := decodeText(b)
	if err != nil {
		return Table{}, err
	}

	r := csv.NewReader(bytes.NewReader(text))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Table{}, ErrEmptyTable
		}
		return Table{}, fmt.Errorf("read header: %w", err)
	}
	t := Table{Header: append([]string(nil), header...)}
	for line := 2; ; line++ {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Table{}, fmt.Errorf("read record: %w", err)
		}
		if len(rec) > len(header) {
			return Table{}, fmt.Errorf("record %d has %d fields, header has %d", line, len(rec), len(header))
		}
		row := make([]string, len(header))
		copy(row, rec)
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

func decodeText(b []byte) ([]byte, error) {
	trimmed := bytes.TrimPrefix(b, utf8BOM)
	if utf8.Valid(trimmed) {
		return trimmed, nil
	}
	out, _, err := transform.Bytes(simplifiedchinese.GBK.NewDecoder(), b)
	if err != nil {
		return nil, fmt.Errorf("decode as gbk: %w", err)
	}
	return out, nil
}

// EncodeTable renders t as UTF-8 CSV with a leading byte order mark.
func EncodeTable(t Table) ([]byte, error) {
	var buf bytes.Buffer
	tw := transform.NewWriter(&buf, unicode.UTF8BOM.NewEncoder())
	w := csv.NewWriter(tw)
	if err := w.Write(t.Header); err != nil {
		return nil, err
	}
	if err := w.WriteAll(t.Rows); err != nil {
		return nil, err
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteTableAtomic encodes t and swaps it into path atomically.
func WriteTableAtomic(path string, t Table, mode fs.FileMode) error {
	b, err := EncodeTable(t)
	if err != nil {
		return fmt.Errorf("WriteTableAtomic %s: encode: %w", path, err)
	}
	if err := WriteFileAtomicSameDir(path, b, mode); err != nil {
		return fmt.Errorf("WriteTableAtomic %s: %w", path, err)
	}
	return nil
}
