// Package csvdoc reads delimiter-separated value files with the quirks
// German building-industry exports show: semicolon delimiters, Windows-1252
// encoding and a UTF-8 byte order mark.
package csvdoc

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// Table holds the parsed records of a delimited file.
type Table struct {
	Records   [][]string
	Delimiter rune
}

// RowCount returns the number of records.
func (t *Table) RowCount() int { return len(t.Records) }

// ColCount returns the widest record length.
func (t *Table) ColCount() int {
	max := 0
	for _, rec := range t.Records {
		if len(rec) > max {
			max = len(rec)
		}
	}
	return max
}

// Cell returns the trimmed value at row and column, or "" when out of range.
func (t *Table) Cell(row, col int) string {
	if row < 0 || row >= len(t.Records) {
		return ""
	}
	rec := t.Records[row]
	if col < 0 || col >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[col])
}

// Parse reads a delimited table from raw bytes. The delimiter is sniffed
// from the content; the encoding falls back to Windows-1252 when the data
// is not valid UTF-8.
func Parse(data []byte) (*Table, error) {
	data = bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF})

	if !utf8.Valid(data) {
		decoded, err := charmap.Windows1252.NewDecoder().Bytes(data)
		if err != nil {
			return nil, fmt.Errorf("decoding legacy encoding: %w", err)
		}
		data = decoded
	}

	delim := sniffDelimiter(data)

	r := csv.NewReader(bytes.NewReader(data))
	r.Comma = delim
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true

	var records [][]string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading record: %w", err)
		}
		records = append(records, rec)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("no records found")
	}

	return &Table{Records: records, Delimiter: delim}, nil
}

// sniffDelimiter picks the separator that splits the first lines most
// consistently. Semicolon wins ties since German locales export with it.
func sniffDelimiter(data []byte) rune {
	candidates := []rune{';', ',', '\t', '|'}
	counts := make(map[rune]int)

	lines := 0
	inQuotes := false
	for _, b := range data {
		if lines >= 10 {
			break
		}
		switch b {
		case '"':
			inQuotes = !inQuotes
		case '\n':
			if !inQuotes {
				lines++
			}
		default:
			if inQuotes {
				continue
			}
			for _, c := range candidates {
				if rune(b) == c {
					counts[c]++
				}
			}
		}
	}

	best := ';'
	bestCount := counts[';']
	for _, c := range candidates[1:] {
		if counts[c] > bestCount {
			best = c
			bestCount = counts[c]
		}
	}
	return best
}
