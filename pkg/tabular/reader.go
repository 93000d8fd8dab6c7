package tabular

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// DecodeText converts raw file bytes to a string, stripping a UTF-8 byte
// order mark and decoding UTF-16 input that carries one.
func DecodeText(b []byte) (string, error) {
	decoder := unicode.BOMOverride(unicode.UTF8.NewDecoder())
	out, _, err := transform.Bytes(decoder, b)
	if err != nil {
		return "", fmt.Errorf("decoding text: %w", err)
	}
	return string(out), nil
}

// ReadDelimitedFile reads and tokenizes a delimited text file. A zero
// delimiter in opts is detected from the content.
func ReadDelimitedFile(path string, opts Options) ([]Row, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return ReadDelimited(b, opts)
}

// ReadDelimited tokenizes delimited text held in memory.
func ReadDelimited(b []byte, opts Options) ([]Row, error) {
	text, err := DecodeText(b)
	if err != nil {
		return nil, err
	}
	if opts.Delimiter == 0 {
		opts.Delimiter = DetectDelimiter(text)
	}
	return Tokenize(text, opts), nil
}

// ReadWorkbook returns the rows of the first sheet of an .xlsx workbook.
func ReadWorkbook(path string) ([]Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening workbook %s: %w", path, err)
	}
	defer f.Close()
	return ReadWorkbookFrom(f)
}

// ReadWorkbookFrom reads the first sheet of a workbook from r.
func ReadWorkbookFrom(r io.Reader) ([]Row, error) {
	wb, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("opening workbook: %w", err)
	}
	defer wb.Close()

	sheet := wb.GetSheetName(0)
	cells, err := wb.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("reading sheet %q: %w", sheet, err)
	}

	rows := make([]Row, len(cells))
	for i, c := range cells {
		rows[i] = Row(c)
	}
	return rows, nil
}

// IsWorkbook reports whether path names a workbook rather than delimited text.
func IsWorkbook(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		return true
	default:
		return false
	}
}
