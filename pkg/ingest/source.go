package ingest

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/otherjamesbrown/dealbook/pkg/tabular"
)

// Source is one tokenized input block: a file, a workbook sheet or a
// pasted block.
type Source struct {
	Name string
	Rows []tabular.Row

	// Hash is the first 32 hex characters of the SHA-256 of the raw input.
	Hash string
}

func contentHash(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])[:32]
}

// LoadFile reads a workbook or delimited text file.
func LoadFile(path string) (Source, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Source{}, fmt.Errorf("reading %s: %w", path, err)
	}

	var rows []tabular.Row
	if tabular.IsWorkbook(path) {
		rows, err = tabular.ReadWorkbookFrom(bytes.NewReader(b))
	} else {
		rows, err = tabular.ReadDelimited(b, tabular.Options{})
	}
	if err != nil {
		return Source{}, fmt.Errorf("parsing %s: %w", filepath.Base(path), err)
	}
	return Source{Name: path, Rows: rows, Hash: contentHash(b)}, nil
}

// LoadPaste reads a tab-separated block copied out of a spreadsheet.
func LoadPaste(name string, r io.Reader) (Source, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return Source{}, fmt.Errorf("reading paste block: %w", err)
	}
	rows, err := tabular.ReadDelimited(b, tabular.Options{Delimiter: '\t'})
	if err != nil {
		return Source{}, err
	}
	return Source{Name: name, Rows: rows, Hash: contentHash(b)}, nil
}

// TextSource tokenizes literal delimited text, such as seed data kept
// alongside the code.
func TextSource(name, text string) Source {
	return Source{
		Name: name,
		Rows: tabular.Tokenize(text, tabular.Options{Delimiter: tabular.DetectDelimiter(text)}),
		Hash: contentHash([]byte(text)),
	}
}

// RowsSource wraps already-tokenized rows.
func RowsSource(name string, rows []tabular.Row) Source {
	var b strings.Builder
	for _, r := range rows {
		b.WriteString(strings.Join(r, "\t"))
		b.WriteByte('\n')
	}
	return Source{Name: name, Rows: rows, Hash: contentHash([]byte(b.String()))}
}
