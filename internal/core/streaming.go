package core

// streaming.go prepares uploaded files for line reading.
//
// Files exported from spreadsheet tools on Windows often start with a UTF-8
// BOM and may contain bytes from legacy code pages. The decoder chain strips
// the BOM and replaces invalid sequences with U+FFFD so every line handed to
// the parser is valid UTF-8.

import (
	"bufio"
	"errors"
	"io"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// CountingReader wraps an io.Reader to track bytes read for progress reporting.
type CountingReader struct {
	reader    io.Reader
	BytesRead int64
	Total     int64 // 0 if unknown
}

// NewCountingReader creates a counting reader with optional total size.
func NewCountingReader(r io.Reader, total int64) *CountingReader {
	return &CountingReader{reader: r, Total: total}
}

// Read implements io.Reader.
func (r *CountingReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	r.BytesRead += int64(n)
	return n, err
}

// Progress returns the read progress as a percentage (0-100).
func (r *CountingReader) Progress() int {
	if r.Total <= 0 {
		return 0
	}
	return int(r.BytesRead * 100 / r.Total)
}

// NewUTF8Reader strips a leading BOM and repairs invalid UTF-8.
func NewUTF8Reader(r io.Reader) io.Reader {
	dec := unicode.BOMOverride(unicode.UTF8.NewDecoder())
	return transform.NewReader(r, dec)
}

// WrapForImport applies byte counting on the raw stream and then decoding.
// Counting sits underneath so progress reflects the uploaded size.
func WrapForImport(r io.Reader, totalSize int64) (io.Reader, *CountingReader) {
	counter := NewCountingReader(r, totalSize)
	return NewUTF8Reader(counter), counter
}

// ReadLines reads every line of r. Trailing carriage returns are removed.
// Lines have no length limit; the upload size bounds the whole file.
func ReadLines(r io.Reader) ([]string, error) {
	br := bufio.NewReaderSize(r, 64*1024)

	var lines []string
	for {
		line, err := br.ReadString('\n')
		if line != "" {
			lines = append(lines, strings.TrimRight(strings.TrimSuffix(line, "\n"), "\r"))
		}
		if errors.Is(err, io.EOF) {
			return lines, nil
		}
		if err != nil {
			return nil, err
		}
	}
}
