package ingestion

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
	"github.com/zeebo/xxh3"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// rowSource yields data rows after the header. Next returns io.EOF once the
// file is exhausted. Row numbers are physical, 1-based, header included.
type rowSource interface {
	Header() []string
	Next() ([]string, int, error)
	Close() error
}

func openSource(fileName string, r io.Reader) (rowSource, error) {
	ext := strings.ToLower(filepath.Ext(fileName))
	switch ext {
	case ".csv":
		return newCSVSource(r)
	case ".xlsx":
		return newXLSXSource(r)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
}

type csvSource struct {
	reader *csv.Reader
	header []string
}

func newCSVSource(r io.Reader) (*csvSource, error) {
	// BOMOverride switches to UTF-16 when the file starts with a UTF-16 BOM
	// and strips a UTF-8 BOM; everything else is read as UTF-8.
	decoded := transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder()))
	reader := csv.NewReader(decoded)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return nil, ErrNoHeader
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read csv header: %w", err)
		}
		if isBlank(record) {
			continue
		}
		return &csvSource{reader: reader, header: record}, nil
	}
}

func (s *csvSource) Header() []string { return s.header }

func (s *csvSource) Next() ([]string, int, error) {
	record, err := s.reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, 0, io.EOF
	}
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read csv: %w", err)
	}
	line, _ := s.reader.FieldPos(0)
	return record, line, nil
}

func (s *csvSource) Close() error { return nil }

type xlsxSource struct {
	file   *excelize.File
	rows   *excelize.Rows
	header []string
	line   int
}

func newXLSXSource(r io.Reader) (*xlsxSource, error) {
	file, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open excel file: %w", err)
	}
	sheets := file.GetSheetList()
	if len(sheets) == 0 {
		_ = file.Close()
		return nil, fmt.Errorf("excel file does not contain any sheets")
	}
	rows, err := file.Rows(sheets[0])
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to read excel rows: %w", err)
	}

	src := &xlsxSource{file: file, rows: rows}
	for {
		row, _, err := src.Next()
		if errors.Is(err, io.EOF) {
			_ = src.Close()
			return nil, ErrNoHeader
		}
		if err != nil {
			_ = src.Close()
			return nil, err
		}
		if isBlank(row) {
			continue
		}
		src.header = row
		return src, nil
	}
}

func (s *xlsxSource) Header() []string { return s.header }

func (s *xlsxSource) Next() ([]string, int, error) {
	if !s.rows.Next() {
		if err := s.rows.Error(); err != nil {
			return nil, 0, fmt.Errorf("failed to read excel rows: %w", err)
		}
		return nil, 0, io.EOF
	}
	s.line++
	cols, err := s.rows.Columns()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read excel row %d: %w", s.line, err)
	}
	return cols, s.line, nil
}

func (s *xlsxSource) Close() error {
	rowsErr := s.rows.Close()
	if err := s.file.Close(); err != nil {
		return err
	}
	return rowsErr
}

func isBlank(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

// sizeLimitReader fails with ErrFileTooLarge once more than limit bytes
// have been read.
type sizeLimitReader struct {
	r         io.Reader
	remaining int64
}

func limitSize(r io.Reader, limit int64) io.Reader {
	if limit <= 0 {
		return r
	}
	return &sizeLimitReader{r: r, remaining: limit}
}

func (l *sizeLimitReader) Read(p []byte) (int, error) {
	if l.remaining < 0 {
		return 0, ErrFileTooLarge
	}
	if int64(len(p))-1 > l.remaining {
		p = p[:l.remaining+1]
	}
	n, err := l.r.Read(p)
	if int64(n) <= l.remaining {
		l.remaining -= int64(n)
		return n, err
	}
	n = int(l.remaining)
	l.remaining = -1
	return n, ErrFileTooLarge
}

// fingerprintReader hashes every byte read through it.
type fingerprintReader struct {
	io.Reader
	hasher *xxh3.Hasher
}

func newFingerprintReader(r io.Reader) *fingerprintReader {
	hasher := xxh3.New()
	return &fingerprintReader{Reader: io.TeeReader(r, hasher), hasher: hasher}
}

// drain consumes what the parser left unread so the fingerprint covers the
// whole upload.
func (f *fingerprintReader) drain() error {
	_, err := io.Copy(io.Discard, f.Reader)
	return err
}

func (f *fingerprintReader) Sum() string {
	return fmt.Sprintf("%016x", f.hasher.Sum64())
}

// countRows counts non-blank data rows, stopping one past limit.
func countRows(fileName string, r io.Reader, limit int) (int, error) {
	src, err := openSource(fileName, r)
	if err != nil {
		return 0, err
	}
	defer src.Close()

	count := 0
	for {
		row, _, err := src.Next()
		if errors.Is(err, io.EOF) {
			return count, nil
		}
		if err != nil {
			return count, err
		}
		if isBlank(row) {
			continue
		}
		count++
		if limit > 0 && count > limit {
			return count, ErrRowLimitExceeded
		}
	}
}
