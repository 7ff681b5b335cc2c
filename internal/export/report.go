// Package export renders an import job's error list as a downloadable CSV
// report.
package export

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/rpattn/bulkimport/internal/domain"
)

// ContentType of the report.
const ContentType = "text/csv; charset=utf-8"

var fixedColumns = []string{"row", "message"}

// WriteErrorReport writes one CSV line per error: the row number, the
// message, then the raw cell values under the union of their column names.
// It returns the number of bytes written.
func WriteErrorReport(w io.Writer, job domain.ImportJob) (int64, error) {
	counter := &countingWriter{writer: bufio.NewWriter(w)}
	writer := csv.NewWriter(counter)

	dataColumns := collectDataColumns(job.Errors)
	header := append(append([]string(nil), fixedColumns...), dataColumns...)
	if err := writer.Write(header); err != nil {
		return counter.count, fmt.Errorf("failed to write report header: %w", err)
	}

	record := make([]string, len(header))
	for _, rowErr := range job.Errors {
		record[0] = strconv.Itoa(rowErr.Row)
		record[1] = rowErr.Message
		for i, column := range dataColumns {
			record[len(fixedColumns)+i] = rowErr.Data[column]
		}
		if err := writer.Write(record); err != nil {
			return counter.count, fmt.Errorf("failed to write report row %d: %w", rowErr.Row, err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return counter.count, fmt.Errorf("failed to flush report: %w", err)
	}
	if err := counter.writer.Flush(); err != nil {
		return counter.count, fmt.Errorf("failed to flush report: %w", err)
	}
	return counter.count, nil
}

// ReportFileName names the report after the uploaded file and the job.
func ReportFileName(job domain.ImportJob) string {
	stem := strings.TrimSuffix(filepath.Base(job.FileName), filepath.Ext(job.FileName))
	stem = sanitizeFileComponent(stem)
	if stem == "" {
		stem = string(job.Kind)
	}
	return fmt.Sprintf("%s-%s-errors.csv", stem, job.ID.String()[:8])
}

func collectDataColumns(errs []domain.RowError) []string {
	seen := make(map[string]struct{})
	var columns []string
	for _, rowErr := range errs {
		for key := range rowErr.Data {
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			columns = append(columns, key)
		}
	}
	sort.Strings(columns)
	return columns
}

func sanitizeFileComponent(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return ""
	}
	builder := strings.Builder{}
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z':
			builder.WriteRune(r)
		case r >= '0' && r <= '9':
			builder.WriteRune(r)
		case r == '-' || r == '_':
			builder.WriteRune(r)
		default:
			builder.WriteRune('-')
		}
	}
	result := strings.Trim(builder.String(), "-")
	if result == "" {
		return "import"
	}
	return result
}

type countingWriter struct {
	writer *bufio.Writer
	count  int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.writer.Write(p)
	c.count += int64(n)
	return n, err
}
