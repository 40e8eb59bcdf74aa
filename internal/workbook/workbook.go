// Package workbook reads spreadsheet workbooks into eav.Sheet values.
//
// The first row of every sheet is its header row. Header cells are normalized
// the way dataframe readers do it: a blank header becomes "Unnamed: <i>" and
// a repeated header gets a ".1", ".2", ... suffix. Data rows are padded to the
// sheet width, empty cells become NULL and fully blank rows are dropped.
// Numbers are read unformatted; cells with a date or time number format are
// rendered as "2006-01-02 15:04:05" (or "15:04:05" for a bare time).
package workbook

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"eavetl/internal/eav"
	"eavetl/internal/etlerr"
)

// Workbook is an open workbook. It implements eav.WorkbookSource.
type Workbook struct {
	f    *excelize.File
	path string
}

// Open opens the workbook at path. Paths of the form s3://bucket/key are
// downloaded first; anything else is a local file. A ".csv" path is read as
// a workbook with a single sheet.
//
// Errors:
//   - etlerr.SourceRead if the file is missing, unreadable or not a workbook.
func Open(ctx context.Context, path string) (*Workbook, error) {
	if bucket, key, ok := parseS3Path(path); ok {
		body, err := fetchS3(ctx, bucket, key)
		if err != nil {
			return nil, etlerr.Wrap(etlerr.SourceRead, eav.StageOpenWorkbook, "", fmt.Errorf("fetch %s: %w", path, err))
		}
		if isCSV(key) {
			return OpenCSV(bytes.NewReader(body), path)
		}
		return OpenReader(bytes.NewReader(body), path)
	}
	if isCSV(path) {
		return openCSVFile(path)
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, etlerr.Wrap(etlerr.SourceRead, eav.StageOpenWorkbook, "", fmt.Errorf("open %s: %w", path, err))
	}
	return &Workbook{f: f, path: path}, nil
}

// OpenReader opens a workbook from r. name is only used in error messages.
func OpenReader(r io.Reader, name string) (*Workbook, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, etlerr.Wrap(etlerr.SourceRead, eav.StageOpenWorkbook, "", fmt.Errorf("open %s: %w", name, err))
	}
	return &Workbook{f: f, path: name}, nil
}

// Opener adapts Open to eav.OpenWorkbookFunc.
func Opener(ctx context.Context, path string) (eav.WorkbookSource, error) {
	wb, err := Open(ctx, path)
	if err != nil {
		return nil, err
	}
	return wb, nil
}

// SheetNames returns the sheet names in workbook order.
func (w *Workbook) SheetNames() []string { return w.f.GetSheetList() }

func (w *Workbook) Close() error { return w.f.Close() }

// ReadSheet reads one sheet in full.
//
// Errors:
//   - etlerr.SourceRead if the sheet does not exist or its XML is malformed.
func (w *Workbook) ReadSheet(name string) (eav.Sheet, error) {
	fail := func(err error) (eav.Sheet, error) {
		return eav.Sheet{}, etlerr.Wrap(etlerr.SourceRead, eav.StageReadSheet, name, fmt.Errorf("%s: %w", w.path, err))
	}

	rows, err := w.f.Rows(name)
	if err != nil {
		return fail(err)
	}
	defer func() { _ = rows.Close() }()

	var (
		header []string
		raw    [][]string
		rowNum []int
		first  = true
		width  int
		n      int
	)
	for rows.Next() {
		n++
		cols, err := rows.Columns(excelize.Options{RawCellValue: true})
		if err != nil {
			return fail(err)
		}
		if first {
			header, first = cols, false
			width = len(cols)
			rowNum = append(rowNum, n)
			continue
		}
		if isBlank(cols) {
			continue
		}
		if len(cols) > width {
			width = len(cols)
		}
		raw = append(raw, cols)
		rowNum = append(rowNum, n)
	}
	if err := rows.Error(); err != nil {
		return fail(err)
	}

	dates := newDateCells(w.f, name)
	if !first {
		dates.renderRow(header, rowNum[0])
	}
	for i, cols := range raw {
		dates.renderRow(cols, rowNum[i+1])
	}

	sheet := eav.Sheet{Name: name, Headers: normalizeHeaders(header, width)}
	if len(raw) > 0 {
		sheet.Rows = make([][]eav.Cell, len(raw))
	}
	for i, cols := range raw {
		sheet.Rows[i] = toCells(cols, width)
	}
	return sheet, nil
}

func isBlank(cols []string) bool {
	for _, c := range cols {
		if c != "" {
			return false
		}
	}
	return true
}

// toCells pads cols to width. Empty strings become NULL.
func toCells(cols []string, width int) []eav.Cell {
	out := make([]eav.Cell, width)
	for i := range out {
		if i < len(cols) && cols[i] != "" {
			out[i] = eav.Text(cols[i])
		} else {
			out[i] = eav.Null()
		}
	}
	return out
}

// normalizeHeaders returns width header names built from raw.
func normalizeHeaders(raw []string, width int) []string {
	out := make([]string, width)
	seen := make(map[string]int, width)
	for i := range out {
		h := ""
		if i < len(raw) {
			h = raw[i]
		}
		if h == "" {
			h = fmt.Sprintf("Unnamed: %d", i)
		}

		name := h
		if n, dup := seen[h]; dup {
			for {
				n++
				name = fmt.Sprintf("%s.%d", h, n)
				if _, taken := seen[name]; !taken {
					break
				}
			}
			seen[h] = n
		}
		seen[name] = 0
		out[i] = name
	}
	return out
}

// parseS3Path splits s3://bucket/key. Both parts must be non-empty.
func parseS3Path(path string) (bucket, key string, ok bool) {
	rest, found := strings.CutPrefix(path, "s3://")
	if !found {
		return "", "", false
	}
	bucket, key, found = strings.Cut(rest, "/")
	if !found || bucket == "" || key == "" {
		return "", "", false
	}
	return bucket, key, true
}

var _ eav.WorkbookSource = (*Workbook)(nil)
