package workbook

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"eavetl/internal/eav"
	"eavetl/internal/etlerr"
)

// isCSV reports whether path names a CSV file.
func isCSV(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".csv")
}

var sheetNameReplacer = strings.NewReplacer(":", "_", "\\", "_", "/", "_", "?", "_", "*", "_", "[", "_", "]", "_")

// sheetNameForCSV derives the single sheet name from the file name, within
// the characters and length a sheet name allows.
func sheetNameForCSV(path string) string {
	name := sheetNameReplacer.Replace(strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)))
	name = strings.Trim(name, "'")
	if name == "" {
		name = "Sheet1"
	}
	if r := []rune(name); len(r) > excelize.MaxSheetNameLength {
		name = string(r[:excelize.MaxSheetNameLength])
	}
	return name
}

func openCSVFile(path string) (*Workbook, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, etlerr.Wrap(etlerr.SourceRead, eav.StageOpenWorkbook, "", fmt.Errorf("open %s: %w", path, err))
	}
	defer fh.Close()
	return OpenCSV(fh, path)
}

// OpenCSV reads a CSV stream as a workbook with one sheet named after name's
// base file name. Records may have differing lengths; fields are kept
// verbatim apart from a leading byte order mark.
func OpenCSV(r io.Reader, name string) (*Workbook, error) {
	fail := func(err error) (*Workbook, error) {
		return nil, etlerr.Wrap(etlerr.SourceRead, eav.StageOpenWorkbook, "", fmt.Errorf("%s: %w", name, err))
	}

	sheet := sheetNameForCSV(name)
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		_ = f.Close()
		return fail(err)
	}

	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	for line := 1; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			_ = f.Close()
			return fail(fmt.Errorf("line %d: %w", line, err))
		}
		if line == 1 && len(rec) > 0 {
			rec[0] = strings.TrimPrefix(rec[0], "\uFEFF")
		}

		row := make([]any, len(rec))
		for i, v := range rec {
			row[i] = v
		}
		cell, err := excelize.CoordinatesToCellName(1, line)
		if err != nil {
			_ = f.Close()
			return fail(err)
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			_ = f.Close()
			return fail(fmt.Errorf("line %d: %w", line, err))
		}
	}
	return &Workbook{f: f, path: name}, nil
}
