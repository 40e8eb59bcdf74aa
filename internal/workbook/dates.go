package workbook

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
)

// Text forms of date and time cells. A serial below 1 has no date part.
const (
	DateLayout = "2006-01-02 15:04:05"
	TimeLayout = "15:04:05"
)

// dateCells renders numeric cells that carry a date or time number format.
// Raw values are serial numbers; other numbers are left alone.
type dateCells struct {
	f        *excelize.File
	sheet    string
	date1904 bool
	byStyle  map[int]bool
}

func newDateCells(f *excelize.File, sheet string) *dateCells {
	d := &dateCells{f: f, sheet: sheet, byStyle: make(map[int]bool)}
	if props, err := f.GetWorkbookProps(); err == nil && props.Date1904 != nil {
		d.date1904 = *props.Date1904
	}
	return d
}

// renderRow rewrites the date cells of one row in place. row is 1-based.
func (d *dateCells) renderRow(cols []string, row int) {
	for i, v := range cols {
		if v != "" {
			cols[i] = d.render(i+1, row, v)
		}
	}
}

// render returns the text for the cell at (col, row), both 1-based.
func (d *dateCells) render(col, row int, raw string) string {
	serial, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(serial) || math.IsInf(serial, 0) {
		return raw
	}
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return raw
	}
	styleID, err := d.f.GetCellStyle(d.sheet, cell)
	if err != nil || !d.isDateStyle(styleID) {
		return raw
	}
	t, err := excelize.ExcelDateToTime(serial, d.date1904)
	if err != nil {
		return raw
	}
	if serial < 1 {
		return t.Round(time.Second).Format(TimeLayout)
	}
	return t.Round(time.Second).Format(DateLayout)
}

func (d *dateCells) isDateStyle(id int) bool {
	if id == 0 {
		return false
	}
	if v, ok := d.byStyle[id]; ok {
		return v
	}
	v := false
	if style, err := d.f.GetStyle(id); err == nil {
		if style.CustomNumFmt != nil {
			v = isDateFormat(*style.CustomNumFmt)
		} else {
			v = isBuiltinDateFormat(style.NumFmt)
		}
	}
	d.byStyle[id] = v
	return v
}

// isBuiltinDateFormat reports whether a built-in number format id is a date
// or time format, including the CJK locale ids.
func isBuiltinDateFormat(id int) bool {
	switch {
	case id >= 14 && id <= 22,
		id >= 27 && id <= 36,
		id >= 45 && id <= 47,
		id >= 50 && id <= 58,
		id >= 71 && id <= 81:
		return true
	}
	return false
}

// isDateFormat reports whether a custom format code has a date or time token
// outside quoted literals, escapes and bracketed sections.
func isDateFormat(code string) bool {
	code = strings.ToLower(code)
	if section, _, found := strings.Cut(code, ";"); found {
		code = section
	}
	for i := 0; i < len(code); i++ {
		switch c := code[i]; c {
		case '"':
			if end := strings.IndexByte(code[i+1:], '"'); end >= 0 {
				i += end + 1
			} else {
				return false
			}
		case '\\', '_', '*':
			i++
		case '[':
			if end := strings.IndexByte(code[i+1:], ']'); end >= 0 {
				i += end + 1
			} else {
				return false
			}
		case 'y', 'm', 'd', 'h', 's':
			return true
		}
	}
	return false
}
