package report

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

const maxSheetName = 31

// WriteXLSX saves doc as a workbook with one sheet per table.
func WriteXLSX(path string, doc *Document) error {
	f, err := Workbook(doc)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.SaveAs(path)
}

// Workbook builds the workbook for doc in memory.
func Workbook(doc *Document) (*excelize.File, error) {
	f := excelize.NewFile()
	first := true
	used := map[string]bool{}
	for _, t := range doc.Tables() {
		name := sheetName(t.Title, used)
		if first {
			if err := f.SetSheetName("Sheet1", name); err != nil {
				return nil, err
			}
			first = false
		} else if _, err := f.NewSheet(name); err != nil {
			return nil, err
		}
		if err := writeSheet(f, name, t); err != nil {
			return nil, fmt.Errorf("sheet %q: %w", name, err)
		}
	}
	return f, nil
}

func writeSheet(f *excelize.File, sheet string, t Table) error {
	for i, h := range t.Headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return err
		}
	}
	for r, row := range t.Rows {
		for c, v := range row {
			cell, _ := excelize.CoordinatesToCellName(c+1, r+2)
			if err := f.SetCellValue(sheet, cell, cellValue(v)); err != nil {
				return err
			}
		}
	}
	return nil
}

// cellValue turns formatted numbers back into numbers so the sheet can be
// computed on.
func cellValue(s string) interface{} {
	plain := strings.ReplaceAll(s, ",", "")
	if u, err := strconv.ParseUint(plain, 10, 64); err == nil {
		return u
	}
	if strings.HasSuffix(plain, "%") {
		if f, err := strconv.ParseFloat(strings.TrimSuffix(plain, "%"), 64); err == nil {
			return f / 100
		}
	}
	if f, err := strconv.ParseFloat(plain, 64); err == nil {
		return f
	}
	return s
}

func sheetName(title string, used map[string]bool) string {
	name := strings.Map(func(r rune) rune {
		if strings.ContainsRune(`:\/?*[]`, r) {
			return '-'
		}
		return r
	}, title)
	if len(name) > maxSheetName {
		name = name[:maxSheetName]
	}
	base := name
	for i := 2; used[name]; i++ {
		suffix := fmt.Sprintf(" %d", i)
		if len(base)+len(suffix) > maxSheetName {
			base = base[:maxSheetName-len(suffix)]
		}
		name = base + suffix
	}
	used[name] = true
	return name
}
