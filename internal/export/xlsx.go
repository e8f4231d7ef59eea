package export

import (
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/width"

	"github.com/joelkehle/casegen/internal/recovery"
	"github.com/joelkehle/casegen/internal/schema"
)

const (
	maxColumnWidth = 50
	lineHeight     = 15
	warningSheet   = "警告"
)

// XLSX writes a workbook with one row per record. Cells wrap; a column is
// as wide as its widest first line plus padding, capped, and a row is tall
// enough for its longest sequence field.
func XLSX(c recovery.Collection) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	sheet := label(c.Schema.Title, c.Schema.Name)
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, fmt.Errorf("xlsx sheet: %w", err)
	}
	wrap, err := f.NewStyle(&excelize.Style{
		Alignment: &excelize.Alignment{WrapText: true, Vertical: "top"},
	})
	if err != nil {
		return nil, fmt.Errorf("xlsx style: %w", err)
	}
	head, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true},
		Fill:      excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#DDEBF7"}},
		Alignment: &excelize.Alignment{WrapText: true, Vertical: "top"},
	})
	if err != nil {
		return nil, fmt.Errorf("xlsx style: %w", err)
	}

	rows := Rows(c)
	cols := c.Schema.Columns(c.Records)
	for r, row := range rows {
		for col, v := range row {
			cell, err := excelize.CoordinatesToCellName(col+1, r+1)
			if err != nil {
				return nil, err
			}
			if err := f.SetCellValue(sheet, cell, v); err != nil {
				return nil, fmt.Errorf("xlsx cell %s: %w", cell, err)
			}
		}
	}

	last, err := excelize.ColumnNumberToName(len(cols))
	if err != nil {
		return nil, err
	}
	if err := f.SetCellStyle(sheet, "A1", last+"1", head); err != nil {
		return nil, err
	}
	if len(rows) > 1 {
		if err := f.SetCellStyle(sheet, "A2", fmt.Sprintf("%s%d", last, len(rows)), wrap); err != nil {
			return nil, err
		}
	}

	for i := range cols {
		name, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return nil, err
		}
		if err := f.SetColWidth(sheet, name, name, columnWidth(rows, i)); err != nil {
			return nil, err
		}
	}
	for i, rec := range c.Records {
		if err := f.SetRowHeight(sheet, i+2, rowHeight(cols, rec)); err != nil {
			return nil, err
		}
	}

	if len(c.Warnings) > 0 {
		if _, err := f.NewSheet(warningSheet); err != nil {
			return nil, fmt.Errorf("xlsx warnings: %w", err)
		}
		for i, w := range c.Warnings {
			if err := f.SetCellValue(warningSheet, fmt.Sprintf("A%d", i+1), w.Message); err != nil {
				return nil, err
			}
		}
		if err := f.SetColWidth(warningSheet, "A", "A", 100); err != nil {
			return nil, err
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	return buf.Bytes(), nil
}

// columnWidth is the widest first line in column col, in display cells,
// plus two, capped at maxColumnWidth.
func columnWidth(rows [][]string, col int) float64 {
	widest := 0
	for _, row := range rows {
		first, _, _ := strings.Cut(row[col], "\n")
		if w := displayWidth(first); w > widest {
			widest = w
		}
	}
	return float64(min(widest+2, maxColumnWidth))
}

// rowHeight gives every line of the longest sequence field its own line.
func rowHeight(cols []schema.Field, rec schema.Record) float64 {
	lines := 1
	for _, f := range cols {
		if f.Kind != schema.Sequence {
			continue
		}
		if n := strings.Count(rec[f.Name], "\n") + 1; n > lines {
			lines = n
		}
	}
	return float64(lines * lineHeight)
}

// displayWidth counts wide and full-width runes as two cells.
func displayWidth(s string) int {
	n := 0
	for _, r := range s {
		switch width.LookupRune(r).Kind() {
		case width.EastAsianWide, width.EastAsianFullwidth:
			n += 2
		default:
			n++
		}
	}
	return n
}
