// Package export writes extracted tables to spreadsheet files.
package export

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/brunobiangulo/docqa/store"
)

// WriteXLSX writes one worksheet per table, named "Page N Table M". An
// empty table list yields a workbook with a single note sheet.
func WriteXLSX(w io.Writer, tables []store.Table) error {
	f := excelize.NewFile()
	defer f.Close()

	header, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#DDEBF7"}},
	})
	if err != nil {
		return fmt.Errorf("creating header style: %w", err)
	}

	const defaultSheet = "Sheet1"
	if len(tables) == 0 {
		if err := f.SetCellValue(defaultSheet, "A1", "No tables were extracted from this document."); err != nil {
			return err
		}
		return writeFile(f, w)
	}

	perPage := make(map[int]int)
	for i, t := range tables {
		perPage[t.PageNumber]++
		name := fmt.Sprintf("Page %d Table %d", t.PageNumber, perPage[t.PageNumber])
		if i == 0 {
			if err := f.SetSheetName(defaultSheet, name); err != nil {
				return err
			}
		} else if _, err := f.NewSheet(name); err != nil {
			return fmt.Errorf("creating sheet %q: %w", name, err)
		}
		if err := writeTable(f, name, t, header); err != nil {
			return fmt.Errorf("writing sheet %q: %w", name, err)
		}
	}
	f.SetActiveSheet(0)
	return writeFile(f, w)
}

func writeTable(f *excelize.File, sheet string, t store.Table, headerStyle int) error {
	if err := f.SetSheetRow(sheet, "A1", &t.Headers); err != nil {
		return err
	}
	if len(t.Headers) > 0 {
		last, err := excelize.CoordinatesToCellName(len(t.Headers), 1)
		if err != nil {
			return err
		}
		if err := f.SetCellStyle(sheet, "A1", last, headerStyle); err != nil {
			return err
		}
	}
	for i, row := range t.Rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return err
		}
	}
	return nil
}

func writeFile(f *excelize.File, w io.Writer) error {
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("writing workbook: %w", err)
	}
	return nil
}
