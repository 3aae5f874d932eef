package export

import (
	"bytes"
	"fmt"

	"github.com/xuri/excelize/v2"
)

// XLSXExporter renders a dataset into an Excel workbook. The main table
// becomes the first worksheet; nested sheets become additional worksheets.
type XLSXExporter struct{}

// NewXLSXExporter constructs an XLSX exporter.
func NewXLSXExporter() *XLSXExporter {
	return &XLSXExporter{}
}

// Render produces XLSX encoded bytes for the dataset.
func (e *XLSXExporter) Render(data Dataset) ([]byte, error) {
	if len(data.Headers) == 0 {
		return nil, fmt.Errorf("xlsx requires at least one header")
	}
	f := excelize.NewFile()
	defer f.Close()

	main := data.Title
	if main == "" {
		main = "Sheet1"
	}
	main = sheetName(main)
	f.SetSheetName("Sheet1", main)
	if err := writeSheet(f, main, data.Headers, data.Rows); err != nil {
		return nil, err
	}

	for _, sheet := range data.Sheets {
		name := sheetName(sheet.Title)
		if _, err := f.NewSheet(name); err != nil {
			return nil, fmt.Errorf("create sheet %s: %w", name, err)
		}
		if err := writeSheet(f, name, sheet.Headers, sheet.Rows); err != nil {
			return nil, err
		}
	}

	buf := &bytes.Buffer{}
	if err := f.Write(buf); err != nil {
		return nil, fmt.Errorf("render xlsx: %w", err)
	}
	return buf.Bytes(), nil
}

func writeSheet(f *excelize.File, name string, headers []string, rows []map[string]string) error {
	for col, header := range headers {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return fmt.Errorf("address header cell: %w", err)
		}
		if err := f.SetCellValue(name, cell, header); err != nil {
			return fmt.Errorf("write header %s: %w", header, err)
		}
	}
	for i, row := range rows {
		for col, header := range headers {
			cell, err := excelize.CoordinatesToCellName(col+1, i+2)
			if err != nil {
				return fmt.Errorf("address data cell: %w", err)
			}
			if err := f.SetCellValue(name, cell, row[header]); err != nil {
				return fmt.Errorf("write row %d: %w", i, err)
			}
		}
	}
	return nil
}

// sheetName trims a title to Excel's 31 character worksheet name limit.
func sheetName(title string) string {
	if len(title) > 31 {
		return title[:31]
	}
	return title
}
