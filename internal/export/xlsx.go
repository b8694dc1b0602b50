package export

import (
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/JakeFAU/placecrawler/internal/places"
)

// DefaultSheet names the worksheet holding exported rows.
const DefaultSheet = "Places"

var xlsxHeaders = []string{"Query", "Name", "Phone", "Address", "Website", "Opening Hours", "URL"}

// XLSXEncoder writes one worksheet row per business.
type XLSXEncoder struct {
	Sheet string
}

// Extension implements Encoder.
func (XLSXEncoder) Extension() string { return "xlsx" }

// ContentType implements Encoder.
func (XLSXEncoder) ContentType() string {
	return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
}

// Encode implements Encoder.
func (x XLSXEncoder) Encode(rows []Row) ([]byte, error) {
	sheet := x.Sheet
	if sheet == "" {
		sheet = DefaultSheet
	}

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, fmt.Errorf("name sheet: %w", err)
	}

	for i, h := range xlsxHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return nil, fmt.Errorf("write header: %w", err)
		}
	}
	if style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}}); err == nil {
		_ = f.SetCellStyle(sheet, "A1", "G1", style)
	}

	for r, row := range rows {
		values := []any{row.Query}
		for _, field := range places.Fields {
			values = append(values, row.Record.String(field))
		}
		cell, _ := excelize.CoordinatesToCellName(1, r+2)
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			return nil, fmt.Errorf("write row %d: %w", r+2, err)
		}
	}

	_ = f.SetColWidth(sheet, "A", "A", 24) // query
	_ = f.SetColWidth(sheet, "B", "B", 36) // name
	_ = f.SetColWidth(sheet, "C", "C", 16) // phone
	_ = f.SetColWidth(sheet, "D", "D", 56) // address
	_ = f.SetColWidth(sheet, "E", "E", 36) // website
	_ = f.SetColWidth(sheet, "F", "F", 40) // hours
	_ = f.SetColWidth(sheet, "G", "G", 60) // url

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	return buf.Bytes(), nil
}
