package sheet

import (
	"errors"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/xuri/excelize/v2"

	"catalog_project/internal/models"
)

const sheetName = "Catalog"

// Export writes the records as an .xlsx workbook: one header row with the
// field labels followed by one row per record.
func Export(w io.Writer, schema models.Schema, records []models.Record) error {
	f := excelize.NewFile()
	defer func() {
		if err := f.Close(); err != nil {
			log.Printf("Error closing excel file: %v", err)
		}
	}()

	if err := f.SetSheetName(f.GetSheetName(0), sheetName); err != nil {
		return fmt.Errorf("failed to rename sheet: %w", err)
	}

	header := []any{"ID"}
	for _, field := range schema.Fields {
		header = append(header, field.Label)
	}
	header = append(header, "Uploaded")

	if err := f.SetSheetRow(sheetName, "A1", &header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for i, rec := range records {
		row := []any{rec.ID}
		for _, field := range schema.Fields {
			row = append(row, rec.Get(field.Key))
		}
		uploaded := ""
		if !rec.UploadedAt.IsZero() {
			uploaded = rec.UploadedAt.Format("02/01/2006")
		}
		row = append(row, uploaded)

		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheetName, cell, &row); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i+2, err)
		}
	}

	if err := f.SetPanes(sheetName, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		return fmt.Errorf("failed to freeze header: %w", err)
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

// Result of an import: valid rows and how many were skipped.
type Result struct {
	Inputs  []models.Input
	Skipped int
}

// Import reads the first sheet. Header cells are matched to schema fields by
// key or label, case-insensitively; unknown columns are ignored. Rows that
// fail validation are skipped.
func Import(r io.Reader, schema models.Schema) (Result, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return Result{}, fmt.Errorf("failed to open excel file: %w", err)
	}
	defer func() {
		if err := f.Close(); err != nil {
			log.Printf("Error closing excel file: %v", err)
		}
	}()

	name := f.GetSheetName(0)
	if name == "" {
		return Result{}, errors.New("excel file does not contain any sheets")
	}

	rows, err := f.GetRows(name)
	if err != nil {
		return Result{}, fmt.Errorf("failed to get rows from sheet %s: %w", name, err)
	}
	if len(rows) == 0 {
		return Result{}, errors.New("sheet is empty")
	}

	columns := make(map[int]string)
	for i, cell := range rows[0] {
		if key, ok := matchField(schema, cell); ok {
			columns[i] = key
		}
	}
	if len(columns) == 0 {
		return Result{}, errors.New("header row does not name any known field")
	}

	var res Result
	for i, row := range rows[1:] {
		if isBlank(row) {
			continue
		}

		values := make(map[string]string, len(columns))
		for col, key := range columns {
			if col < len(row) {
				values[key] = strings.TrimSpace(row[col])
			}
		}

		if err := schema.Validate(values); err != nil {
			log.Printf("Skipping row %d: %v", i+2, err)
			res.Skipped++
			continue
		}
		res.Inputs = append(res.Inputs, models.Input{Values: schema.Pick(values)})
	}
	return res, nil
}

func matchField(schema models.Schema, header string) (string, bool) {
	header = strings.TrimSpace(header)
	for _, f := range schema.Fields {
		if strings.EqualFold(header, f.Key) || strings.EqualFold(header, f.Label) {
			return f.Key, true
		}
	}
	return "", false
}

func isBlank(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
