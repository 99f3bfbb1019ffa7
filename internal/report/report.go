package report

import (
	"bytes"
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	"kitchenops/backend/internal/domain"
)

const ContentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

var stockHeader = []interface{}{
	"product_id",
	"product_name",
	"measure",
	"quantity",
	"min_stock",
	"avg_cost",
	"stock_value",
	"below_min",
	"updated_at",
}

// StockWorkbook renders the stock rows of one unit as a single-sheet xlsx file.
// Products missing from the catalog map are written with an empty name.
func StockWorkbook(unit domain.Unit, stocks []domain.Stock, products map[string]domain.Product) ([]byte, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	sheet := "Stock"
	if err := f.SetSheetName(f.GetSheetName(f.GetActiveSheetIndex()), sheet); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}

	if err := f.SetSheetRow(sheet, "A1", &[]interface{}{"unit", unit.ID, unit.Name}); err != nil {
		return nil, fmt.Errorf("write title: %w", err)
	}
	if err := f.SetSheetRow(sheet, "A3", &stockHeader); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}

	row := 4
	for _, st := range stocks {
		product := products[st.ProductID]
		belowMin := st.MinStock.IsPositive() && st.Quantity.LessThanOrEqual(st.MinStock)
		values := []interface{}{
			st.ProductID,
			product.Name,
			product.Measure,
			st.Quantity.InexactFloat64(),
			st.MinStock.InexactFloat64(),
			st.AvgCost.InexactFloat64(),
			st.Quantity.Mul(st.AvgCost).Round(2).InexactFloat64(),
			belowMin,
			st.UpdatedAt.UTC().Format(time.RFC3339),
		}
		cell, err := excelize.CoordinatesToCellName(1, row)
		if err != nil {
			return nil, err
		}
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			return nil, fmt.Errorf("write row %d: %w", row, err)
		}
		row++
	}
	_ = f.SetColWidth(sheet, "A", "B", 24)

	buf := &bytes.Buffer{}
	if err := f.Write(buf); err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func StockFileName(unitID string, at time.Time) string {
	return fmt.Sprintf("stock_%s_%s.xlsx", unitID, at.UTC().Format("20060102_150405"))
}
