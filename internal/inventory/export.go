package inventory

import (
	"context"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

const (
	lotsSheet    = "Lots"
	summarySheet = "Summary"
)

var (
	lotHeadings     = []string{"Lot ID", "Warehouse ID", "Product ID", "Lot Number", "Received", "Remaining", "Unit Cost", "Received At", "Expiry Date", "Status"}
	summaryHeadings = []string{"Warehouse ID", "Product ID", "Lots", "Received", "Remaining", "Stock Value"}
)

// ExportLots writes an xlsx workbook with the product's lots and a per-warehouse summary.
func (s *Service) ExportLots(ctx context.Context, filter LotFilter, w io.Writer) error {
	lots, err := s.ListProductLots(ctx, filter)
	if err != nil {
		return err
	}
	summary, err := s.StockSummary(ctx, filter)
	if err != nil {
		return err
	}
	f, err := BuildLotWorkbook(lots, summary)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Write(w)
}

// BuildLotWorkbook renders lots and summary rows into a new workbook.
func BuildLotWorkbook(lots []Lot, summary []StockSummaryRow) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", lotsSheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(summarySheet); err != nil {
		return nil, err
	}

	if err := writeRow(f, lotsSheet, 1, toCells(lotHeadings)); err != nil {
		return nil, err
	}
	for i, lot := range lots {
		expiry := ""
		if lot.ExpiryDate != nil {
			expiry = lot.ExpiryDate.Format("2006-01-02")
		}
		row := []any{
			lot.ID, lot.WarehouseID, lot.ProductID, lot.LotNumber,
			lot.QtyReceived.InexactFloat64(), lot.QtyRemaining.InexactFloat64(), lot.UnitCost.InexactFloat64(),
			lot.ReceivedAt.Format("2006-01-02"), expiry, string(lot.Status),
		}
		if err := writeRow(f, lotsSheet, i+2, row); err != nil {
			return nil, err
		}
	}

	if err := writeRow(f, summarySheet, 1, toCells(summaryHeadings)); err != nil {
		return nil, err
	}
	for i, r := range summary {
		row := []any{
			r.WarehouseID, r.ProductID, r.LotCount,
			r.QtyReceived.InexactFloat64(), r.QtyRemaining.InexactFloat64(), r.StockValue.InexactFloat64(),
		}
		if err := writeRow(f, summarySheet, i+2, row); err != nil {
			return nil, err
		}
	}
	return f, nil
}

func writeRow(f *excelize.File, sheet string, rowNo int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, rowNo)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("inventory: export row %d: %w", rowNo, err)
	}
	return nil
}

func toCells(headings []string) []any {
	out := make([]any, len(headings))
	for i, h := range headings {
		out[i] = h
	}
	return out
}
