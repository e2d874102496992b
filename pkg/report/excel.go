package report

import (
	"fmt"
	"io"

	"github.com/rotisserie/eris"
	"github.com/xuri/excelize/v2"

	"github.com/quartermile/ledgerd/pkg/ledger"
)

// ContentType is the MIME type for the generated workbooks
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

func writeRows(f *excelize.File, sheet string, rows [][]interface{}) error {
	for idx, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, idx+1)
		if err != nil {
			return eris.Wrap(err, "failed to compute cell name")
		}

		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return eris.Wrapf(err, "failed to write row %d of sheet %s", idx+1, sheet)
		}
	}
	return nil
}

func addSheet(f *excelize.File, name string, rows [][]interface{}) error {
	if _, err := f.NewSheet(name); err != nil {
		return eris.Wrapf(err, "failed to create sheet %s", name)
	}

	return writeRows(f, name, rows)
}

// WriteRevenueReport renders the per-type revenue report workbook (sheets
// "Report" and "PurchaseTypes") to the given writer
func WriteRevenueReport(w io.Writer, sales []ledger.Sale, share float64) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", "Report"); err != nil {
		return eris.Wrap(err, "failed to rename report sheet")
	}

	rows := [][]interface{}{{"purchase_type", "Purchases", "TotalRevenue", "RevenueShare"}}
	for _, entry := range ByPurchaseType(sales, share) {
		rows = append(rows, []interface{}{entry.PurchaseType, entry.Purchases, entry.TotalRevenue, entry.RevenueShare})
	}
	if err := writeRows(f, "Report", rows); err != nil {
		return err
	}

	rows = [][]interface{}{{"purchase_type"}}
	for _, ptype := range PurchaseTypes(sales) {
		rows = append(rows, []interface{}{ptype})
	}
	if err := addSheet(f, "PurchaseTypes", rows); err != nil {
		return err
	}

	if err := f.Write(w); err != nil {
		return eris.Wrap(err, "failed to write report workbook")
	}
	return nil
}

// WriteDashboard renders the dashboard workbook (sheets "Summary",
// "TopCustomers", "ByPurchaseType" and "DailyRevenue") to the given writer.
// topCustomers limits the TopCustomers sheet.
func WriteDashboard(w io.Writer, sales []ledger.Sale, share float64, topCustomers int) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", "Summary"); err != nil {
		return eris.Wrap(err, "failed to rename summary sheet")
	}

	summary := Summarize(sales, share)
	rows := [][]interface{}{
		{"Total Revenue", "Total Purchases", fmt.Sprintf("Revenue Share (%d%%)", int(share*100))},
		{summary.TotalRevenue, summary.TotalPurchases, summary.RevenueShare},
	}
	if err := writeRows(f, "Summary", rows); err != nil {
		return err
	}

	rows = [][]interface{}{{"email", "Total Spent"}}
	for _, entry := range TopCustomers(sales, topCustomers) {
		rows = append(rows, []interface{}{entry.Email, entry.TotalSpent})
	}
	if err := addSheet(f, "TopCustomers", rows); err != nil {
		return err
	}

	rows = [][]interface{}{{"purchase_type", "Num Purchases", "Total Revenue"}}
	for _, entry := range ByPurchaseType(sales, share) {
		rows = append(rows, []interface{}{entry.PurchaseType, entry.Purchases, entry.TotalRevenue})
	}
	if err := addSheet(f, "ByPurchaseType", rows); err != nil {
		return err
	}

	rows = [][]interface{}{{"date", "Purchases", "Revenue"}}
	for _, entry := range Daily(sales) {
		rows = append(rows, []interface{}{entry.Date.Format(ledger.DateFormat), entry.Purchases, entry.Revenue})
	}
	if err := addSheet(f, "DailyRevenue", rows); err != nil {
		return err
	}

	if err := f.Write(w); err != nil {
		return eris.Wrap(err, "failed to write dashboard workbook")
	}
	return nil
}
