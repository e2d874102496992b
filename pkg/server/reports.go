package server

import (
	"bytes"
	"net/http"
	"os"
	"path/filepath"

	"github.com/aidarkhanov/nanoid"
	"github.com/gorilla/mux"
	"github.com/rotisserie/eris"

	"github.com/quartermile/ledgerd/pkg/auth"
	"github.com/quartermile/ledgerd/pkg/ldlog"
	"github.com/quartermile/ledgerd/pkg/ledger"
	"github.com/quartermile/ledgerd/pkg/report"
)

func serveWorkbook(w http.ResponseWriter, filename string, content []byte) {
	w.Header().Set("Content-Type", report.ContentType)
	w.Header().Set("Content-Disposition", "attachment; filename="+filename)
	w.Write(content)
}

// HandleRevenueReport streams the per-type revenue workbook
func (t tally) HandleRevenueReport(w http.ResponseWriter, r *http.Request) {
	if !t.requirePermission(w, r, auth.PermViewReport, auth.ReportBag{Kind: "revenue"}) {
		return
	}

	ctx := r.Context()
	sales, err := t.Store.All(ctx)
	if err != nil {
		if eris.Is(err, ledger.ErrNoSales) {
			writeError(ctx, w, http.StatusNotFound, "no sales data recorded yet")
			return
		}

		ldlog.Log(ctx).Error().Err(err).Msg("Failed to read ledger")
		writeError(ctx, w, http.StatusInternalServerError, "internal error")
		return
	}

	buf := bytes.Buffer{}
	err = report.WriteRevenueReport(&buf, sales, t.Cfg.Reports.Share)
	if err != nil {
		ldlog.Log(ctx).Error().Err(err).Msg("Failed to build revenue report")
		writeError(ctx, w, http.StatusInternalServerError, "internal error")
		return
	}

	serveWorkbook(w, "report.xlsx", buf.Bytes())
}

// HandleDashboard streams the (cached) dashboard workbook
func (t tally) HandleDashboard(w http.ResponseWriter, r *http.Request) {
	if !t.requirePermission(w, r, auth.PermViewReport, auth.ReportBag{Kind: "dashboard"}) {
		return
	}

	ctx := r.Context()
	content, err := t.Dash.Build(ctx)
	if err != nil {
		if eris.Is(err, ledger.ErrNoSales) {
			writeError(ctx, w, http.StatusNotFound, "no sales data recorded yet")
			return
		}

		ldlog.Log(ctx).Error().Err(err).Msg("Failed to build dashboard")
		writeError(ctx, w, http.StatusInternalServerError, "internal error")
		return
	}

	serveWorkbook(w, "dashboard_report.xlsx", content)
}

// HandleSummary returns the revenue summary as JSON
func (t tally) HandleSummary(w http.ResponseWriter, r *http.Request) {
	if !t.requirePermission(w, r, auth.PermViewSummary, auth.Bag{}) {
		return
	}

	ctx := r.Context()
	sales, err := t.Store.All(ctx)
	if err != nil && !eris.Is(err, ledger.ErrNoSales) {
		ldlog.Log(ctx).Error().Err(err).Msg("Failed to read ledger")
		writeError(ctx, w, http.StatusInternalServerError, "internal error")
		return
	}

	summary := report.Summarize(sales, t.Cfg.Reports.Share)
	salesPerType := map[string]int{}
	revenuePerType := map[string]float64{}
	for _, entry := range report.ByPurchaseType(sales, t.Cfg.Reports.Share) {
		salesPerType[entry.PurchaseType] = entry.Purchases
		revenuePerType[entry.PurchaseType] = entry.TotalRevenue
	}

	writeJSON(ctx, w, http.StatusOK, map[string]interface{}{
		"total_sales":         summary.TotalPurchases,
		"total_revenue":       summary.TotalRevenue,
		"revenue_share":       summary.RevenueShare,
		"sales_per_product":   salesPerType,
		"revenue_per_product": revenuePerType,
	})
}

// HandleGenerateReport writes the requested workbook into the reports
// directory and returns the public path it is served under
func (t tally) HandleGenerateReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	kind := mux.Vars(r)["kind"]

	if !t.requirePermission(w, r, auth.PermGenerateReport, auth.ReportBag{Kind: kind}) {
		return
	}

	sales, err := t.Store.All(ctx)
	if err != nil {
		if eris.Is(err, ledger.ErrNoSales) {
			writeError(ctx, w, http.StatusNotFound, "no sales data recorded yet")
			return
		}

		ldlog.Log(ctx).Error().Err(err).Msg("Failed to read ledger")
		writeError(ctx, w, http.StatusInternalServerError, "internal error")
		return
	}

	buf := bytes.Buffer{}
	switch kind {
	case "revenue":
		err = report.WriteRevenueReport(&buf, sales, t.Cfg.Reports.Share)
	case "dashboard":
		err = report.WriteDashboard(&buf, sales, t.Cfg.Reports.Share, t.Cfg.Reports.TopCustomers)
	default:
		writeError(ctx, w, http.StatusNotFound, "unknown report kind")
		return
	}
	if err != nil {
		ldlog.Log(ctx).Error().Err(err).Msgf("Failed to build %s workbook", kind)
		writeError(ctx, w, http.StatusInternalServerError, "internal error")
		return
	}

	name := kind + "-" + nanoid.New() + ".xlsx"
	err = os.WriteFile(filepath.Join(t.Cfg.Reports.Dir, name), buf.Bytes(), 0644)
	if err != nil {
		ldlog.Log(ctx).Error().Err(err).Msgf("Failed to store %s workbook", kind)
		writeError(ctx, w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(ctx, w, http.StatusOK, map[string]string{
		"status": "ok",
		"file":   "/files/" + name,
	})
}
