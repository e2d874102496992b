package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/quartermile/ledgerd/pkg/config"
	"github.com/quartermile/ledgerd/pkg/ledger"
	"github.com/quartermile/ledgerd/pkg/report"
	"github.com/quartermile/ledgerd/pkg/server"
)

func writeWorkbook(path string, write func(f *os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "failed to create %s", path)
	}
	defer f.Close()

	return write(f)
}

func printSummary(sales []ledger.Sale, share float64) {
	summary := report.Summarize(sales, share)

	fmt.Println("\nRevenue Summary")
	fmt.Println(strings.Repeat("=", 40))
	fmt.Printf("Total sales: %d\n", summary.TotalPurchases)
	fmt.Printf("Total revenue: $%.2f\n", summary.TotalRevenue)
	fmt.Printf("Revenue share (%d%%): $%.2f\n", int(share*100), summary.RevenueShare)

	fmt.Println("\nSales per purchase type:")
	breakdown := report.ByPurchaseType(sales, share)
	for _, entry := range breakdown {
		fmt.Printf("  %s: %d sale(s)\n", entry.PurchaseType, entry.Purchases)
	}

	fmt.Println("\nRevenue per purchase type:")
	for _, entry := range breakdown {
		fmt.Printf("  %s: $%.2f\n", entry.PurchaseType, entry.TotalRevenue)
	}
	fmt.Println(strings.Repeat("=", 40))
}

func main() {
	cfg, loader := config.Loader()

	if err := loader.Load(); err != nil {
		if strings.Contains(err.Error(), "help requested") {
			os.Exit(3)
		}

		panic(err)
	}

	writer := zerolog.ConsoleWriter{Out: os.Stdout}
	writer.TimeFormat = "02.01.2006 15:04:05 MST"
	log.Logger = log.Output(writer)
	zerolog.ErrorStackMarshaler = func(err error) interface{} {
		return eris.ToString(err, true)
	}

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Failed to parse config")
	}
	zerolog.SetGlobalLevel(cfg.LogLevel())

	ctx := context.Background()
	store, err := server.OpenLedger(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open ledger")
	}
	defer store.Close()

	sales, err := store.All(ctx)
	if err != nil {
		if eris.Is(err, ledger.ErrNoSales) {
			fmt.Println("No sales data recorded yet")
			return
		}

		log.Fatal().Err(err).Msg("Failed to read ledger")
	}

	printSummary(sales, cfg.Reports.Share)

	err = os.MkdirAll(cfg.Reports.Dir, 0755)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create reports directory")
	}

	reportPath := filepath.Join(cfg.Reports.Dir, "report.xlsx")
	err = writeWorkbook(reportPath, func(f *os.File) error {
		return report.WriteRevenueReport(f, sales, cfg.Reports.Share)
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to write revenue report")
	}
	log.Info().Msgf("Revenue report written to %s", reportPath)

	dashboardPath := filepath.Join(cfg.Reports.Dir, "dashboard_report.xlsx")
	err = writeWorkbook(dashboardPath, func(f *os.File) error {
		return report.WriteDashboard(f, sales, cfg.Reports.Share, cfg.Reports.TopCustomers)
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to write dashboard report")
	}
	log.Info().Msgf("Dashboard report written to %s", dashboardPath)
}
