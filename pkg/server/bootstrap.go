package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/quartermile/ledgerd/pkg/auth"
	"github.com/quartermile/ledgerd/pkg/config"
	"github.com/quartermile/ledgerd/pkg/dashboard"
	"github.com/quartermile/ledgerd/pkg/ledger"
	"github.com/quartermile/ledgerd/pkg/mail"
	"github.com/quartermile/ledgerd/pkg/platform"
	"github.com/quartermile/ledgerd/pkg/syncstate"
)

type tally struct {
	Store    ledger.Store
	State    *syncstate.Store
	Dash     *dashboard.Builder
	Platform *platform.Client
	Cfg      *config.Config
}

// OpenLedger creates the configured ledger backend
func OpenLedger(ctx context.Context, cfg *config.Config) (ledger.Store, error) {
	if cfg.Ledger.Backend == "postgres" {
		return ledger.OpenPG(ctx, cfg.Ledger.Database)
	}

	return ledger.OpenCSV(cfg.Ledger.File), nil
}

// StartServer starts the integrated HTTP server and runs until the process
// receives SIGINT or SIGTERM
func StartServer(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := OpenLedger(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	state, err := syncstate.Open(cfg.State.File)
	if err != nil {
		return err
	}
	defer state.Close()

	err = os.MkdirAll(cfg.Reports.Dir, 0755)
	if err != nil {
		return err
	}

	auth.Init()
	err = mail.Init(cfg)
	if err != nil {
		return err
	}

	app := tally{
		Store:    store,
		State:    state,
		Dash:     dashboard.New(store, cfg.Reports.Share, cfg.Reports.TopCustomers),
		Platform: platform.NewClient(cfg.Platform.BaseURL, cfg.Platform.Token),
		Cfg:      cfg,
	}

	muxServer := buildServer(app, cfg)
	eg, ctx := errgroup.WithContext(ctx)

	if cfg.Ledger.Backend == "csv" {
		eg.Go(func() error {
			return app.Dash.Watch(ctx, cfg.Ledger.File)
		})
	}

	eg.Go(func() error {
		log.Info().Msgf("Listening on %s", cfg.HTTP.Address)
		err := muxServer.ListenAndServe()
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	})

	eg.Go(func() error {
		<-ctx.Done()
		log.Info().Msg("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return muxServer.Shutdown(shutdownCtx)
	})

	return eg.Wait()
}
