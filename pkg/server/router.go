package server

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/unrolled/secure"

	"github.com/quartermile/ledgerd/pkg/auth"
	"github.com/quartermile/ledgerd/pkg/config"
	"github.com/quartermile/ledgerd/pkg/ldlog"
)

func (t tally) buildRouter() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/webhooks/crm", t.HandleWebhook).Methods("POST")
	r.HandleFunc("/api/login", t.HandleLogin).Methods("POST")
	r.HandleFunc("/api/summary", t.HandleSummary).Methods("GET")
	r.HandleFunc("/reports/revenue.xlsx", t.HandleRevenueReport).Methods("GET")
	r.HandleFunc("/reports/dashboard.xlsx", t.HandleDashboard).Methods("GET")
	r.HandleFunc("/api/reports/{kind}/generate", t.HandleGenerateReport).Methods("POST")

	// generated workbooks are served straight from the reports directory
	r.PathPrefix("/files/").Handler(
		http.StripPrefix("/files/", http.FileServer(http.Dir(t.Cfg.Reports.Dir))))

	return r
}

func buildServer(t tally, cfg *config.Config) *http.Server {
	sm := secure.New(secure.Options{
		// TODO: Figure out how to only enable in production
		// SSLRedirect: true,
		IsDevelopment:      true,
		BrowserXssFilter:   true,
		ContentTypeNosniff: true,
		FrameDeny:          true,
	})

	handler := sm.Handler(auth.MakeAuthMiddleware(cfg, ldlog.MakeLogMiddleware(t.buildRouter())))

	return &http.Server{
		Handler:      handler,
		Addr:         cfg.HTTP.Address,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
}
