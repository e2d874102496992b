package ledger

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
)

// ErrNoSales is returned when the ledger holds no data yet (i.e. the CSV
// file hasn't been created or the sales table is empty)
var ErrNoSales = eris.New("no sales data recorded yet")

// DateFormat is the format sale dates are stored in
const DateFormat = "2006-01-02"

// Sale is a single purchase as recorded in the ledger.
//
// Date may be zero when an imported row carried an unparseable value; such
// rows still count toward totals but are skipped in per-day breakdowns.
type Sale struct {
	Date         time.Time
	Email        string
	PurchaseType string
	Amount       float64

	// EventID is the webhook event that produced this sale, if any. The
	// CSV backend drops it (the column set is fixed); the Postgres backend
	// keeps it under a unique index so a replayed event can't insert twice.
	EventID string
}

// Store is the sales ledger. Append must be safe for concurrent use.
type Store interface {
	Append(ctx context.Context, sale Sale) error
	All(ctx context.Context) ([]Sale, error)
	Close() error
}
