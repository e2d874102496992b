package ledger

import (
	"context"
	"strings"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgtype"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/quartermile/ledgerd/pkg/ldlog"
)

const salesSchema = `
CREATE TABLE IF NOT EXISTS sales (
	id BIGSERIAL PRIMARY KEY,
	sold_on DATE NOT NULL,
	email TEXT NOT NULL,
	purchase_type TEXT,
	amount NUMERIC(12, 2) NOT NULL DEFAULT 0,
	event_id TEXT UNIQUE
)`

// PGStore keeps the ledger in a PostgreSQL table
type PGStore struct {
	pool *pgxpool.Pool
}

// OpenPG connects to the given DSN and makes sure the sales table exists
func OpenPG(ctx context.Context, dsn string) (*PGStore, error) {
	dbConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, eris.Wrap(err, "failed to parse database DSN")
	}

	dbConfig.ConnConfig.Logger = ldlog.PgxLogger{}
	dbConfig.ConnConfig.LogLevel = pgx.LogLevelWarn
	pool, err := pgxpool.ConnectConfig(ctx, dbConfig)
	if err != nil {
		return nil, eris.Wrap(err, "failed to connect to database")
	}

	_, err = pool.Exec(ctx, salesSchema)
	if err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "failed to prepare sales table")
	}

	return &PGStore{pool: pool}, nil
}

func (s *PGStore) Append(ctx context.Context, sale Sale) error {
	var eventID *string
	if sale.EventID != "" {
		eventID = &sale.EventID
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO sales (sold_on, email, purchase_type, amount, event_id) VALUES ($1, $2, $3, $4, $5)`,
		sale.Date, sale.Email, strings.TrimSpace(sale.PurchaseType), sale.Amount, eventID,
	)
	if err != nil {
		if IsDuplicateKeyError(err) {
			// a replayed event already inserted this sale
			ldlog.Log(ctx).Debug().Msgf("Ignoring duplicate sale for event %s", sale.EventID)
			return nil
		}
		return eris.Wrap(err, "failed to insert sale")
	}
	return nil
}

func (s *PGStore) All(ctx context.Context) ([]Sale, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT sold_on, email, purchase_type, amount, event_id FROM sales ORDER BY sold_on, id`)
	if err != nil {
		return nil, eris.Wrap(err, "failed to query sales")
	}
	defer rows.Close()

	sales := make([]Sale, 0)
	for rows.Next() {
		var sale Sale
		var ptype, eventID pgtype.Text
		err = rows.Scan(&sale.Date, &sale.Email, &ptype, &sale.Amount, &eventID)
		if err != nil {
			return nil, eris.Wrap(err, "failed to scan sale row")
		}

		if ptype.Status == pgtype.Present {
			sale.PurchaseType = strings.TrimSpace(ptype.String)
		}
		if eventID.Status == pgtype.Present {
			sale.EventID = eventID.String
		}
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "failed to read sales")
	}

	if len(sales) == 0 {
		return nil, ErrNoSales
	}
	return sales, nil
}

func (s *PGStore) Close() error {
	s.pool.Close()
	return nil
}

// IsDuplicateKeyError returns true if the passed error indicates that the last INSERT failed because
// a unique constraint was violated
func IsDuplicateKeyError(err error) bool {
	pgErr, ok := err.(*pgconn.PgError)
	if ok {
		return pgErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "(SQLSTATE 23505)")
}
