package ledger

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

var csvHeader = []string{"date", "email", "purchase_type", "amount"}

// CSVStore keeps the ledger in a plain CSV file with the header
// date,email,purchase_type,amount. The format is shared with older tooling
// so the column set never changes.
type CSVStore struct {
	path string
	mu   sync.Mutex
}

func OpenCSV(path string) *CSVStore {
	return &CSVStore{path: path}
}

// Path returns the location of the backing file
func (s *CSVStore) Path() string {
	return s.path
}

// Append adds a sale to the end of the ledger, creating the file (including
// the header row) if necessary
func (s *CSVStore) Append(ctx context.Context, sale Sale) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, statErr := os.Stat(s.path)
	fresh := os.IsNotExist(statErr)

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return eris.Wrapf(err, "failed to open ledger %s", s.path)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if fresh {
		if err := w.Write(csvHeader); err != nil {
			return eris.Wrap(err, "failed to write ledger header")
		}
	}

	record := []string{
		sale.Date.Format(DateFormat),
		sale.Email,
		strings.TrimSpace(sale.PurchaseType),
		strconv.FormatFloat(sale.Amount, 'f', 2, 64),
	}
	if err := w.Write(record); err != nil {
		return eris.Wrap(err, "failed to write ledger row")
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return eris.Wrapf(err, "failed to flush ledger %s", s.path)
	}
	return nil
}

// All reads the entire ledger in insert order. Amounts that fail to parse
// are coerced to 0 and purchase types are trimmed; rows with an invalid
// date keep a zero Date.
func (s *CSVStore) All(ctx context.Context) ([]Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoSales
		}
		return nil, eris.Wrapf(err, "failed to open ledger %s", s.path)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	sales := make([]Sale, 0)
	first := true
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrapf(err, "failed to parse ledger %s", s.path)
		}

		// the first line is the header written by Append
		if first {
			first = false
			continue
		}
		if len(record) < 4 {
			continue
		}

		sale := Sale{
			Email:        record[1],
			PurchaseType: strings.TrimSpace(record[2]),
		}
		if amount, err := strconv.ParseFloat(strings.TrimSpace(record[3]), 64); err == nil {
			sale.Amount = amount
		}
		if date, err := time.Parse(DateFormat, strings.TrimSpace(record[0])); err == nil {
			sale.Date = date
		}

		sales = append(sales, sale)
	}

	return sales, nil
}

func (s *CSVStore) Close() error {
	return nil
}
