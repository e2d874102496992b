package ledger

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCSVStore_Append(t *testing.T) {
	ctx := context.Background()

	t.Run("creates the file with a header", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "sales.csv")
		store := OpenCSV(path)

		err := store.Append(ctx, Sale{
			Date:         time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC),
			Email:        "jo@example.com",
			PurchaseType: "course",
			Amount:       49.9,
		})
		require.NoError(t, err)

		content, err := os.ReadFile(path)
		require.NoError(t, err)

		lines := strings.Split(strings.TrimSpace(string(content)), "\n")
		require.Len(t, lines, 2)
		assert.Equal(t, "date,email,purchase_type,amount", lines[0])
		assert.Equal(t, "2026-03-14,jo@example.com,course,49.90", lines[1])
	})

	t.Run("appends without rewriting the header", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "sales.csv")
		store := OpenCSV(path)

		for idx := 0; idx < 3; idx++ {
			err := store.Append(ctx, Sale{
				Date:         time.Date(2026, 3, 14+idx, 0, 0, 0, 0, time.UTC),
				Email:        "jo@example.com",
				PurchaseType: "course",
				Amount:       10,
			})
			require.NoError(t, err)
		}

		content, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Len(t, strings.Split(strings.TrimSpace(string(content)), "\n"), 4)
	})

	t.Run("trims the purchase type", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "sales.csv")
		store := OpenCSV(path)

		err := store.Append(ctx, Sale{Date: time.Now(), Email: "a@b.c", PurchaseType: "  course ", Amount: 1})
		require.NoError(t, err)

		sales, err := store.All(ctx)
		require.NoError(t, err)
		require.Len(t, sales, 1)
		assert.Equal(t, "course", sales[0].PurchaseType)
	})
}

func TestCSVStore_All(t *testing.T) {
	ctx := context.Background()

	t.Run("missing file yields ErrNoSales", func(t *testing.T) {
		store := OpenCSV(filepath.Join(t.TempDir(), "nope.csv"))

		_, err := store.All(ctx)
		require.Error(t, err)
		assert.True(t, eris.Is(err, ErrNoSales))
	})

	t.Run("roundtrips appended sales in order", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "sales.csv")
		store := OpenCSV(path)

		first := Sale{Date: time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC), Email: "a@example.com", PurchaseType: "ebook", Amount: 12.5}
		second := Sale{Date: time.Date(2026, 1, 3, 0, 0, 0, 0, time.UTC), Email: "b@example.com", PurchaseType: "course", Amount: 99}
		require.NoError(t, store.Append(ctx, first))
		require.NoError(t, store.Append(ctx, second))

		sales, err := store.All(ctx)
		require.NoError(t, err)
		require.Len(t, sales, 2)
		assert.Equal(t, first, sales[0])
		assert.Equal(t, second, sales[1])
	})

	t.Run("coerces malformed rows from legacy files", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "sales.csv")
		content := strings.Join([]string{
			"date,email,purchase_type,amount",
			"2026-01-02,a@example.com, course ,not-a-number",
			"never,b@example.com,ebook,15",
			"2026-01-04,c@example.com,ebook",
		}, "\n")
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))

		store := OpenCSV(path)
		sales, err := store.All(ctx)
		require.NoError(t, err)
		require.Len(t, sales, 2)

		// non-numeric amounts become 0, types are trimmed
		assert.Equal(t, 0.0, sales[0].Amount)
		assert.Equal(t, "course", sales[0].PurchaseType)

		// unparseable dates keep the row but zero the date
		assert.True(t, sales[1].Date.IsZero())
		assert.Equal(t, 15.0, sales[1].Amount)
	})
}
