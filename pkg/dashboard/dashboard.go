// Package dashboard prepares the dashboard workbook and caches the rendered
// bytes between ledger changes.
package dashboard

import (
	"bytes"
	"context"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog/log"

	"github.com/quartermile/ledgerd/pkg/ledger"
	"github.com/quartermile/ledgerd/pkg/report"
)

// Builder renders the dashboard workbook on demand. The rendered bytes are
// cached until Invalidate is called.
type Builder struct {
	store        ledger.Store
	share        float64
	topCustomers int

	mu     sync.Mutex
	cached []byte
}

func New(store ledger.Store, share float64, topCustomers int) *Builder {
	return &Builder{
		store:        store,
		share:        share,
		topCustomers: topCustomers,
	}
}

// Build returns the dashboard workbook, rendering it only if the cache is
// stale
func (b *Builder) Build(ctx context.Context) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.cached != nil {
		return b.cached, nil
	}

	sales, err := b.store.All(ctx)
	if err != nil {
		return nil, err
	}

	buf := bytes.Buffer{}
	err = report.WriteDashboard(&buf, sales, b.share, b.topCustomers)
	if err != nil {
		return nil, err
	}

	b.cached = buf.Bytes()
	return b.cached, nil
}

// Invalidate drops the cached workbook
func (b *Builder) Invalidate() {
	b.mu.Lock()
	b.cached = nil
	b.mu.Unlock()
}

// Watch invalidates the cache whenever the given ledger file changes. It
// watches the parent directory so a ledger that doesn't exist yet is picked
// up on creation. Blocks until the context is cancelled.
func (b *Builder) Watch(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return eris.Wrap(err, "failed to create ledger watcher")
	}
	defer watcher.Close()

	dir := filepath.Dir(path)
	err = watcher.Add(dir)
	if err != nil {
		return eris.Wrapf(err, "failed to watch %s", dir)
	}

	target, err := filepath.Abs(path)
	if err != nil {
		return eris.Wrapf(err, "failed to resolve %s", path)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			name, err := filepath.Abs(event.Name)
			if err != nil || name != target {
				continue
			}

			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Remove) {
				log.Debug().Msgf("Ledger %s changed, invalidating dashboard cache", path)
				b.Invalidate()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}

			log.Warn().Err(err).Msg("Ledger watcher reported an error")
		}
	}
}
