// Package tariff owns the live tariff table: a validated, persisted snapshot
// that is swapped atomically so fee computations always see a whole table.
package tariff

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"parkinglot/parking-server/internal/model"
	"parkinglot/parking-server/internal/notify"
)

// Store is the persistence the table needs.
type Store interface {
	LoadTariffs(ctx context.Context) (model.TariffTable, error)
	SaveTariffs(ctx context.Context, table model.TariffTable) error
}

// Table serves the current tariff snapshot and applies whole-table updates.
type Table struct {
	store  Store
	hub    *notify.Hub
	origin string
	logger *slog.Logger

	writeMu sync.Mutex
	current atomic.Pointer[model.TariffTable]
}

// New returns a table holding an empty snapshot. Call SeedDefaults or Refresh
// before serving traffic. hub may be nil.
func New(store Store, hub *notify.Hub, origin string, logger *slog.Logger) *Table {
	if logger == nil {
		logger = slog.Default()
	}
	t := &Table{store: store, hub: hub, origin: origin, logger: logger}
	empty := model.TariffTable{}
	t.current.Store(&empty)
	return t
}

// Snapshot returns a copy of the current table.
func (t *Table) Snapshot() model.TariffTable {
	return (*t.current.Load()).Clone()
}

// Get returns the rule for category or model.ErrNotFound.
func (t *Table) Get(category model.Category) (model.TariffRule, error) {
	rule, ok := (*t.current.Load())[category]
	if !ok {
		return model.TariffRule{}, fmt.Errorf("tariff %q: %w", category, model.ErrNotFound)
	}
	return rule.Clone(), nil
}

// Has reports whether category has a rule.
func (t *Table) Has(category model.Category) bool {
	_, ok := (*t.current.Load())[category]
	return ok
}

// ReplaceAll validates, persists and installs table as a whole. On any error
// the live snapshot is left untouched.
func (t *Table) ReplaceAll(ctx context.Context, table model.TariffTable) error {
	if len(table) == 0 {
		return fmt.Errorf("%w: tariff table is empty", model.ErrValidation)
	}
	if err := table.Validate(); err != nil {
		return err
	}

	next := table.Clone()

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if err := t.store.SaveTariffs(ctx, next); err != nil {
		return fmt.Errorf("%w: save tariffs: %v", model.ErrPersistence, err)
	}
	t.current.Store(&next)

	t.logger.Info("tariff table replaced", "categories", len(next))
	t.publish()
	return nil
}

// SeedDefaults installs the persisted table, first writing Defaults() when the
// store holds none. It reports whether the defaults were written.
func (t *Table) SeedDefaults(ctx context.Context) (bool, error) {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	loaded, err := t.store.LoadTariffs(ctx)
	if err != nil {
		return false, fmt.Errorf("%w: load tariffs: %v", model.ErrPersistence, err)
	}

	if len(loaded) > 0 {
		t.current.Store(&loaded)
		t.logger.Info("tariff table loaded", "categories", len(loaded))
		return false, nil
	}

	defaults := Defaults()
	if err := t.store.SaveTariffs(ctx, defaults); err != nil {
		return false, fmt.Errorf("%w: seed tariffs: %v", model.ErrPersistence, err)
	}
	t.current.Store(&defaults)
	t.logger.Info("seeded default tariffs", "categories", len(defaults))
	return true, nil
}

// Refresh reloads the table from the store, typically after another instance
// replaced it.
func (t *Table) Refresh(ctx context.Context) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	loaded, err := t.store.LoadTariffs(ctx)
	if err != nil {
		return fmt.Errorf("%w: load tariffs: %v", model.ErrPersistence, err)
	}
	t.current.Store(&loaded)
	t.logger.Debug("tariff table refreshed", "categories", len(loaded))
	return nil
}

func (t *Table) publish() {
	if t.hub == nil {
		return
	}
	t.hub.Publish(notify.Event{Kind: notify.TariffsReplaced, Origin: t.origin})
}
