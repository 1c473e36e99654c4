// Package parking runs the session lifecycle: a plate enters, is quoted, and
// leaves either settled with a receipt or cancelled without one.
package parking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/guregu/null.v4"

	"parkinglot/parking-server/internal/fee"
	"parkinglot/parking-server/internal/lock"
	"parkinglot/parking-server/internal/model"
	"parkinglot/parking-server/internal/notify"
	"parkinglot/parking-server/internal/receipt"
	"parkinglot/parking-server/internal/tariff"
)

const defaultOwner = "anonymous"

// Store is the persistence the service relies on.
type Store interface {
	InsertSession(ctx context.Context, session model.ParkingSession) error
	SessionByPlate(ctx context.Context, plate string) (model.ParkingSession, error)
	ListSessions(ctx context.Context) ([]model.ParkingSession, error)
	DeleteSessionByPlate(ctx context.Context, plate string) error
	SettleSession(ctx context.Context, receipt model.Receipt) error
	ReceiptByID(ctx context.Context, id string) (model.Receipt, error)
	RecentReceipts(ctx context.Context, plate string, limit int) ([]model.Receipt, error)
}

// Dependencies wires a Service. Store, Tariffs and Receipts are required.
type Dependencies struct {
	Store    Store
	Tariffs  *tariff.Table
	Receipts *receipt.Builder
	Hub      *notify.Hub
	Locker   lock.Locker
	Now      func() time.Time
	Logger   *slog.Logger
	Timeout  time.Duration
	Origin   string
}

// Service owns the per-plate state machine Absent -> Active -> Settled|Cancelled.
type Service struct {
	store    Store
	tariffs  *tariff.Table
	receipts *receipt.Builder
	hub      *notify.Hub
	locker   lock.Locker
	registry *Registry
	now      func() time.Time
	logger   *slog.Logger
	timeout  time.Duration
	origin   string
}

// NewService validates deps and fills defaults for the optional ones.
func NewService(deps Dependencies) (*Service, error) {
	if deps.Store == nil || deps.Tariffs == nil || deps.Receipts == nil {
		return nil, errors.New("parking service requires store, tariffs and receipt builder")
	}

	s := &Service{
		store:    deps.Store,
		tariffs:  deps.Tariffs,
		receipts: deps.Receipts,
		hub:      deps.Hub,
		locker:   deps.Locker,
		registry: NewRegistry(),
		now:      deps.Now,
		logger:   deps.Logger,
		timeout:  deps.Timeout,
		origin:   deps.Origin,
	}
	if s.locker == nil {
		s.locker = lock.NewLocal()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.timeout <= 0 {
		s.timeout = 2 * time.Second
	}
	return s, nil
}

// EntryInput describes a vehicle arriving. Size and AgreedPrice are only
// used by negotiated categories.
type EntryInput struct {
	Plate       string
	Category    model.Category
	OwnerRef    string
	Size        string
	AgreedPrice *int64
}

// ExitInput describes a vehicle leaving. A nil ExitTimestamp means now.
// Adjustment and Override are mutually exclusive.
type ExitInput struct {
	Plate         string
	ExitTimestamp *int64
	Adjustment    int64
	Override      *int64
	SettledBy     string
}

// RegisterEntry opens a session for a plate that has none.
func (s *Service) RegisterEntry(ctx context.Context, in EntryInput) (model.ParkingSession, error) {
	plate := model.NormalizePlate(in.Plate)
	if plate == "" {
		return model.ParkingSession{}, fmt.Errorf("%w: plate is required", model.ErrValidation)
	}

	category := model.Category(strings.TrimSpace(string(in.Category)))
	session := model.ParkingSession{
		ID:             uuid.NewString(),
		Plate:          plate,
		Category:       category,
		EntryTimestamp: s.now().UnixMilli(),
		OwnerRef:       strings.TrimSpace(in.OwnerRef),
	}
	if session.OwnerRef == "" {
		session.OwnerRef = defaultOwner
	}

	switch {
	case category.Negotiated():
		if err := s.validateNegotiated(category, in); err != nil {
			return model.ParkingSession{}, err
		}
		session.Size = null.StringFrom(strings.ToLower(strings.TrimSpace(in.Size)))
		session.AgreedPrice = null.IntFrom(*in.AgreedPrice)
	case category == "" || !s.tariffs.Has(category):
		return model.ParkingSession{}, fmt.Errorf("%w: unknown category %q", model.ErrValidation, category)
	}

	unlock, err := s.lockPlate(ctx, plate)
	if err != nil {
		return model.ParkingSession{}, err
	}
	defer unlock()

	storeCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.store.InsertSession(storeCtx, session); err != nil {
		return model.ParkingSession{}, storeError("register entry", err)
	}

	s.registry.Put(session)
	s.publish(notify.SessionRegistered, plate)
	s.logger.Info("vehicle entered", "plate", plate, "category", category, "owner", session.OwnerRef)
	return session, nil
}

func (s *Service) validateNegotiated(category model.Category, in EntryInput) error {
	size := model.Size(strings.ToLower(strings.TrimSpace(in.Size)))
	if size == "" || in.AgreedPrice == nil {
		return fmt.Errorf("%w: category %q", model.ErrMissingNegotiatedPrice, category)
	}
	if !size.Valid() {
		return fmt.Errorf("%w: unknown size %q", model.ErrValidation, size)
	}

	price := *in.AgreedPrice
	if price < 0 {
		return fmt.Errorf("%w: agreed price must not be negative", model.ErrValidation)
	}

	band, err := s.tariffs.Get(model.BandCategory(category, size))
	if err != nil || band.Flat == nil {
		return nil
	}
	if band.Flat.Min != nil && price < *band.Flat.Min {
		return fmt.Errorf("%w: agreed price %d below %d for %s", model.ErrValidation, price, *band.Flat.Min, size)
	}
	if band.Flat.Max != nil && price > *band.Flat.Max {
		return fmt.Errorf("%w: agreed price %d above %d for %s", model.ErrValidation, price, *band.Flat.Max, size)
	}
	return nil
}

// Quote previews the fee for plate if it left now. Nothing is changed.
func (s *Service) Quote(ctx context.Context, plate string) (fee.Result, error) {
	plate = model.NormalizePlate(plate)

	storeCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	session, err := s.store.SessionByPlate(storeCtx, plate)
	if err != nil {
		return fee.Result{}, storeError("quote", err)
	}
	return fee.Compute(session, s.tariffs.Snapshot(), s.now().UnixMilli())
}

// RegisterExit bills the active session for plate and closes it. The receipt
// insert and the session delete commit together; on failure the session
// stays active.
func (s *Service) RegisterExit(ctx context.Context, in ExitInput) (model.Receipt, error) {
	if in.Adjustment != 0 && in.Override != nil {
		return model.Receipt{}, fmt.Errorf("%w: adjustment and override are mutually exclusive", model.ErrValidation)
	}
	plate := model.NormalizePlate(in.Plate)
	if plate == "" {
		return model.Receipt{}, fmt.Errorf("%w: plate is required", model.ErrValidation)
	}

	unlock, err := s.lockPlate(ctx, plate)
	if err != nil {
		return model.Receipt{}, err
	}
	defer unlock()

	storeCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	session, err := s.store.SessionByPlate(storeCtx, plate)
	if err != nil {
		return model.Receipt{}, storeError("register exit", err)
	}

	exitMs := s.now().UnixMilli()
	if in.ExitTimestamp != nil {
		exitMs = *in.ExitTimestamp
	}

	result, err := fee.Compute(session, s.tariffs.Snapshot(), exitMs)
	if err != nil {
		return model.Receipt{}, err
	}

	var warnings []string
	if result.UnknownCategory {
		warnings = append(warnings, fmt.Sprintf("no tariff for category %q; charged 0", session.Category))
		s.logger.Warn("exit for unknown category", "plate", plate, "category", session.Category)
	}

	settledBy := strings.TrimSpace(in.SettledBy)
	if settledBy == "" {
		settledBy = defaultOwner
	}

	r := s.receipts.Build(session, result, exitMs, receipt.Adjustment{Amount: in.Adjustment, Override: in.Override}, settledBy, warnings)

	if err := s.store.SettleSession(storeCtx, r); err != nil {
		s.logger.Error("settle failed", "plate", plate, "error", err)
		return model.Receipt{}, storeError("settle session", err)
	}

	s.registry.Remove(plate)
	s.publish(notify.SessionSettled, plate)
	s.logger.Info("vehicle exited", "plate", plate, "category", session.Category, "duration", r.StayDuration, "total", r.FinalCost)
	return r, nil
}

// CancelSession drops the active session for plate without billing.
func (s *Service) CancelSession(ctx context.Context, plate string) error {
	plate = model.NormalizePlate(plate)
	if plate == "" {
		return fmt.Errorf("%w: plate is required", model.ErrValidation)
	}

	unlock, err := s.lockPlate(ctx, plate)
	if err != nil {
		return err
	}
	defer unlock()

	storeCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.store.DeleteSessionByPlate(storeCtx, plate); err != nil {
		return storeError("cancel session", err)
	}

	s.registry.Remove(plate)
	s.publish(notify.SessionCancelled, plate)
	s.logger.Info("session cancelled", "plate", plate)
	return nil
}

// ListSessions returns cached active sessions matching f.
func (s *Service) ListSessions(_ context.Context, f Filter) []model.ParkingSession {
	return s.registry.List(f)
}

// Receipts returns recent receipts, newest first, optionally for one plate.
func (s *Service) Receipts(ctx context.Context, plate string, limit int) ([]model.Receipt, error) {
	storeCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	receipts, err := s.store.RecentReceipts(storeCtx, model.NormalizePlate(plate), limit)
	if err != nil {
		return nil, storeError("list receipts", err)
	}
	return receipts, nil
}

// Receipt returns one receipt by id.
func (s *Service) Receipt(ctx context.Context, id string) (model.Receipt, error) {
	storeCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	r, err := s.store.ReceiptByID(storeCtx, strings.TrimSpace(id))
	if err != nil {
		return model.Receipt{}, storeError("get receipt", err)
	}
	return r, nil
}

// Reload rebuilds the session cache from the store.
func (s *Service) Reload(ctx context.Context) error {
	storeCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	sessions, err := s.store.ListSessions(storeCtx)
	if err != nil {
		return storeError("reload sessions", err)
	}
	s.registry.Replace(sessions)
	s.logger.Debug("session cache reloaded", "active", len(sessions))
	return nil
}

// Active reports how many sessions are cached.
func (s *Service) Active() int {
	return s.registry.Len()
}

func (s *Service) lockPlate(ctx context.Context, plate string) (func(), error) {
	unlock, err := s.locker.Lock(ctx, plate)
	if err != nil {
		return nil, fmt.Errorf("%w: lock plate %s: %v", model.ErrPersistence, plate, err)
	}
	return unlock, nil
}

func (s *Service) publish(kind notify.Kind, plate string) {
	if s.hub == nil {
		return
	}
	s.hub.Publish(notify.Event{Kind: kind, Plate: plate, Origin: s.origin, At: s.now().UTC()})
}

// storeError passes domain outcomes through and marks everything else as a
// persistence failure.
func storeError(op string, err error) error {
	if errors.Is(err, model.ErrNotFound) || errors.Is(err, model.ErrDuplicateActive) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", model.ErrPersistence, op, err)
}
