package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/guregu/null.v4"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"parkinglot/parking-server/internal/model"
)

// Store wraps the SQLite database connection and schema lifecycle.
type Store struct {
	db *sql.DB
}

// Open initializes the database connection, creating directories as needed.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(5 * time.Minute)

	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// InitSchema ensures baseline tables exist.
func (s *Store) InitSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS tariffs (
			category TEXT PRIMARY KEY,
			half_hour_price INTEGER,
			per_minute_price INTEGER,
			flat_amount INTEGER,
			flat_label TEXT,
			band_min INTEGER,
			band_max INTEGER,
			updated_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
		);`,
		`CREATE TABLE IF NOT EXISTS active_sessions (
			id TEXT PRIMARY KEY,
			plate TEXT NOT NULL UNIQUE,
			category TEXT NOT NULL,
			entry_timestamp INTEGER NOT NULL,
			owner_ref TEXT NOT NULL,
			size TEXT,
			agreed_price INTEGER,
			created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
		);`,
		`CREATE TABLE IF NOT EXISTS receipts (
			id TEXT PRIMARY KEY,
			number INTEGER NOT NULL UNIQUE,
			session_id TEXT NOT NULL,
			plate TEXT NOT NULL,
			category TEXT NOT NULL,
			size TEXT,
			owner_ref TEXT NOT NULL,
			settled_by TEXT NOT NULL,
			entry_timestamp INTEGER NOT NULL,
			exit_timestamp INTEGER NOT NULL,
			stay_duration TEXT NOT NULL,
			original_cost INTEGER NOT NULL,
			adjustment INTEGER NOT NULL,
			override INTEGER,
			final_cost INTEGER NOT NULL,
			is_flat_rate INTEGER NOT NULL,
			rate_label TEXT NOT NULL,
			warnings TEXT,
			settled_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_receipts_plate_time ON receipts(plate, settled_at);`,
		`CREATE TABLE IF NOT EXISTS app_config (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
		);`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}

	return nil
}

// DB exposes the underlying sql.DB for callers that need raw access.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Ping reports whether the database answers.
func (s *Store) Ping(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("store not initialized")
	}
	return s.db.PingContext(ctx)
}

// LoadTariffs returns the persisted tariff table; an empty table means none was saved yet.
func (s *Store) LoadTariffs(ctx context.Context) (model.TariffTable, error) {
	if s.db == nil {
		return nil, fmt.Errorf("store not initialized")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT category, half_hour_price, per_minute_price, flat_amount, flat_label, band_min, band_max FROM tariffs;`)
	if err != nil {
		return nil, fmt.Errorf("query tariffs: %w", err)
	}
	defer rows.Close()

	table := make(model.TariffTable)
	for rows.Next() {
		var (
			category            string
			halfHour, perMinute sql.NullInt64
			flatAmount          sql.NullInt64
			flatLabel           sql.NullString
			bandMin, bandMax    sql.NullInt64
		)
		if err := rows.Scan(&category, &halfHour, &perMinute, &flatAmount, &flatLabel, &bandMin, &bandMax); err != nil {
			return nil, fmt.Errorf("scan tariff: %w", err)
		}

		var rule model.TariffRule
		if halfHour.Valid {
			rule.HalfHourPrice = &halfHour.Int64
		}
		if perMinute.Valid {
			rule.PerMinutePrice = &perMinute.Int64
		}
		if flatAmount.Valid {
			rule.Flat = &model.FlatRate{Amount: flatAmount.Int64, Label: flatLabel.String}
			if bandMin.Valid {
				rule.Flat.Min = &bandMin.Int64
			}
			if bandMax.Valid {
				rule.Flat.Max = &bandMax.Int64
			}
		}
		table[model.Category(category)] = rule
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tariffs: %w", err)
	}

	return table, nil
}

// SaveTariffs replaces the whole tariff table in a single transaction.
func (s *Store) SaveTariffs(ctx context.Context, table model.TariffTable) error {
	if s.db == nil {
		return fmt.Errorf("store not initialized")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save tariffs: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM tariffs;`); err != nil {
		return fmt.Errorf("clear tariffs: %w", err)
	}

	for _, category := range table.Categories() {
		rule := table[category]
		var (
			flatAmount, bandMin, bandMax sql.NullInt64
			flatLabel                    sql.NullString
		)
		if rule.Flat != nil {
			flatAmount = sql.NullInt64{Int64: rule.Flat.Amount, Valid: true}
			flatLabel = sql.NullString{String: rule.Flat.Label, Valid: true}
			bandMin = nullInt64(rule.Flat.Min)
			bandMax = nullInt64(rule.Flat.Max)
		}

		_, err := tx.ExecContext(ctx,
			`INSERT INTO tariffs (category, half_hour_price, per_minute_price, flat_amount, flat_label, band_min, band_max)
			 VALUES (?, ?, ?, ?, ?, ?, ?);`,
			string(category),
			nullInt64(rule.HalfHourPrice),
			nullInt64(rule.PerMinutePrice),
			flatAmount,
			flatLabel,
			bandMin,
			bandMax,
		)
		if err != nil {
			return fmt.Errorf("insert tariff %q: %w", category, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save tariffs: %w", err)
	}
	return nil
}

// InsertSession persists a new active session. The unique plate index makes
// the duplicate check atomic; a collision returns model.ErrDuplicateActive.
func (s *Store) InsertSession(ctx context.Context, session model.ParkingSession) error {
	if s.db == nil {
		return fmt.Errorf("store not initialized")
	}

	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO active_sessions (id, plate, category, entry_timestamp, owner_ref, size, agreed_price)
		 VALUES (?, ?, ?, ?, ?, ?, ?);`,
		session.ID,
		session.Plate,
		string(session.Category),
		session.EntryTimestamp,
		session.OwnerRef,
		session.Size,
		session.AgreedPrice,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("insert session %s: %w", session.Plate, model.ErrDuplicateActive)
	}
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// SessionByPlate returns the active session for plate or model.ErrNotFound.
func (s *Store) SessionByPlate(ctx context.Context, plate string) (model.ParkingSession, error) {
	if s.db == nil {
		return model.ParkingSession{}, fmt.Errorf("store not initialized")
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT id, plate, category, entry_timestamp, owner_ref, size, agreed_price
		 FROM active_sessions WHERE plate = ?;`, plate)

	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ParkingSession{}, fmt.Errorf("session %s: %w", plate, model.ErrNotFound)
	}
	if err != nil {
		return model.ParkingSession{}, fmt.Errorf("get session: %w", err)
	}
	return session, nil
}

// ListSessions returns every active session ordered by entry time.
func (s *Store) ListSessions(ctx context.Context) ([]model.ParkingSession, error) {
	if s.db == nil {
		return nil, fmt.Errorf("store not initialized")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, plate, category, entry_timestamp, owner_ref, size, agreed_price
		 FROM active_sessions ORDER BY entry_timestamp ASC, plate ASC;`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []model.ParkingSession
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, session)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// DeleteSessionByPlate removes the active session for plate without billing.
func (s *Store) DeleteSessionByPlate(ctx context.Context, plate string) error {
	if s.db == nil {
		return fmt.Errorf("store not initialized")
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM active_sessions WHERE plate = ?;`, plate)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("session %s: %w", plate, model.ErrNotFound)
	}
	return nil
}

// SettleSession records the receipt and removes the session it bills in one
// transaction. If the session is already gone (for example cancelled
// concurrently) nothing is written and model.ErrNotFound is returned.
func (s *Store) SettleSession(ctx context.Context, receipt model.Receipt) error {
	if s.db == nil {
		return fmt.Errorf("store not initialized")
	}

	warnings, err := json.Marshal(receipt.Warnings)
	if err != nil {
		return fmt.Errorf("encode receipt warnings: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin settle: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `DELETE FROM active_sessions WHERE id = ?;`, receipt.SessionID)
	if err != nil {
		return fmt.Errorf("delete settled session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete settled session: %w", err)
	}
	if n != 1 {
		return fmt.Errorf("session %s: %w", receipt.Plate, model.ErrNotFound)
	}

	_, err = tx.ExecContext(
		ctx,
		`INSERT INTO receipts (id, number, session_id, plate, category, size, owner_ref, settled_by,
			entry_timestamp, exit_timestamp, stay_duration, original_cost, adjustment, override,
			final_cost, is_flat_rate, rate_label, warnings, settled_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		receipt.ID,
		receipt.Number,
		receipt.SessionID,
		receipt.Plate,
		string(receipt.Category),
		null.NewString(receipt.Size, receipt.Size != ""),
		receipt.OwnerRef,
		receipt.SettledBy,
		receipt.EntryTimestamp,
		receipt.ExitTimestamp,
		receipt.StayDuration,
		receipt.OriginalCost,
		receipt.Adjustment,
		receipt.Override,
		receipt.FinalCost,
		receipt.IsFlatRate,
		receipt.RateLabel,
		string(warnings),
		receipt.SettledAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert receipt: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit settle: %w", err)
	}
	return nil
}

// ReceiptByID returns a stored receipt or model.ErrNotFound.
func (s *Store) ReceiptByID(ctx context.Context, id string) (model.Receipt, error) {
	if s.db == nil {
		return model.Receipt{}, fmt.Errorf("store not initialized")
	}

	row := s.db.QueryRowContext(ctx, receiptSelect+` WHERE id = ?;`, id)
	receipt, err := scanReceipt(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Receipt{}, fmt.Errorf("receipt %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return model.Receipt{}, fmt.Errorf("get receipt: %w", err)
	}
	return receipt, nil
}

// RecentReceipts returns receipts newest first, optionally limited to one plate.
func (s *Store) RecentReceipts(ctx context.Context, plate string, limit int) ([]model.Receipt, error) {
	if s.db == nil {
		return nil, fmt.Errorf("store not initialized")
	}

	if limit <= 0 {
		limit = 50
	}

	query := receiptSelect
	var args []interface{}
	if plate != "" {
		query += ` WHERE plate = ?`
		args = append(args, plate)
	}
	query += ` ORDER BY number DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query+";", args...)
	if err != nil {
		return nil, fmt.Errorf("query receipts: %w", err)
	}
	defer rows.Close()

	receipts := make([]model.Receipt, 0, limit)
	for rows.Next() {
		receipt, err := scanReceipt(rows)
		if err != nil {
			return nil, fmt.Errorf("scan receipt: %w", err)
		}
		receipts = append(receipts, receipt)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate receipts: %w", err)
	}
	return receipts, nil
}

// UpsertAppConfig stores or updates a configuration key/value pair.
func (s *Store) UpsertAppConfig(ctx context.Context, key, value string) error {
	if s.db == nil {
		return fmt.Errorf("store not initialized")
	}

	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO app_config (key, value, updated_at) VALUES (?, ?, strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at;`,
		key,
		value,
	)
	if err != nil {
		return fmt.Errorf("upsert app config: %w", err)
	}
	return nil
}

// AppConfig returns all configuration entries as a map.
func (s *Store) AppConfig(ctx context.Context) (map[string]string, error) {
	if s.db == nil {
		return nil, fmt.Errorf("store not initialized")
	}

	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM app_config;`)
	if err != nil {
		return nil, fmt.Errorf("query app config: %w", err)
	}
	defer rows.Close()

	config := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan app config: %w", err)
		}
		config[key] = value
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate app config: %w", err)
	}

	return config, nil
}

const receiptSelect = `SELECT id, number, session_id, plate, category, size, owner_ref, settled_by,
	entry_timestamp, exit_timestamp, stay_duration, original_cost, adjustment, override,
	final_cost, is_flat_rate, rate_label, warnings, settled_at FROM receipts`

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (model.ParkingSession, error) {
	var (
		session  model.ParkingSession
		category string
	)
	if err := row.Scan(&session.ID, &session.Plate, &category, &session.EntryTimestamp,
		&session.OwnerRef, &session.Size, &session.AgreedPrice); err != nil {
		return model.ParkingSession{}, err
	}
	session.Category = model.Category(category)
	return session, nil
}

func scanReceipt(row scanner) (model.Receipt, error) {
	var (
		r           model.Receipt
		category    string
		size        sql.NullString
		warnings    sql.NullString
		settledAtTS string
	)
	if err := row.Scan(&r.ID, &r.Number, &r.SessionID, &r.Plate, &category, &size, &r.OwnerRef, &r.SettledBy,
		&r.EntryTimestamp, &r.ExitTimestamp, &r.StayDuration, &r.OriginalCost, &r.Adjustment, &r.Override,
		&r.FinalCost, &r.IsFlatRate, &r.RateLabel, &warnings, &settledAtTS); err != nil {
		return model.Receipt{}, err
	}

	r.Category = model.Category(category)
	r.Size = size.String
	if warnings.Valid && warnings.String != "" && warnings.String != "null" {
		if err := json.Unmarshal([]byte(warnings.String), &r.Warnings); err != nil {
			return model.Receipt{}, fmt.Errorf("decode receipt warnings: %w", err)
		}
	}

	settledAt, err := time.Parse(time.RFC3339Nano, settledAtTS)
	if err != nil {
		settledAt, _ = time.Parse("2006-01-02T15:04:05Z07:00", settledAtTS)
	}
	r.SettledAt = settledAt
	return r, nil
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
