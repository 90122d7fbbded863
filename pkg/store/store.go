// Package store is the bank-side record keeping: customer profiles, score
// bands and limit raise requests, backed by SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// ErrNotFound is returned when a customer lookup finds no row.
var ErrNotFound = errors.New("store: customer not found")

// Customer is one bank customer record. BirthDate uses YYYY-MM-DD.
type Customer struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	BirthDate   string  `json:"birth_date"`
	CreditLimit float64 `json:"credit_limit"`
	Score       float64 `json:"score"`
}

// RaiseRequest is a recorded limit raise request awaiting back-office review.
type RaiseRequest struct {
	ID              int64     `json:"id"`
	CustomerID      string    `json:"customer_id"`
	RequestedAmount float64   `json:"requested_amount"`
	Status          string    `json:"status"`
	CreatedAt       time.Time `json:"created_at"`
}

// Store wraps the SQLite database.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

// Config holds store configuration.
type Config struct {
	// DBPath is the SQLite file; ":memory:" is accepted for tests.
	DBPath string
	// Seed loads the demo customer set into an empty database.
	Seed   bool
	Logger zerolog.Logger
}

// New opens (and if needed creates) the database.
func New(cfg Config) (*Store, error) {
	if cfg.DBPath == "" {
		return nil, errors.New("database path is required")
	}

	db, err := sql.Open("sqlite3", cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL for better concurrency under the serve command.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &Store{db: db, logger: cfg.Logger}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	if cfg.Seed {
		if err := s.seed(); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to seed database: %w", err)
		}
	}

	s.logger.Info().Str("path", cfg.DBPath).Msg("Store initialized")

	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS customers (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			birth_date TEXT NOT NULL,
			credit_limit REAL NOT NULL DEFAULT 0,
			score REAL NOT NULL DEFAULT 0
		);

		CREATE TABLE IF NOT EXISTS score_bands (
			min_score REAL NOT NULL,
			max_score REAL NOT NULL,
			limit_cap REAL NOT NULL
		);

		CREATE TABLE IF NOT EXISTS raise_requests (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			customer_id TEXT NOT NULL,
			requested_amount REAL NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			created_at INTEGER NOT NULL,
			FOREIGN KEY (customer_id) REFERENCES customers(id)
		);
		CREATE INDEX IF NOT EXISTS idx_raise_customer ON raise_requests(customer_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// seed loads the demo customers and default score bands. It is a no-op when
// customers already exist.
func (s *Store) seed() error {
	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM customers").Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	customers := []Customer{
		{ID: "12345678900", Name: "Ana Souza", BirthDate: "1990-05-15", CreditLimit: 5000, Score: 650},
		{ID: "98765432100", Name: "Carlos Lima", BirthDate: "1985-08-22", CreditLimit: 12000, Score: 720},
	}
	for _, c := range customers {
		if _, err := tx.Exec(
			"INSERT INTO customers (id, name, birth_date, credit_limit, score) VALUES (?, ?, ?, ?, ?)",
			c.ID, c.Name, c.BirthDate, c.CreditLimit, c.Score,
		); err != nil {
			return err
		}
	}

	bands := [][3]float64{
		{0, 299, 1000},
		{300, 499, 5000},
		{500, 699, 10000},
		{700, 849, 20000},
		{850, 1000, 50000},
	}
	for _, band := range bands {
		if _, err := tx.Exec(
			"INSERT INTO score_bands (min_score, max_score, limit_cap) VALUES (?, ?, ?)",
			band[0], band[1], band[2],
		); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	s.logger.Info().Int("customers", len(customers)).Msg("Demo data seeded")
	return nil
}

// LookupByID fetches a customer by national ID.
func (s *Store) LookupByID(ctx context.Context, id string) (*Customer, error) {
	var c Customer
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, birth_date, credit_limit, score FROM customers WHERE id = ?", id,
	).Scan(&c.ID, &c.Name, &c.BirthDate, &c.CreditLimit, &c.Score)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up customer: %w", err)
	}
	return &c, nil
}

// Authenticate checks the ID and birth date pair. A missing customer and a
// wrong birth date are indistinguishable to the caller.
func (s *Store) Authenticate(ctx context.Context, id, birthDate string) (*Customer, error) {
	c, err := s.LookupByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if c.BirthDate != birthDate {
		return nil, ErrNotFound
	}
	return c, nil
}

// UpdateScore persists a freshly computed score, clamped to [0, 1000].
func (s *Store) UpdateScore(ctx context.Context, id string, score float64) error {
	if score < 0 {
		score = 0
	}
	if score > 1000 {
		score = 1000
	}

	res, err := s.db.ExecContext(ctx, "UPDATE customers SET score = ? WHERE id = ?", score, id)
	if err != nil {
		return fmt.Errorf("failed to update score: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	s.logger.Debug().Str("customer_id", id).Float64("score", score).Msg("Score updated")
	return nil
}

// UpdateLimit persists a new credit limit.
func (s *Store) UpdateLimit(ctx context.Context, id string, limit float64) error {
	res, err := s.db.ExecContext(ctx, "UPDATE customers SET credit_limit = ? WHERE id = ?", limit, id)
	if err != nil {
		return fmt.Errorf("failed to update credit limit: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	s.logger.Debug().Str("customer_id", id).Float64("limit", limit).Msg("Credit limit updated")
	return nil
}

// MaxLimitForScore returns the configured limit cap for a score, zero when no
// band matches.
func (s *Store) MaxLimitForScore(ctx context.Context, score float64) (float64, error) {
	var limitCap float64
	err := s.db.QueryRowContext(ctx,
		"SELECT limit_cap FROM score_bands WHERE ? >= min_score AND ? <= max_score ORDER BY limit_cap DESC LIMIT 1",
		score, score,
	).Scan(&limitCap)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to resolve score band: %w", err)
	}
	return limitCap, nil
}

// RecordRaiseRequest stores a pending limit raise request and returns its ID.
func (s *Store) RecordRaiseRequest(ctx context.Context, customerID string, amount float64) (int64, error) {
	if _, err := s.LookupByID(ctx, customerID); err != nil {
		return 0, err
	}

	res, err := s.db.ExecContext(ctx,
		"INSERT INTO raise_requests (customer_id, requested_amount, status, created_at) VALUES (?, ?, 'pending', ?)",
		customerID, amount, time.Now().Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to record raise request: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	s.logger.Info().
		Str("customer_id", customerID).
		Float64("amount", amount).
		Int64("request_id", id).
		Msg("Limit raise request recorded")

	return id, nil
}

// RaiseRequests lists a customer's raise requests, newest first.
func (s *Store) RaiseRequests(ctx context.Context, customerID string) ([]RaiseRequest, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, customer_id, requested_amount, status, created_at FROM raise_requests WHERE customer_id = ? ORDER BY id DESC",
		customerID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list raise requests: %w", err)
	}
	defer rows.Close()

	var requests []RaiseRequest
	for rows.Next() {
		var r RaiseRequest
		var createdAt int64
		if err := rows.Scan(&r.ID, &r.CustomerID, &r.RequestedAmount, &r.Status, &createdAt); err != nil {
			return nil, err
		}
		r.CreatedAt = time.Unix(createdAt, 0)
		requests = append(requests, r)
	}
	return requests, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
