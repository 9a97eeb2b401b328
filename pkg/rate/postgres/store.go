// Package postgres persists measurement results in PostgreSQL so runs can be
// compared over time.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/MrWong99/cadence/pkg/rate"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Schema is the SQL DDL for the rate_results table. Execute it via
// [Store.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS rate_results (
    id              BIGSERIAL PRIMARY KEY,
    label           TEXT NOT NULL DEFAULT '',
    started_at      TIMESTAMPTZ NOT NULL,
    ended_at        TIMESTAMPTZ NOT NULL,
    remote          TEXT NOT NULL DEFAULT '',
    filter          TEXT NOT NULL DEFAULT '',
    measured_sent   BIGINT,
    measured_recv   BIGINT,
    kinds           JSONB NOT NULL DEFAULT '{}',
    summary         TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_rate_results_label ON rate_results(label, started_at);
`

// DB is the database interface used by [Store]. Both *pgxpool.Pool and
// *pgx.Conn satisfy it.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Record is a stored [rate.Result] with its row ID.
type Record struct {
	ID int64
	*rate.Result
}

// Store writes and reads measurement results.
type Store struct {
	db DB
}

// New returns a [Store] on db. Call [Store.Migrate] before first use.
func New(db DB) *Store {
	return &Store{db: db}
}

// Connect opens a single connection to dsn and returns a [Store] on it
// together with a close function.
func Connect(ctx context.Context, dsn string) (*Store, func(context.Context) error, error) {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("rate/postgres: connect: %w", err)
	}
	return New(conn), conn.Close, nil
}

// Migrate executes [Schema].
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("rate/postgres: migrate: %w", err)
	}
	return nil
}

// Save inserts res and returns the new row ID.
func (s *Store) Save(ctx context.Context, res *rate.Result) (int64, error) {
	if res == nil {
		return 0, fmt.Errorf("rate/postgres: save: nil result")
	}
	kinds, err := json.Marshal(res.Kinds)
	if err != nil {
		return 0, fmt.Errorf("rate/postgres: marshal kinds: %w", err)
	}

	var sent, recv *int64
	if res.Measured != nil {
		sent, recv = &res.Measured.BytesSent, &res.Measured.BytesReceived
	}
	var remote string
	if res.Remote.IP != "" {
		remote = res.Remote.String()
	}

	const query = `
		INSERT INTO rate_results (
			label, started_at, ended_at, remote, filter,
			measured_sent, measured_recv, kinds, summary
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING id`

	var id int64
	err = s.db.QueryRow(ctx, query,
		res.Label, res.Start, res.End, remote, res.Filter,
		sent, recv, kinds, res.Summary(),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("rate/postgres: save: %w", err)
	}
	return id, nil
}

// List returns the most recent results for label, newest first. An empty
// label matches every result. A non-positive limit defaults to 100.
func (s *Store) List(ctx context.Context, label string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 100
	}
	const query = `
		SELECT id, label, started_at, ended_at, filter,
		       measured_sent, measured_recv, kinds
		FROM rate_results
		WHERE $1 = '' OR label = $1
		ORDER BY started_at DESC, id DESC
		LIMIT $2`

	rows, err := s.db.Query(ctx, query, label, limit)
	if err != nil {
		return nil, fmt.Errorf("rate/postgres: list: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			rec        Record
			res        rate.Result
			start, end time.Time
			sent, recv *int64
			kinds      []byte
		)
		if err := rows.Scan(&rec.ID, &res.Label, &start, &end, &res.Filter, &sent, &recv, &kinds); err != nil {
			return nil, fmt.Errorf("rate/postgres: scan: %w", err)
		}
		res.Start, res.End = start, end
		if sent != nil && recv != nil {
			res.Measured = &rate.Counters{BytesSent: *sent, BytesReceived: *recv}
		}
		if err := json.Unmarshal(kinds, &res.Kinds); err != nil {
			return nil, fmt.Errorf("rate/postgres: unmarshal kinds for %d: %w", rec.ID, err)
		}
		rec.Result = &res
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rate/postgres: list: %w", err)
	}
	return out, nil
}

// Average aggregates the most recent limit results for label.
func (s *Store) Average(ctx context.Context, label string, limit int) (*rate.Result, error) {
	recs, err := s.List(ctx, label, limit)
	if err != nil {
		return nil, err
	}
	results := make([]*rate.Result, len(recs))
	for i, r := range recs {
		results[i] = r.Result
	}
	return rate.Aggregate(results), nil
}
