// Package sqlite stores the client's instrument records, the source of the
// reconciler's initial snapshot.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	"notes-pricing/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

// NoteStore is the notes table. Records keep the position they were first
// inserted at.
type NoteStore struct {
	db *sql.DB
}

// Open opens (or creates) the database at path in WAL mode and creates the schema.
func Open(path string) (*NoteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened database at %s", path)
	return &NoteStore{db: db}, nil
}

// DB returns the underlying sql.DB for health checks.
func (s *NoteStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *NoteStore) Close() error { return s.db.Close() }

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS notes (
			isin       TEXT    NOT NULL PRIMARY KEY,
			grp        TEXT    NOT NULL,
			currency   TEXT    NOT NULL,
			status     TEXT    NOT NULL,
			bid_price  TEXT    NOT NULL,
			ask_price  TEXT    NOT NULL,
			bid_spread INTEGER NOT NULL,
			ask_spread INTEGER NOT NULL,
			position   REAL    NOT NULL,
			circle     REAL    NOT NULL,
			mark_price TEXT    NOT NULL,
			fair_price TEXT    NOT NULL,
			maturity   TEXT    NOT NULL,
			sort_order INTEGER NOT NULL
		);
	`)
	return err
}

// Upsert inserts or updates records in one transaction. New records are
// appended after the existing ones; updated records keep their position.
func (s *NoteStore) Upsert(ctx context.Context, records []model.InstrumentRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO notes
			(isin, grp, currency, status, bid_price, ask_price, bid_spread, ask_spread,
			 position, circle, mark_price, fair_price, maturity, sort_order)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?,
			(SELECT COALESCE(MAX(sort_order), -1) + 1 FROM notes))
		ON CONFLICT(isin) DO UPDATE SET
			grp = excluded.grp,
			currency = excluded.currency,
			status = excluded.status,
			bid_price = excluded.bid_price,
			ask_price = excluded.ask_price,
			bid_spread = excluded.bid_spread,
			ask_spread = excluded.ask_spread,
			position = excluded.position,
			circle = excluded.circle,
			mark_price = excluded.mark_price,
			fair_price = excluded.fair_price,
			maturity = excluded.maturity
	`)
	if err != nil {
		return fmt.Errorf("sqlite prepare: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		_, err := stmt.ExecContext(ctx,
			string(r.ISIN), r.Group, r.Currency, string(r.Status),
			r.BidPrice.String(), r.AskPrice.String(), r.BidSpread, r.AskSpread,
			r.Position, r.Circle, r.MarkPrice.String(), r.FairPrice.String(), r.Maturity,
		)
		if err != nil {
			return fmt.Errorf("sqlite upsert %s: %w", r.ISIN, err)
		}
	}
	return tx.Commit()
}

// LoadAll returns every record in insertion order.
func (s *NoteStore) LoadAll(ctx context.Context) ([]model.InstrumentRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT isin, grp, currency, status, bid_price, ask_price, bid_spread, ask_spread,
		       position, circle, mark_price, fair_price, maturity
		FROM notes
		ORDER BY sort_order ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("sqlite query notes: %w", err)
	}
	defer rows.Close()

	var out []model.InstrumentRecord
	for rows.Next() {
		var (
			r                    model.InstrumentRecord
			isin, status         string
			bid, ask, mark, fair string
		)
		if err := rows.Scan(&isin, &r.Group, &r.Currency, &status, &bid, &ask,
			&r.BidSpread, &r.AskSpread, &r.Position, &r.Circle, &mark, &fair, &r.Maturity); err != nil {
			return nil, fmt.Errorf("sqlite scan notes: %w", err)
		}
		r.ISIN = model.InstrumentID(isin)
		r.Status = model.NoteStatus(status)
		for _, p := range []struct {
			dst *model.Price
			src string
		}{{&r.BidPrice, bid}, {&r.AskPrice, ask}, {&r.MarkPrice, mark}, {&r.FairPrice, fair}} {
			if *p.dst, err = model.ParsePrice(p.src); err != nil {
				return nil, fmt.Errorf("sqlite note %s: %w", isin, err)
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Delete removes the record for id. It reports whether a row was deleted.
func (s *NoteStore) Delete(ctx context.Context, id model.InstrumentID) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM notes WHERE isin = ?`, string(id))
	if err != nil {
		return false, fmt.Errorf("sqlite delete %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// Count returns the number of stored records.
func (s *NoteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM notes`).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite count notes: %w", err)
	}
	return n, nil
}
