package journal

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Entry is one crank transaction as the cranker saw it land.
type Entry struct {
	Market    solana.PublicKey
	Signature solana.Signature
	Slot      uint64
	Applied   uint64
	Skipped   uint64
	Reward    uint64
	Pending   uint64
	CreatedAt time.Time
}

// Store keeps the crank journal in postgres.
type Store struct {
	db *DB
}

type DB struct {
	raw *sql.DB
}

type Tx struct {
	raw *sql.Tx
}

func (db *DB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return db.raw.ExecContext(ctx, rebind(query), args...)
}

func (db *DB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return db.raw.QueryContext(ctx, rebind(query), args...)
}

func (db *DB) BeginTx(ctx context.Context, opts *sql.TxOptions) (*Tx, error) {
	tx, err := db.raw.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &Tx{raw: tx}, nil
}

func (tx *Tx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return tx.raw.ExecContext(ctx, rebind(query), args...)
}

// rebind turns ? placeholders outside string literals into $n.
func rebind(query string) string {
	var out strings.Builder
	out.Grow(len(query) + 8)

	n := 1
	quoted := false
	for i := 0; i < len(query); i++ {
		ch := query[i]
		switch {
		case ch == '\'':
			out.WriteByte(ch)
			if quoted && i+1 < len(query) && query[i+1] == '\'' {
				out.WriteByte('\'')
				i++
				continue
			}
			quoted = !quoted
		case ch == '?' && !quoted:
			out.WriteByte('$')
			out.WriteString(strconv.Itoa(n))
			n++
		default:
			out.WriteByte(ch)
		}
	}
	return out.String()
}

func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetConnMaxIdleTime(30 * time.Second)
	db.SetMaxIdleConns(2)
	db.SetMaxOpenConns(4)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s := &Store{db: &DB{raw: db}}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.raw.Close()
}

func (s *Store) WithTx(ctx context.Context, fn func(*Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.raw.Rollback()
	}()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.raw.Commit()
}

func (s *Store) migrate(ctx context.Context) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS crank_journal (
			signature TEXT PRIMARY KEY,
			market TEXT NOT NULL,
			slot BIGINT NOT NULL,
			applied BIGINT NOT NULL,
			skipped BIGINT NOT NULL,
			reward NUMERIC(20, 0) NOT NULL,
			pending BIGINT NOT NULL,
			created_at BIGINT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_crank_journal_market ON crank_journal(market, created_at DESC);`,
		`CREATE TABLE IF NOT EXISTS crank_totals (
			market TEXT PRIMARY KEY,
			cranks BIGINT NOT NULL,
			applied BIGINT NOT NULL,
			reward NUMERIC(30, 0) NOT NULL,
			updated_at BIGINT NOT NULL
		);`,
	}
	for _, stmt := range ddl {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate crank journal: %w", err)
		}
	}
	return nil
}

// Record stores e and folds it into the per-market totals. Recording the same
// signature twice is a no-op.
func (s *Store) Record(ctx context.Context, e Entry) error {
	created := e.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	market := e.Market.String()
	reward := strconv.FormatUint(e.Reward, 10)

	return s.WithTx(ctx, func(tx *Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO crank_journal (signature, market, slot, applied, skipped, reward, pending, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (signature) DO NOTHING`,
			e.Signature.String(), market, int64(e.Slot), int64(e.Applied), int64(e.Skipped), reward, int64(e.Pending), created.UnixMilli(),
		)
		if err != nil {
			return fmt.Errorf("insert crank %s: %w", e.Signature, err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return nil
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO crank_totals (market, cranks, applied, reward, updated_at)
			VALUES (?, 1, ?, ?, ?)
			ON CONFLICT (market) DO UPDATE SET
				cranks = crank_totals.cranks + 1,
				applied = crank_totals.applied + EXCLUDED.applied,
				reward = crank_totals.reward + EXCLUDED.reward,
				updated_at = EXCLUDED.updated_at`,
			market, int64(e.Applied), reward, created.UnixMilli(),
		)
		if err != nil {
			return fmt.Errorf("update crank totals for %s: %w", market, err)
		}
		return nil
	})
}

// Recent returns up to limit entries for market, newest first.
func (s *Store) Recent(ctx context.Context, market solana.PublicKey, limit int) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT signature, slot, applied, skipped, reward::TEXT, pending, created_at
		FROM crank_journal
		WHERE market = ?
		ORDER BY created_at DESC
		LIMIT ?`, market.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("query crank journal: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			sig                             string
			slot, applied, skipped, pending int64
			reward                          string
			created                         int64
		)
		if err := rows.Scan(&sig, &slot, &applied, &skipped, &reward, &pending, &created); err != nil {
			return nil, err
		}
		e := Entry{
			Market:    market,
			Slot:      uint64(slot),
			Applied:   uint64(applied),
			Skipped:   uint64(skipped),
			Pending:   uint64(pending),
			CreatedAt: time.UnixMilli(created),
		}
		if e.Signature, err = solana.SignatureFromBase58(sig); err != nil {
			return nil, fmt.Errorf("decode signature %q: %w", sig, err)
		}
		if e.Reward, err = strconv.ParseUint(reward, 10, 64); err != nil {
			return nil, fmt.Errorf("decode reward %q: %w", reward, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
