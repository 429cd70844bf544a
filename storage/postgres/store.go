// Package postgres persists pool events and pool snapshots.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/defistate/defistate-clamm-go/protocols/clamm"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema creates the tables used by Store. Amounts are NUMERIC so that 256-bit values
// fit without loss.
const Schema = `
CREATE TABLE IF NOT EXISTS pool_events (
	pool_address   TEXT     NOT NULL,
	sequence       BIGINT   NOT NULL,
	kind           TEXT     NOT NULL,
	sender         TEXT     NOT NULL,
	recipient      TEXT     NOT NULL,
	tick_lower     INTEGER  NOT NULL,
	tick_upper     INTEGER  NOT NULL,
	liquidity      NUMERIC,
	amount0        NUMERIC  NOT NULL,
	amount1        NUMERIC  NOT NULL,
	sqrt_price_x96 NUMERIC  NOT NULL,
	tick           INTEGER  NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (pool_address, sequence)
);

CREATE TABLE IF NOT EXISTS pool_snapshots (
	pool_address   TEXT     PRIMARY KEY,
	token0         TEXT     NOT NULL,
	token1         TEXT     NOT NULL,
	fee            INTEGER  NOT NULL,
	tick_spacing   INTEGER  NOT NULL,
	sequence       BIGINT   NOT NULL,
	tick           INTEGER  NOT NULL,
	sqrt_price_x96 NUMERIC  NOT NULL,
	liquidity      NUMERIC  NOT NULL,
	view           JSONB    NOT NULL,
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

const insertEvent = `
	INSERT INTO pool_events (
		pool_address, sequence, kind, sender, recipient, tick_lower, tick_upper,
		liquidity, amount0, amount1, sqrt_price_x96, tick
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8::numeric, $9::numeric, $10::numeric, $11::numeric, $12)
	ON CONFLICT (pool_address, sequence) DO NOTHING
`

// older snapshots never overwrite newer ones
const upsertSnapshot = `
	INSERT INTO pool_snapshots (
		pool_address, token0, token1, fee, tick_spacing, sequence, tick,
		sqrt_price_x96, liquidity, view, updated_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8::numeric, $9::numeric, $10, now())
	ON CONFLICT (pool_address)
	DO UPDATE SET
		sequence = EXCLUDED.sequence,
		tick = EXCLUDED.tick,
		sqrt_price_x96 = EXCLUDED.sqrt_price_x96,
		liquidity = EXCLUDED.liquidity,
		view = EXCLUDED.view,
		updated_at = now()
	WHERE pool_snapshots.sequence <= EXCLUDED.sequence
`

// Store provides Postgres persistence for pools.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// EnsureSchema creates the tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, Schema)
	return err
}

// numeric renders an optional amount as a NUMERIC literal; nil stays NULL.
func numeric(x *big.Int) any {
	if x == nil {
		return nil
	}
	return x.String()
}

func eventArgs(e clamm.Event) []any {
	return []any{
		e.Pool.Hex(),
		int64(e.Sequence),
		string(e.Kind),
		e.Sender.Hex(),
		e.Recipient.Hex(),
		e.TickLower,
		e.TickUpper,
		numeric(e.Liquidity),
		numericOrZero(e.Amount0),
		numericOrZero(e.Amount1),
		numericOrZero(e.SqrtPriceX96),
		e.Tick,
	}
}

func numericOrZero(x *big.Int) string {
	if x == nil {
		return "0"
	}
	return x.String()
}

func snapshotArgs(v clamm.PoolView) ([]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal view of %s: %w", v.Address.Hex(), err)
	}
	return []any{
		v.Address.Hex(),
		v.Token0.Hex(),
		v.Token1.Hex(),
		int64(v.Fee),
		v.TickSpacing,
		int64(v.Sequence),
		v.Tick,
		numericOrZero(v.SqrtPriceX96),
		numericOrZero(v.Liquidity),
		raw,
	}, nil
}

// AppendEvents inserts events in one batch. Events already stored are skipped.
func (s *Store) AppendEvents(ctx context.Context, events []clamm.Event) error {
	if len(events) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, e := range events {
		batch.Queue(insertEvent, eventArgs(e)...)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range events {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// UpsertPoolSnapshots stores the latest view of each pool.
func (s *Store) UpsertPoolSnapshots(ctx context.Context, views []clamm.PoolView) error {
	if len(views) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, v := range views {
		args, err := snapshotArgs(v)
		if err != nil {
			return err
		}
		batch.Queue(upsertSnapshot, args...)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range views {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// LoadPoolSnapshot returns the stored view of a pool.
func (s *Store) LoadPoolSnapshot(ctx context.Context, address string) (clamm.PoolView, bool, error) {
	var raw []byte
	row := s.pool.QueryRow(ctx, `SELECT view FROM pool_snapshots WHERE pool_address=$1`, address)
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return clamm.PoolView{}, false, nil
		}
		return clamm.PoolView{}, false, err
	}
	var v clamm.PoolView
	if err := json.Unmarshal(raw, &v); err != nil {
		return clamm.PoolView{}, false, fmt.Errorf("decode snapshot of %s: %w", address, err)
	}
	return v, true, nil
}

// EventWriter is the subset of Store used by BufferedSink.
type EventWriter interface {
	AppendEvents(ctx context.Context, events []clamm.Event) error
}

// BufferedSink collects published events in memory until Flush writes them. Pools
// publish without a context, so the database round trip is deferred to the caller.
type BufferedSink struct {
	writer EventWriter

	mu  sync.Mutex
	buf []clamm.Event
}

func NewBufferedSink(writer EventWriter) *BufferedSink {
	return &BufferedSink{writer: writer}
}

func (b *BufferedSink) Publish(e clamm.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, e)
	return nil
}

// Pending returns the number of events waiting to be flushed.
func (b *BufferedSink) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buf)
}

// Flush writes every buffered event. On failure the events stay buffered.
func (b *BufferedSink) Flush(ctx context.Context) error {
	b.mu.Lock()
	pending := b.buf
	b.buf = nil
	b.mu.Unlock()

	if err := b.writer.AppendEvents(ctx, pending); err != nil {
		b.mu.Lock()
		b.buf = append(pending, b.buf...)
		b.mu.Unlock()
		return fmt.Errorf("flush %d events: %w", len(pending), err)
	}
	return nil
}
