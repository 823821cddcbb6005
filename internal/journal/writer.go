// Package journal records every position operation and the book it was
// priced against into Postgres. Timescale hypertables are used when the
// extension is available.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"px-position-manager/internal/config"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

const writeTimeout = 3 * time.Second

// Entry is one operation as the operator submitted it and how it ended.
type Entry struct {
	Time         time.Time
	Operation    string
	Owner        string
	Market       string
	Position     string
	Side         string
	SpreadMargin uint64
	BaseLots     uint64
	BestBid      uint64
	BestAsk      uint64
	OpenOrders   int
	ErrKind      string
	Error        string
}

// BookTop is the top of the paper book after a feed update.
type BookTop struct {
	Time    time.Time
	Market  string
	BestBid uint64
	BestAsk uint64
	Levels  int
}

type Writer struct {
	db       *sql.DB
	log      *zap.Logger
	schema   string
	table    string
	entries  chan Entry
	tops     chan BookTop
	started  atomic.Bool
	dropOps  atomic.Uint64
	dropTops atomic.Uint64
}

// New connects to the journal database. A disabled journal yields a nil
// writer; every method is a no-op on nil.
func New(cfg config.JournalConfig, log *zap.Logger) (*Writer, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("journal dsn is required")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	w := newWriter(db, log, cfg)
	if err := w.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return w, nil
}

func newWriter(db *sql.DB, log *zap.Logger, cfg config.JournalConfig) *Writer {
	if log == nil {
		log = zap.NewNop()
	}
	schema := strings.TrimSpace(cfg.Schema)
	if schema == "" {
		schema = "public"
	}
	table := strings.TrimSpace(cfg.Table)
	if table == "" {
		table = "position_operations"
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Writer{
		db:      db,
		log:     log,
		schema:  schema,
		table:   table,
		entries: make(chan Entry, queueSize),
		tops:    make(chan BookTop, queueSize),
	}
}

func (w *Writer) Start(ctx context.Context) {
	if w == nil {
		return
	}
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	go w.run(ctx)
}

func (w *Writer) Close() error {
	if w == nil || w.db == nil {
		return nil
	}
	return w.db.Close()
}

// Record queues an entry. A full queue drops it and warns once.
func (w *Writer) Record(e Entry) {
	if w == nil {
		return
	}
	select {
	case w.entries <- e:
	default:
		if w.dropOps.Add(1) == 1 {
			w.log.Warn("journal operation queue full")
		}
	}
}

func (w *Writer) RecordBookTop(top BookTop) {
	if w == nil {
		return
	}
	select {
	case w.tops <- top:
	default:
		if w.dropTops.Add(1) == 1 {
			w.log.Warn("journal book queue full")
		}
	}
}

// Dropped reports how many entries and book tops were discarded.
func (w *Writer) Dropped() (entries, tops uint64) {
	if w == nil {
		return 0, 0
	}
	return w.dropOps.Load(), w.dropTops.Load()
}

func (w *Writer) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-w.entries:
			w.writeEntry(ctx, e)
		case top := <-w.tops:
			w.writeBookTop(ctx, top)
		}
	}
}

func (w *Writer) ensureSchema(ctx context.Context) error {
	if w.schema != "public" {
		if err := w.exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", w.schema)); err != nil {
			return err
		}
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		operation TEXT NOT NULL,
		owner TEXT NOT NULL,
		market TEXT NOT NULL,
		position TEXT NOT NULL,
		side TEXT NOT NULL DEFAULT '',
		spread_margin BIGINT NOT NULL DEFAULT 0,
		base_lots BIGINT NOT NULL DEFAULT 0,
		best_bid BIGINT NOT NULL DEFAULT 0,
		best_ask BIGINT NOT NULL DEFAULT 0,
		open_orders INTEGER NOT NULL DEFAULT 0,
		err_kind TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT ''
	)`, w.qualified(w.table))); err != nil {
		return err
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		market TEXT NOT NULL,
		best_bid BIGINT NOT NULL,
		best_ask BIGINT NOT NULL,
		levels INTEGER NOT NULL,
		PRIMARY KEY (ts, market)
	)`, w.qualified("book_tops"))); err != nil {
		return err
	}
	if err := w.exec(ctx, "CREATE EXTENSION IF NOT EXISTS timescaledb"); err != nil {
		w.log.Warn("timescale extension ensure failed", zap.Error(err))
		return nil
	}
	for _, table := range []string{w.table, "book_tops"} {
		query := fmt.Sprintf("SELECT create_hypertable('%s', 'ts', if_not_exists => TRUE)", w.qualified(table))
		if err := w.exec(ctx, query); err != nil {
			w.log.Warn("timescale hypertable create failed", zap.String("table", table), zap.Error(err))
		}
	}
	return nil
}

func (w *Writer) writeEntry(ctx context.Context, e Entry) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, operation, owner, market, position, side, spread_margin, base_lots,
		best_bid, best_ask, open_orders, err_kind, error
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`, w.qualified(w.table))
	if _, err := w.db.ExecContext(ctx, query,
		e.Time,
		e.Operation,
		e.Owner,
		e.Market,
		e.Position,
		e.Side,
		int64(e.SpreadMargin),
		int64(e.BaseLots),
		int64(e.BestBid),
		int64(e.BestAsk),
		e.OpenOrders,
		e.ErrKind,
		e.Error,
	); err != nil {
		w.log.Warn("journal operation insert failed", zap.Error(err))
	}
}

func (w *Writer) writeBookTop(ctx context.Context, top BookTop) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (ts, market, best_bid, best_ask, levels)
	VALUES ($1,$2,$3,$4,$5)
	ON CONFLICT (ts, market) DO UPDATE SET
		best_bid = EXCLUDED.best_bid,
		best_ask = EXCLUDED.best_ask,
		levels = EXCLUDED.levels`, w.qualified("book_tops"))
	if _, err := w.db.ExecContext(ctx, query, top.Time, top.Market, int64(top.BestBid), int64(top.BestAsk), top.Levels); err != nil {
		w.log.Warn("journal book upsert failed", zap.Error(err))
	}
}

func (w *Writer) exec(ctx context.Context, query string) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_, err := w.db.ExecContext(ctx, query)
	return err
}

func (w *Writer) qualified(name string) string {
	return w.schema + "." + name
}
