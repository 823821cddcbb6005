package app

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"px-position-manager/internal/alerts"
	"px-position-manager/internal/config"
	"px-position-manager/internal/feed"
	"px-position-manager/internal/journal"
	"px-position-manager/internal/ledger"
	"px-position-manager/internal/ledger/system"
	"px-position-manager/internal/ledger/token"
	"px-position-manager/internal/metrics"
	"px-position-manager/internal/paper"
	"px-position-manager/internal/processor"
	"px-position-manager/internal/state"
	"px-position-manager/internal/state/sqlite"
	"px-position-manager/internal/venue"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"lukechampine.com/uint128"
)

type App struct {
	cfg       *config.Config
	log       *zap.Logger
	store     state.Store
	bank      *ledger.Bank
	programID solana.PublicKey
	owner     solana.PrivateKey
	env       *paper.Environment
	wallet    *paper.Wallet
	metrics   *metrics.Metrics
	prom      *metrics.Prometheus
	alerts    *alerts.Telegram
	journal   *journal.Writer
	orderIDs  func() uint128.Uint128

	opsMu          sync.RWMutex
	paused         bool
	operatorWarned bool
}

func New(cfg *config.Config, log *zap.Logger) (*App, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.State.SQLitePath), 0o755); err != nil {
		return nil, err
	}
	store, err := sqlite.New(cfg.State.SQLitePath)
	if err != nil {
		return nil, err
	}
	a, err := newApp(cfg, log, store)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return a, nil
}

func newApp(cfg *config.Config, log *zap.Logger, store state.Store) (*App, error) {
	if log == nil {
		log = zap.NewNop()
	}
	programID, err := resolveProgramID(cfg.Ledger)
	if err != nil {
		return nil, err
	}
	rent := ledger.DefaultRent()
	if cfg.Ledger.LamportsPerByteYear > 0 {
		rent.LamportsPerByteYear = cfg.Ledger.LamportsPerByteYear
	}
	if cfg.Ledger.ExemptionYears > 0 {
		rent.ExemptionYears = cfg.Ledger.ExemptionYears
	}
	bank := ledger.NewBank(log.Named("ledger"), ledger.WithStore(ledger.NewKVStore(store)), ledger.WithRent(rent))
	for _, p := range []ledger.Program{system.Program{}, token.Program{}, venue.Program{}, processor.New(programID)} {
		if err := bank.Install(p); err != nil {
			return nil, err
		}
	}
	owner, err := loadOrCreateKeypair(cfg.Position.OwnerKeypair)
	if err != nil {
		return nil, fmt.Errorf("owner keypair: %w", err)
	}

	m := metrics.NewNoop()
	var prom *metrics.Prometheus
	if cfg.Metrics.Enabled {
		prom = metrics.NewPrometheus()
		m = prom.Metrics
	}
	jw, err := journal.New(cfg.Journal, log.Named("journal"))
	if err != nil {
		return nil, err
	}
	a := &App{
		cfg:       cfg,
		log:       log,
		store:     store,
		bank:      bank,
		programID: programID,
		owner:     owner,
		metrics:   m,
		prom:      prom,
		alerts:    alerts.NewTelegram(cfg.Telegram, log),
		journal:   jw,
		orderIDs:  newClientOrderID,
	}
	if err := a.restoreEnvironment(context.Background()); err != nil {
		_ = jw.Close()
		return nil, err
	}
	log.Info("position manager ready",
		zap.String("program_id", programID.String()),
		zap.String("owner", owner.PublicKey().String()),
		zap.Bool("bootstrapped", a.env != nil),
	)
	return a, nil
}

// resolveProgramID prefers an explicit address. Otherwise the address is the
// sha256 of the seed, which keeps it stable across restarts.
func resolveProgramID(cfg config.LedgerConfig) (solana.PublicKey, error) {
	if id := strings.TrimSpace(cfg.ProgramID); id != "" {
		key, err := solana.PublicKeyFromBase58(id)
		if err != nil {
			return solana.PublicKey{}, fmt.Errorf("ledger.program_id: %w", err)
		}
		return key, nil
	}
	if cfg.ProgramSeed == "" {
		return solana.PublicKey{}, errors.New("ledger.program_id or ledger.program_seed is required")
	}
	sum := sha256.Sum256([]byte(cfg.ProgramSeed))
	return solana.PublicKeyFromBytes(sum[:]), nil
}

func newClientOrderID() uint128.Uint128 {
	u := uuid.New()
	return uint128.FromBytes(u[:])
}

func (a *App) ProgramID() solana.PublicKey {
	return a.programID
}

func (a *App) Owner() solana.PublicKey {
	return a.owner.PublicKey()
}

func (a *App) Close() error {
	var errs []error
	if err := a.journal.Close(); err != nil {
		errs = append(errs, err)
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Run keeps the position quoted: it mirrors the feed into the paper book and
// rebalances on every interval until ctx ends.
func (a *App) Run(ctx context.Context) error {
	defer a.Close()
	if a.env == nil {
		return fmt.Errorf("%w: run bootstrap first", paper.ErrNotBootstrapped)
	}
	a.journal.Start(ctx)
	a.startMetricsServer(ctx)
	a.startFeed(ctx)
	a.startOperator(ctx)

	ticker := time.NewTicker(a.cfg.Bot.RebalanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := a.tick(ctx); err != nil {
				a.log.Warn("rebalance tick failed", zap.Error(err))
			}
		}
	}
}

func (a *App) tick(ctx context.Context) error {
	if a.isPaused() {
		return nil
	}
	open, err := a.positionOpen(ctx)
	if err != nil || !open {
		return err
	}
	_, err = a.Rebalance(ctx)
	return err
}

func (a *App) startMetricsServer(ctx context.Context) {
	if a.prom == nil {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.prom.Handler())
	srv := &http.Server{Addr: a.cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	go func() {
		a.log.Info("metrics listening", zap.String("addr", a.cfg.Metrics.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Warn("metrics server stopped", zap.Error(err))
		}
	}()
}

func (a *App) startFeed(ctx context.Context) {
	if !a.cfg.Feed.Enabled {
		return
	}
	fc := a.cfg.Feed
	client := feed.NewClient(fc.URL, fc.ReconnectDelay, fc.PingInterval, a.log.Named("feed"))
	client.OnReconnect(func() { a.metrics.FeedReconnects.Inc() })
	mirror := feed.NewMirror(client, paper.Bound{Env: a.env, Ledger: a.bank}, a.env.Scale(), fc.Coin, fc.Depth, a.log.Named("mirror"))
	mirror.OnUpdate(func(upd feed.Update) {
		top := journal.BookTop{Time: time.UnixMilli(upd.TimeMS).UTC(), Market: a.env.Market.String(), Levels: len(upd.Ladder.Bids) + len(upd.Ladder.Asks)}
		top.BestBid, top.BestAsk = bestPrices(upd.Ladder)
		a.journal.RecordBookTop(top)
	})
	go func() {
		if fc.InfoURL != "" {
			info := feed.NewInfoClient(fc.InfoURL, fc.InfoTimeout, a.log.Named("info"))
			if err := mirror.Seed(ctx, info); err != nil {
				a.log.Warn("book snapshot failed", zap.Error(err))
			}
		}
		if err := mirror.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("book feed stopped", zap.Error(err))
		}
	}()
}

func bestPrices(l venue.Ladder) (bid, ask uint64) {
	if len(l.Bids) > 0 {
		bid = l.Bids[0].PriceInTicks
	}
	if len(l.Asks) > 0 {
		ask = l.Asks[0].PriceInTicks
	}
	return bid, ask
}

func (a *App) isPaused() bool {
	a.opsMu.RLock()
	defer a.opsMu.RUnlock()
	return a.paused
}

func (a *App) setPaused(paused bool) bool {
	a.opsMu.Lock()
	defer a.opsMu.Unlock()
	prev := a.paused
	a.paused = paused
	return prev != paused
}
