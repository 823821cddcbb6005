package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"px-position-manager/internal/app"
	"px-position-manager/internal/config"
	"px-position-manager/internal/logging"
	"px-position-manager/internal/paper"
	"px-position-manager/internal/venue"

	"github.com/shopspring/decimal"
)

const defaultEnvFile = ".env"

const usage = `usage: pmctl [-config path] <command> [flags]

commands:
  bootstrap   create the paper market and fund the owner
  fund        mint the configured balances to the owner again
  book        replace the reference book: book -bid 150.1@2 -ask 150.3@1.5
  open        open the position (-side, -spread and -lots override config)
  rebalance   re-quote the position's free funds
  unwind      cancel all orders and return funds to the owner
  show        print the position, its seat and the book`

// levels collects price@size pairs in whole tokens.
type levels []string

func (l *levels) String() string { return strings.Join(*l, ",") }

func (l *levels) Set(v string) error {
	*l = append(*l, v)
	return nil
}

func main() {
	configPath := flag.String("config", "internal/config/config.yaml", "path to config file")
	flag.Usage = func() { fmt.Fprintln(os.Stderr, usage) }
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	if err := config.LoadEnv(defaultEnvFile); err != nil {
		fatal(err)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal(err)
	}
	cfg.Log.Console = true
	log := logging.New(cfg.Log)
	defer func() { _ = log.Sync() }()

	cmd, args := flag.Arg(0), flag.Args()[1:]
	if cmd == "open" {
		if err := applyOpenFlags(cfg, args); err != nil {
			fatal(err)
		}
	}

	application, err := app.New(cfg, log)
	if err != nil {
		fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runErr := run(ctx, application, cmd, args)
	if err := application.Close(); err != nil && runErr == nil {
		runErr = err
	}
	if runErr != nil {
		fatal(runErr)
	}
}

func run(ctx context.Context, a *app.App, cmd string, args []string) error {
	switch cmd {
	case "bootstrap":
		env, err := a.Bootstrap(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("program: %s\nowner: %s\nmarket: %s\nbase_mint: %s\nquote_mint: %s\n",
			a.ProgramID(), a.Owner(), env.Market, env.BaseMint, env.QuoteMint)
		return nil
	case "fund":
		return a.FundOwner(ctx)
	case "book":
		return setBook(ctx, a, args)
	case "open":
		if err := a.Open(ctx); err != nil {
			return err
		}
		return show(ctx, a)
	case "rebalance":
		placed, err := a.Rebalance(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("orders placed: %d\n", placed)
		return nil
	case "unwind":
		if err := a.Unwind(ctx); err != nil {
			return err
		}
		return show(ctx, a)
	case "show":
		return show(ctx, a)
	}
	return fmt.Errorf("unknown command %q\n%s", cmd, usage)
}

func show(ctx context.Context, a *app.App) error {
	s, err := a.Status(ctx)
	if err != nil {
		return err
	}
	fmt.Println(s.String())
	return nil
}

func applyOpenFlags(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("open", flag.ContinueOnError)
	side := fs.String("side", cfg.Position.Side, "bid or ask")
	spread := fs.Uint64("spread", cfg.Position.SpreadMargin, "spread margin in percent of mid")
	lots := fs.Uint64("lots", cfg.Position.BaseLots, "order size in base lots")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg.Position.Side = *side
	cfg.Position.SpreadMargin = *spread
	cfg.Position.BaseLots = *lots
	return nil
}

func setBook(ctx context.Context, a *app.App, args []string) error {
	var bids, asks levels
	fs := flag.NewFlagSet("book", flag.ContinueOnError)
	fs.Var(&bids, "bid", "bid level as price@size, repeatable")
	fs.Var(&asks, "ask", "ask level as price@size, repeatable")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if len(bids) == 0 && len(asks) == 0 {
		return errors.New("book needs at least one -bid or -ask")
	}
	scale, err := a.Scale()
	if err != nil {
		return err
	}
	var book venue.Ladder
	if book.Bids, err = parseLevels(scale, bids); err != nil {
		return err
	}
	if book.Asks, err = parseLevels(scale, asks); err != nil {
		return err
	}
	if err := a.SetReferenceBook(ctx, book); err != nil {
		return err
	}
	return show(ctx, a)
}

func parseLevels(scale paper.Scale, raw []string) ([]venue.LadderLevel, error) {
	out := make([]venue.LadderLevel, 0, len(raw))
	for _, r := range raw {
		px, sz, ok := strings.Cut(r, "@")
		if !ok {
			return nil, fmt.Errorf("level %q: want price@size", r)
		}
		price, err := decimal.NewFromString(strings.TrimSpace(px))
		if err != nil {
			return nil, fmt.Errorf("level %q: price: %w", r, err)
		}
		size, err := decimal.NewFromString(strings.TrimSpace(sz))
		if err != nil {
			return nil, fmt.Errorf("level %q: size: %w", r, err)
		}
		ticks, err := scale.PriceToTicks(price)
		if err != nil {
			return nil, fmt.Errorf("level %q: %w", r, err)
		}
		lots, err := scale.SizeToLots(size)
		if err != nil {
			return nil, fmt.Errorf("level %q: %w", r, err)
		}
		if ticks == 0 || lots == 0 {
			return nil, fmt.Errorf("level %q rounds to zero ticks or lots", r)
		}
		out = append(out, venue.LadderLevel{PriceInTicks: ticks, SizeInBaseLots: lots})
	}
	return out, nil
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
