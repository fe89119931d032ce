package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"github.com/jensholdgaard/event-sourced-account/internal/account"
	"github.com/jensholdgaard/event-sourced-account/internal/clock"
	"github.com/jensholdgaard/event-sourced-account/internal/config"
	"github.com/jensholdgaard/event-sourced-account/internal/eventsourcing"
	"github.com/jensholdgaard/event-sourced-account/internal/store"
	"github.com/jensholdgaard/event-sourced-account/internal/telemetry"

	// Register store drivers so they are available via store.Open.
	_ "github.com/jensholdgaard/event-sourced-account/internal/store/mysql"
	_ "github.com/jensholdgaard/event-sourced-account/internal/store/postgres"
	_ "github.com/jensholdgaard/event-sourced-account/internal/store/sqlite"
)

var version = "dev"

const usage = `usage: account [-config file] <command> [flags]

commands:
  open      -owner ID [-account ID]
  deposit   -account ID -amount N [-tx ID]
  withdraw  -account ID -amount N [-tx ID]
  transfer  -from ID -to ID -amount N [-tx ID]
  close     -account ID
  get       -account ID
  events    -account ID
`

var errUsage = errors.New("invalid usage")

func main() {
	configPath := flag.String("config", "", "path to configuration file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Usage = func() { fmt.Fprint(flag.CommandLine.Output(), usage) }
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	if err := run(*configPath, flag.Args(), os.Stdout); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprintln(os.Stderr, err)
			flag.Usage()
			os.Exit(2)
		}
		slog.Error("command failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(configPath string, args []string, out io.Writer) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: missing command", errUsage)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	tp, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		slog.Warn("telemetry setup failed, continuing without OTEL export", slog.Any("error", err))
		tp = telemetry.NewNopProvider()
	}
	defer func() {
		if shutdownErr := tp.Shutdown(context.Background()); shutdownErr != nil {
			slog.Error("telemetry shutdown error", slog.Any("error", shutdownErr))
		}
	}()

	backend, err := store.Open(ctx, cfg.Database, clock.Real{})
	if err != nil {
		return fmt.Errorf("opening store (driver=%s): %w", cfg.Database.Driver, err)
	}
	defer backend.Close()

	snapshotter, err := eventsourcing.SnapshotterFor[account.Event](cfg.EventSourcing.SnapshotFrequency)
	if err != nil {
		return err
	}
	svc := account.NewService(account.NewStore(backend.Events), snapshotter, tp.Logger, tp.TracerProvider,
		account.WithRetry(cfg.Retry.MaxAttempts, cfg.Retry.InitialInterval),
	)

	result, err := dispatch(ctx, svc, args[0], args[1:])
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// result is what write commands print: the ids the operation used.
type result map[string]uuid.UUID

func dispatch(ctx context.Context, svc *account.Service, cmd string, args []string) (any, error) {
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	var (
		accountID = uuidFlag(fs, "account", "account id")
		ownerID   = uuidFlag(fs, "owner", "owner id")
		fromID    = uuidFlag(fs, "from", "source account id")
		toID      = uuidFlag(fs, "to", "target account id")
		txID      = uuidFlag(fs, "tx", "transaction id (generated when empty)")
		amount    = fs.Int64("amount", 0, "amount in minor units")
	)
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("%w: %v", errUsage, err)
	}
	if *txID == uuid.Nil {
		*txID = uuid.New()
	}

	require := func(names ...string) error {
		set := map[string]bool{}
		fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
		for _, n := range names {
			if !set[n] {
				return fmt.Errorf("%w: %s needs -%s", errUsage, cmd, n)
			}
		}
		return nil
	}

	switch cmd {
	case "open":
		if err := require("owner"); err != nil {
			return nil, err
		}
		if *accountID == uuid.Nil {
			*accountID = uuid.New()
		}
		return result{"account_id": *accountID}, svc.OpenAccount(ctx, *accountID, *ownerID)
	case "deposit":
		if err := require("account", "amount"); err != nil {
			return nil, err
		}
		return result{"account_id": *accountID, "transaction_id": *txID}, svc.Deposit(ctx, *accountID, *amount, *txID)
	case "withdraw":
		if err := require("account", "amount"); err != nil {
			return nil, err
		}
		return result{"account_id": *accountID, "transaction_id": *txID}, svc.Withdraw(ctx, *accountID, *amount, *txID)
	case "transfer":
		if err := require("from", "to", "amount"); err != nil {
			return nil, err
		}
		return result{"transaction_id": *txID}, svc.Transfer(ctx, *fromID, *toID, *amount, *txID)
	case "close":
		if err := require("account"); err != nil {
			return nil, err
		}
		return result{"account_id": *accountID}, svc.CloseAccount(ctx, *accountID)
	case "get":
		if err := require("account"); err != nil {
			return nil, err
		}
		return svc.QueryAccount(ctx, *accountID)
	case "events":
		if err := require("account"); err != nil {
			return nil, err
		}
		return svc.Events(ctx, *accountID)
	default:
		return nil, fmt.Errorf("%w: unknown command %q", errUsage, cmd)
	}
}

// uuidFlag registers a flag parsed with uuid.Parse.
func uuidFlag(fs *flag.FlagSet, name, usage string) *uuid.UUID {
	id := new(uuid.UUID)
	fs.Func(name, usage, func(s string) error {
		v, err := uuid.Parse(s)
		if err != nil {
			return err
		}
		*id = v
		return nil
	})
	return id
}
