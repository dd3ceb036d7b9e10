package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"wallet-ledger/config"
	"wallet-ledger/internal/bootstrap"
	"wallet-ledger/internal/core/domain"
	"wallet-ledger/internal/core/ports"
	"wallet-ledger/pkg/logger"

	"github.com/google/uuid"
)

var errUsage = errors.New("usage")

func usage() {
	fmt.Println("Usage: ledgerctl <command> <id>")
	fmt.Println("  rebuild <wallet-id>  - replay a wallet's events and overwrite its projection")
	fmt.Println("  balance <user-id>    - print the projected balance of a user's wallet")
	fmt.Println("  history <wallet-id>  - print a wallet's events, oldest first")
	fmt.Println()
	fmt.Println("Environment:")
	fmt.Println("  WLEDGER_DATABASE_*  - connection settings (see config.yaml)")
}

func main() {
	if len(os.Args) < 3 {
		usage()
		os.Exit(1)
	}

	cfg, err := config.Load(os.Getenv("WLEDGER_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New("ledgerctl", cfg.Log.Level, cfg.Log.Pretty)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	st, err := bootstrap.OpenStorage(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open storage")
	}
	defer st.Close()

	ledger, err := bootstrap.NewLedger(cfg, st, nil, nil, nil, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build ledger")
	}

	if err := run(ctx, ledger, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, errUsage) {
			usage()
			os.Exit(1)
		}
		log.Error().Err(err).Str("command", os.Args[1]).Msg("ledgerctl failed")
		os.Exit(1)
	}
}

// run executes one operator command and writes its JSON result to out.
func run(ctx context.Context, ledger ports.LedgerCoordinator, args []string, out io.Writer) error {
	if len(args) != 2 {
		return errUsage
	}
	id, err := uuid.Parse(args[1])
	if err != nil {
		return fmt.Errorf("invalid id %q: %w", args[1], err)
	}

	var result any
	switch args[0] {
	case "rebuild":
		w, err := ledger.RebuildProjection(ctx, id)
		if err != nil {
			return err
		}
		result = w
	case "balance":
		view, err := ledger.GetBalance(ctx, id)
		if err != nil {
			return err
		}
		result = view
	case "history":
		events, err := ledger.GetHistory(ctx, id)
		if err != nil {
			return err
		}
		result = historyLines(events)
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, args[0])
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

type historyLine struct {
	Kind       domain.EventKind `json:"kind"`
	Amount     int64            `json:"amount"`
	OccurredAt time.Time        `json:"occurred_at"`
	Event      domain.Event     `json:"event"`
}

func historyLines(events []domain.Event) []historyLine {
	lines := make([]historyLine, 0, len(events))
	for _, e := range events {
		lines = append(lines, historyLine{Kind: e.Kind(), Amount: e.Value(), OccurredAt: e.At(), Event: e})
	}
	return lines
}
