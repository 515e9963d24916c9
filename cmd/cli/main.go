package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	cipherledger "github.com/i5heu/cipherledger"
	"github.com/i5heu/cipherledger/pkg/auth"
	"github.com/i5heu/cipherledger/pkg/ledger"
	"github.com/i5heu/cipherledger/pkg/logging"
)

func usage() {
	fmt.Println("Usage: cipherledger-cli [-data dir] [-key file] <command> [arguments]")
	fmt.Println("Commands:")
	fmt.Println("  submit <amount> <sender> <receiver>")
	fmt.Println("  list [pending|cleared|flagged]")
	fmt.Println("  get <id>")
	fmt.Println("  classify <id> <caller>")
	fmt.Println("  reveal <id>")
	fmt.Println("  stats")
	fmt.Println("  reconcile")
}

func main() {
	dataDir := flag.String("data", defaultDataDir(), "ledger data directory")
	keyPath := flag.String("key", "", "signing key file (default <data>/wallet.key)")
	verbose := flag.Bool("v", false, "log to stderr")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(1)
	}
	if *keyPath == "" {
		*keyPath = filepath.Join(*dataDir, "wallet.key")
	}

	if err := run(context.Background(), os.Stdout, *dataDir, *keyPath, *verbose, flag.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".cipherledger"
	}
	return filepath.Join(home, ".cipherledger")
}

func run(ctx context.Context, out io.Writer, dataDir, keyPath string, verbose bool, args []string) error {
	signer, _, err := auth.LoadOrCreateKeySigner(keyPath)
	if err != nil {
		return err
	}

	storeLog := logrus.New()
	storeLog.SetOutput(io.Discard)
	conf := cipherledger.Config{
		Paths:       []string{dataDir},
		Logger:      logging.Discard(),
		StoreLogger: storeLog,
		Verifier:    signer.Verifier(),
	}
	if verbose {
		conf.Logger = logging.Logger
		storeLog.SetOutput(os.Stderr)
	}

	l, err := cipherledger.New(conf)
	if err != nil {
		return fmt.Errorf("initializing ledger: %w", err)
	}
	if err := l.Start(ctx); err != nil {
		return fmt.Errorf("starting ledger: %w", err)
	}
	defer l.Close()

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "submit":
		if len(rest) != 3 {
			return fmt.Errorf("usage: submit <amount> <sender> <receiver>")
		}
		amount, err := decimal.NewFromString(rest[0])
		if err != nil {
			return fmt.Errorf("invalid amount %q: %w", rest[0], err)
		}
		tx, err := l.Submit(ctx, amount, ledger.Address(rest[1]), ledger.Address(rest[2]))
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Submitted %s (%s)\n", tx.ID, tx.Amount)

	case "list":
		var status ledger.Status
		if len(rest) > 0 {
			if status, err = ledger.ParseStatus(rest[0]); err != nil {
				return err
			}
		}
		res, err := l.List(ctx, status)
		if err != nil {
			return err
		}
		printTransactions(out, res.Transactions)
		for _, id := range res.Missing {
			fmt.Fprintf(out, "missing record: %s (run reconcile or resubmit)\n", id)
		}
		for _, id := range res.Corrupt {
			fmt.Fprintf(out, "undecodable record: %s\n", id)
		}

	case "get":
		if len(rest) != 1 {
			return fmt.Errorf("usage: get <id>")
		}
		tx, err := l.Get(ctx, rest[0])
		if err != nil {
			return err
		}
		printTransactions(out, []ledger.Transaction{tx})

	case "classify":
		if len(rest) != 2 {
			return fmt.Errorf("usage: classify <id> <caller>")
		}
		tx, err := l.Classify(ctx, rest[0], ledger.Address(rest[1]))
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s is %s\n", tx.ID, tx.Status)

	case "reveal":
		if len(rest) != 1 {
			return fmt.Errorf("usage: reveal <id>")
		}
		tok, err := l.AuthorizeDecrypt(ctx, l.ChallengeText(), signer)
		if err != nil {
			return err
		}
		amount, err := l.Reveal(ctx, rest[0], tok)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s amount: %s\n", rest[0], amount.StringFixed(2))

	case "stats":
		stats, err := l.Stats(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Total:     %d\n", stats.Total)
		fmt.Fprintf(out, "Pending:   %d\n", stats.Pending)
		fmt.Fprintf(out, "Cleared:   %d\n", stats.Cleared)
		fmt.Fprintf(out, "Flagged:   %d\n", stats.Flagged)
		fmt.Fprintf(out, "Threshold: %s\n", l.Threshold())

	case "reconcile":
		added, err := l.Reconcile(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Reindexed %d record(s)\n", len(added))

	default:
		return fmt.Errorf("unknown command: %s", cmd)
	}
	return nil
}

func printTransactions(out io.Writer, txs []ledger.Transaction) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSENDER\tRECEIVER\tCREATED\tSTATUS\tAML")
	for _, tx := range txs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%t\n",
			tx.ID, tx.Sender, tx.Receiver, tx.CreatedAt.UTC().Format("2006-01-02 15:04:05"), tx.Status, tx.AMLChecked)
	}
	w.Flush()
}
