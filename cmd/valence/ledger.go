package main

import (
	"fmt"
	"io"

	"github.com/ZebulonRouseFrantzich/valence/internal/ledger"
)

// runLedgerHead handles `valence ledger head`.
func runLedgerHead(args []string, out io.Writer) error {
	var g globalFlags
	fs := newFlagSet("ledger head", &g)
	help, err := parseFlags(fs, args)
	if err != nil {
		return err
	}
	if help {
		printFlagHelp(out, "valence ledger head [options]", fs)
		return nil
	}

	ctx, cancel := commandContext(&g)
	defer cancel()

	stack, _, err := loadStack(ctx, &g, newLogger(g.verbose))
	if err != nil {
		return err
	}
	if len(stack.Ledgers) == 0 {
		return fmt.Errorf("no ledgers configured")
	}

	failed := 0
	for _, l := range stack.Ledgers {
		hash, err := l.LatestHash(ctx)
		if err != nil {
			failed++
			fmt.Fprintf(out, "%s  error: %v\n", l.URL(), err)
			continue
		}
		fmt.Fprintf(out, "%s  %s\n", l.URL(), hash)
	}
	if failed == len(stack.Ledgers) {
		return fmt.Errorf("no ledger answered")
	}
	return nil
}

// runLedgerSince handles `valence ledger since [hash]`.
func runLedgerSince(args []string, out io.Writer) error {
	var g globalFlags
	var index int
	fs := newFlagSet("ledger since", &g)
	fs.IntVar(&index, "ledger", 1, "which configured ledger to read (1-based)")
	help, err := parseFlags(fs, args)
	if err != nil {
		return err
	}
	if help || fs.NArg() > 1 {
		printFlagHelp(out, "valence ledger since [options] [hash]", fs)
		if help {
			return nil
		}
		return fmt.Errorf("expected at most one hash")
	}

	ctx, cancel := commandContext(&g)
	defer cancel()

	stack, _, err := loadStack(ctx, &g, newLogger(g.verbose))
	if err != nil {
		return err
	}
	l, err := pickLedger(stack.Ledgers, index)
	if err != nil {
		return err
	}

	records, err := l.Since(ctx, fs.Arg(0))
	if err != nil {
		return err
	}
	for _, r := range records {
		fmt.Fprintln(out, string(r))
	}
	return nil
}

func pickLedger(ledgers []*ledger.Chronicle, index int) (*ledger.Chronicle, error) {
	if len(ledgers) == 0 {
		return nil, fmt.Errorf("no ledgers configured")
	}
	if index < 1 || index > len(ledgers) {
		return nil, fmt.Errorf("--ledger %d out of range (1-%d)", index, len(ledgers))
	}
	return ledgers[index-1], nil
}
