package main

import (
	"fmt"
	"io"
	"time"
)

// runRollback handles `valence rollback`.
func runRollback(args []string, out io.Writer) error {
	var g globalFlags
	var version string
	var list bool
	fs := newFlagSet("rollback", &g)
	fs.StringVar(&version, "version", "", "installed version to restore")
	fs.BoolVar(&list, "list", false, "list available snapshots")

	help, err := parseFlags(fs, args)
	if err != nil {
		return err
	}
	if help {
		printFlagHelp(out, "valence rollback --version <v> | --list", fs)
		return nil
	}
	if version == "" && !list {
		return fmt.Errorf("either --version or --list is required")
	}

	ctx, cancel := commandContext(&g)
	defer cancel()

	logger := newLogger(g.verbose)
	stack, _, err := loadStack(ctx, &g, logger)
	if err != nil {
		return err
	}

	if list {
		snapshots, err := stack.Applier.Snapshots()
		if err != nil {
			return err
		}
		if len(snapshots) == 0 {
			fmt.Fprintln(out, "No rollback snapshots.")
		}
		for _, s := range snapshots {
			v := s.Version
			if v == "" {
				v = "(unknown)"
			}
			fmt.Fprintf(out, "  %-12s %s  %s\n", v, s.ModTime.Format(time.DateTime), s.Key)
		}

		interrupted, err := stack.Applier.Interrupted()
		if err != nil {
			return err
		}
		if len(interrupted) > 0 {
			fmt.Fprintln(out, "Interrupted:")
		}
		for _, txn := range interrupted {
			fmt.Fprintf(out, "  %s from %s started %s (%s); restore with --version %s\n",
				txn.Operation, txn.FromVersion, txn.Started.Local().Format(time.DateTime), txn.State, txn.RestoreVersion())
		}
		return nil
	}

	lock, err := stack.Applier.Lock(ctx)
	if err != nil {
		return fmt.Errorf("lock %s: %w", stack.Applier.Root(), err)
	}
	defer func() { _ = lock.Release() }()

	if err := stack.Applier.Rollback(ctx, version); err != nil {
		return err
	}
	fmt.Fprintf(out, "Restored %s\n", version)
	return nil
}
