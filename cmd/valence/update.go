package main

import (
	"fmt"
	"io"
	"time"

	"github.com/ZebulonRouseFrantzich/valence/internal/apply"
)

// runUpdate handles `valence update`.
func runUpdate(args []string, out io.Writer) error {
	var g globalFlags
	var channel string
	var force bool
	fs := newFlagSet("update", &g)
	fs.StringVar(&channel, "channel", "", "release channel (default from config)")
	fs.BoolVarP(&force, "force", "f", false, "ignore the update policy (signature and ledger checks still apply)")

	help, err := parseFlags(fs, args)
	if err != nil {
		return err
	}
	if help {
		printFlagHelp(out, "valence update [options]", fs)
		return nil
	}

	ctx, cancel := commandContext(&g)
	defer cancel()

	logger := newLogger(g.verbose)
	stack, cfg, err := loadStack(ctx, &g, logger)
	if err != nil {
		return err
	}
	if channel == "" {
		channel = cfg.Channel
	}

	lock, err := stack.Applier.Lock(ctx)
	if err != nil {
		return fmt.Errorf("lock %s: %w", stack.Applier.Root(), err)
	}
	defer func() { _ = lock.Release() }()

	interrupted, err := stack.Applier.CheckInterrupted()
	if err != nil {
		return err
	}
	if interrupted != nil {
		return fmt.Errorf("%w: %s from %s started %s; restore with: valence rollback --version %s",
			apply.ErrInterrupted, interrupted.Operation, interrupted.FromVersion,
			interrupted.Started.Local().Format(time.DateTime), interrupted.RestoreVersion())
	}

	before, err := stack.Applier.CurrentVersion()
	if err != nil {
		return err
	}

	applied, err := stack.Updater.AutoUpdate(ctx, channel, force)
	if err != nil {
		return err
	}
	if !applied {
		fmt.Fprintf(out, "%s %s: nothing applied\n", cfg.Project, before)
		return nil
	}

	after, err := stack.Applier.CurrentVersion()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s updated %s -> %s\n", cfg.Project, before, after)
	fmt.Fprintf(out, "Undo with: valence rollback --version %s\n", before)
	return nil
}
