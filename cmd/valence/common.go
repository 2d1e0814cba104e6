package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/pflag"

	"github.com/ZebulonRouseFrantzich/valence/internal/config"
	"github.com/ZebulonRouseFrantzich/valence/internal/logging"
	"github.com/ZebulonRouseFrantzich/valence/internal/platform"
	"github.com/ZebulonRouseFrantzich/valence/internal/updater"
)

const defaultTimeout = 10 * time.Minute

// globalFlags are accepted by every command that reads the config.
type globalFlags struct {
	configPath string
	verbose    bool
	timeout    time.Duration
}

func newFlagSet(name string, g *globalFlags) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVarP(&g.configPath, "config", "c", "", "config file")
	fs.BoolVarP(&g.verbose, "verbose", "v", false, "debug logging")
	fs.DurationVar(&g.timeout, "timeout", defaultTimeout, "overall time limit")
	fs.BoolP("help", "h", false, "show help")
	return fs
}

// parseFlags parses args and reports whether help was requested.
func parseFlags(fs *pflag.FlagSet, args []string) (bool, error) {
	if err := fs.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return true, nil
		}
		return false, err
	}
	help, _ := fs.GetBool("help")
	return help, nil
}

func printFlagHelp(w io.Writer, usage string, fs *pflag.FlagSet) {
	fmt.Fprintln(w, "Usage: "+usage)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Options:")
	fmt.Fprint(w, fs.FlagUsages())
}

func envConfigName() string { return config.EnvConfig }

func newLogger(verbose bool) logging.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return logging.NewSlog(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// commandContext is cancelled by Ctrl-C or after the timeout.
func commandContext(g *globalFlags) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	if g.timeout <= 0 {
		return ctx, stop
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	return ctx, func() {
		cancel()
		stop()
	}
}

// loadStack reads the config and builds the update pipeline.
func loadStack(ctx context.Context, g *globalFlags, logger logging.Logger) (*updater.Stack, *config.Config, error) {
	path := config.ResolvePath(g.configPath)

	if raw, err := os.ReadFile(path); err == nil {
		if findings := config.DetectSensitiveData(string(raw)); len(findings) > 0 {
			fmt.Fprint(os.Stderr, config.FormatSensitiveDataWarning(findings))
		}
	}

	detector := platform.NewDetector()
	info, err := detector.Detect(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("detect platform: %w", err)
	}

	cfg, err := config.NewParser(platform.Static(*info)).Load(ctx, path)
	if err != nil {
		return nil, nil, &loadError{path: path, err: err, verbose: g.verbose}
	}
	logger.Debug("config loaded", "path", path, "project", cfg.Project, "platform", info.String())

	stack, err := updater.FromConfig(cfg,
		updater.WithLogger(logger),
		updater.WithPlatform(info),
		updater.WithUserAgent("valence/"+Version),
	)
	if err != nil {
		return nil, nil, err
	}
	return stack, cfg, nil
}

// loadError renders config failures with config.FormatError while keeping
// the underlying error reachable through errors.As.
type loadError struct {
	path    string
	err     error
	verbose bool
}

func (e *loadError) Error() string {
	return fmt.Sprintf("load %s: %s", e.path, config.FormatError(e.err, e.verbose))
}

func (e *loadError) Unwrap() error { return e.err }
