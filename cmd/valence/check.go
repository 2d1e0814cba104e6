package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/ZebulonRouseFrantzich/valence/internal/release"
)

// runCheck handles `valence check`.
func runCheck(args []string, out io.Writer) error {
	var g globalFlags
	var channel string
	var all bool
	fs := newFlagSet("check", &g)
	fs.StringVar(&channel, "channel", "", "release channel (default from config)")
	fs.BoolVar(&all, "all", false, "list every offered release, ignoring the policy")

	help, err := parseFlags(fs, args)
	if err != nil {
		return err
	}
	if help {
		printFlagHelp(out, "valence check [options]", fs)
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

	current, err := stack.Applier.CurrentVersion()
	if err != nil {
		return err
	}
	list, err := stack.Updater.GetUpdateList(ctx, channel, all)
	if err != nil {
		return err
	}

	fmt.Fprint(out, formatCandidates(cfg.Project, current, list))
	return nil
}

func formatCandidates(project, current string, list *release.UpdateList) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s installed\n", project, current)
	if list.Len() == 0 {
		sb.WriteString("No updates available.\n")
		return sb.String()
	}

	fmt.Fprintf(&sb, "Updates from %s:\n", list.Mirror)
	for i, c := range list.Updates {
		marker := " "
		if i == 0 {
			marker = "*"
		}
		line := fmt.Sprintf("  %s %s", marker, c.Version)
		if c.Channel != "" {
			line += " [" + c.Channel + "]"
		}
		if !c.Created.IsZero() {
			line += " " + c.Created.UTC().Format("2006-01-02")
		}
		sb.WriteString(line + "\n")
	}
	return sb.String()
}
