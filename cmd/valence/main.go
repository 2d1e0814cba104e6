package main

import (
	"fmt"
	"io"
	"os"
)

// Version will be set at build time via -ldflags
var Version = "v0.1.0"

func main() {
	if err := dispatch(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func dispatch(args []string, out io.Writer) error {
	if len(args) == 0 {
		printUsage(out)
		return nil
	}

	switch args[0] {
	case "--version", "version":
		fmt.Fprintf(out, "valence %s\n", Version)
		return nil
	case "help", "--help", "-h":
		printUsage(out)
		return nil
	case "check":
		return runCheck(args[1:], out)
	case "update":
		return runUpdate(args[1:], out)
	case "rollback":
		return runRollback(args[1:], out)
	case "keyid":
		return runKeyID(args[1:], out)
	case "ledger":
		if len(args) < 2 {
			printLedgerUsage(os.Stderr)
			return fmt.Errorf("ledger subcommand requires an action")
		}
		switch args[1] {
		case "head":
			return runLedgerHead(args[2:], out)
		case "since":
			return runLedgerSince(args[2:], out)
		default:
			printLedgerUsage(os.Stderr)
			return fmt.Errorf("unknown ledger action: %s", args[1])
		}
	default:
		printUsage(os.Stderr)
		return fmt.Errorf("unknown command: %s", args[0])
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "valence - verified auto-updates")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  valence check [options]            List updates the policy accepts")
	fmt.Fprintln(w, "  valence update [--force]           Fetch, verify, corroborate and apply an update")
	fmt.Fprintln(w, "  valence rollback --version <v>     Restore the snapshot taken before leaving <v>")
	fmt.Fprintln(w, "  valence rollback --list            List rollback snapshots")
	fmt.Fprintln(w, "  valence keyid <file>               Print the key id of a public key")
	fmt.Fprintln(w, "  valence ledger head                Show each ledger's latest summary hash")
	fmt.Fprintln(w, "  valence ledger since [hash]        Dump ledger records after hash")
	fmt.Fprintln(w, "  valence --version                  Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Common options:")
	fmt.Fprintln(w, "  -c, --config <path>   Config file (default $"+envConfigName()+" or valence.lua)")
	fmt.Fprintln(w, "  -v, --verbose         Debug logging")
}

func printLedgerUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: valence ledger head [options]")
	fmt.Fprintln(w, "       valence ledger since [options] [hash]")
}
