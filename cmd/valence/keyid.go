package main

import (
	"fmt"
	"io"
	"os"

	"github.com/ZebulonRouseFrantzich/valence/internal/keyring"
)

// runKeyID handles `valence keyid <file>`. "-" reads stdin.
func runKeyID(args []string, out io.Writer) error {
	var g globalFlags
	fs := newFlagSet("keyid", &g)
	help, err := parseFlags(fs, args)
	if err != nil {
		return err
	}
	if help || fs.NArg() != 1 {
		printFlagHelp(out, "valence keyid <file>", fs)
		if help {
			return nil
		}
		return fmt.Errorf("expected exactly one key file")
	}

	var raw []byte
	if path := fs.Arg(0); path == "-" {
		raw, err = io.ReadAll(io.LimitReader(os.Stdin, 1<<20))
	} else {
		raw, err = os.ReadFile(path)
	}
	if err != nil {
		return fmt.Errorf("read key: %w", err)
	}

	key, err := keyring.ParseKey(raw)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s %s\n", key.Algorithm(), key.ID())
	return nil
}
