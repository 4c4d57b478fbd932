package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/policyledger/policyledger/internal/codec"
	"github.com/policyledger/policyledger/internal/ledger"
)

var errUsage = errors.New("usage")

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprintf(os.Stderr, "Usage: %s <ledger-file> <index> <field> <value>\n", os.Args[0])
			fmt.Fprintf(os.Stderr, "This tool edits one field of a saved record without updating its hash\n")
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	if len(args) != 4 {
		return errUsage
	}

	path := args[0]
	field := args[2]
	value := args[3]

	index, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("invalid index %q: %w", args[1], err)
	}

	fmt.Fprintf(stdout, "Opening ledger: %s\n", path)

	records, err := codec.Load(path)
	if err != nil {
		return fmt.Errorf("failed to load ledger: %w", err)
	}

	l := ledger.New()
	l.Replace(records)

	before, err := l.Get(index)
	if err != nil {
		return fmt.Errorf("failed to read record: %w", err)
	}
	fmt.Fprintf(stdout, "Found record %d (policy %s)\n", index, before.PolicyNumber)
	fmt.Fprintf(stdout, "  Stored Hash: %s\n", before.CurrentHash)

	var setErr error
	if err := l.Tamper(index, func(r *ledger.Record) {
		setErr = ledger.SetField(r, field, value)
	}); err != nil {
		return fmt.Errorf("failed to modify record: %w", err)
	}
	if setErr != nil {
		return fmt.Errorf("failed to modify record: %w", setErr)
	}

	// genesis is rebuilt on load and never written to the file
	if err := codec.Save(path, l.Records()[1:]); err != nil {
		return fmt.Errorf("failed to write ledger: %w", err)
	}

	finding, err := l.Inspect(index)
	if err != nil {
		return fmt.Errorf("failed to inspect record: %w", err)
	}

	fmt.Fprintf(stdout, "\n✅ Successfully tampered with record %d\n", index)
	fmt.Fprintf(stdout, "  Field: %s = %q\n", field, value)
	fmt.Fprintf(stdout, "  Stored Hash:     %s\n", finding.StoredHash)
	fmt.Fprintf(stdout, "  Recomputed Hash: %s\n", finding.RecomputedHash)
	fmt.Fprintln(stdout, "\nRun 'policyledger verify' to see the tampering detected")
	return nil
}
