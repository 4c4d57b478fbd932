package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/policyledger/policyledger/internal/ledger"
)

var addFields ledger.Fields

func init() {
	f := addCmd.Flags()
	f.StringVar(&addFields.FIO, "fio", "", "client full name (required)")
	f.StringVar(&addFields.PolicyNumber, "policy", "", "policy number (required)")
	f.StringVar(&addFields.Phone, "phone", "", "client phone")
	f.StringVar(&addFields.ObjectInsured, "object", "", "insured object")
	f.StringVar(&addFields.Risk, "risk", "", "insured risk")
	f.StringVar(&addFields.StartDate, "start", "", "start date (DD.MM.YYYY)")
	f.StringVar(&addFields.EndDate, "end", "", "end date (DD.MM.YYYY)")
	f.Float64Var(&addFields.Premium, "premium", 0, "premium amount")
	f.Float64Var(&addFields.Coverage, "coverage", 0, "coverage amount")
	f.StringVar(&addFields.Agent, "agent", "", "agent name (required)")
}

var addCmd = &cobra.Command{
	Use:   "add",
	Short: "Append a contract and save the ledger",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		record, err := a.session.Append(addFields)
		if err != nil {
			return err
		}

		if err := a.session.Save(""); err != nil {
			return fmt.Errorf("contract added but not saved: %w", err)
		}

		fmt.Printf("Added contract %s as record %d\n", record.PolicyNumber, len(a.session.Records())-1)
		fmt.Printf("  Previous hash: %s\n", record.PreviousHash)
		fmt.Printf("  Current hash:  %s\n", record.CurrentHash)
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List contracts, marking records from the first broken link onwards",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		table := a.session.Table()

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "\tID\tCLIENT\tPOLICY\tPHONE\tOBJECT\tRISK\tPERIOD\tPREMIUM\tCOVERAGE\tAGENT\tHASH")
		for _, row := range table.Rows {
			mark := ""
			if row.Suspect {
				mark = "!"
			}
			r := row.Record
			fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t%s\t%s\t%s - %s\t%s\t%s\t%s\t%s\n",
				mark, row.Index, r.FIO, r.PolicyNumber, r.Phone, r.ObjectInsured, r.Risk,
				r.StartDate, r.EndDate, ledger.FormatAmount(r.Premium), ledger.FormatAmount(r.Coverage),
				r.Agent, short(r.CurrentHash))
		}
		w.Flush()

		fmt.Println()
		fmt.Println(a.session.Status().StatusLine())
		if !table.Valid {
			fmt.Printf("Integrity broken from record %d (rows marked !)\n", table.FirstBad)
		}
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:   "show <index>",
	Short: "Show one record and its hash check",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		idx, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("index must be an integer: %s", args[0])
		}

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		record, err := a.session.Get(idx)
		if err != nil {
			return err
		}
		finding, err := a.session.Inspect(idx)
		if err != nil {
			return err
		}

		printRecord(idx, record)
		printFinding(finding)
		return nil
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify hash chain integrity",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		fmt.Printf("Verifying ledger: %s\n", a.session.Path())
		report := a.session.Validate()

		if report.Drift {
			fmt.Println("  ⚠️  WARNING: file differs from the last save recorded by policyledger")
		}

		if report.Valid {
			fmt.Printf("  ✅ OK: %d records, hash chain is intact\n", len(a.session.Records())-1)
			return nil
		}

		fmt.Printf("  ❌ FAILED: integrity violation at record %d\n", report.FirstBad)
		if report.Record != nil {
			fmt.Printf("  Policy: %s\n", report.Record.PolicyNumber)
		}
		if report.Finding != nil {
			printFinding(*report.Finding)
		}
		fmt.Printf("  Records %d and later can no longer be trusted\n", report.FirstBad)

		return errors.New("ledger integrity check failed")
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Display ledger status",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		st := a.session.Status()
		fmt.Println(st.StatusLine())
		fmt.Printf("Path: %s\n", st.File)
		fmt.Printf("Tail hash: %s\n", st.TailHash)
		if st.Fingerprint != "" {
			fmt.Printf("Fingerprint: %s\n", st.Fingerprint)
		}

		if cp := st.LastCheckpoint; cp != nil {
			fmt.Printf("\nLast checkpoint (%s, %s):\n", cp.Kind, cp.Timestamp.Local().Format(ledger.TimestampLayout))
			fmt.Printf("  Records: %d\n", cp.Records)
			fmt.Printf("  Tail hash: %s\n", short(cp.TailHash))
			if cp.Valid {
				fmt.Println("  Chain: intact")
			} else {
				fmt.Printf("  Chain: broken at record %d\n", cp.FirstBad)
			}
		} else {
			fmt.Println("\nNo checkpoints yet")
		}

		if st.Drift {
			fmt.Println("\n⚠️  File differs from the last save recorded by policyledger")
		}

		if a.store != nil {
			if last, err := a.store.LastFile(); err == nil && last != st.File {
				fmt.Printf("\nMost recent checkpoint was for another file: %s\n", last)
			}
		}
		return nil
	},
}

func printRecord(idx int, r ledger.Record) {
	fmt.Printf("Record %d\n", idx)
	fmt.Printf("  Client:        %s\n", r.FIO)
	fmt.Printf("  Policy:        %s\n", r.PolicyNumber)
	fmt.Printf("  Phone:         %s\n", r.Phone)
	fmt.Printf("  Object:        %s\n", r.ObjectInsured)
	fmt.Printf("  Risk:          %s\n", r.Risk)
	fmt.Printf("  Period:        %s - %s\n", r.StartDate, r.EndDate)
	fmt.Printf("  Premium:       %s\n", ledger.FormatAmount(r.Premium))
	fmt.Printf("  Coverage:      %s\n", ledger.FormatAmount(r.Coverage))
	fmt.Printf("  Agent:         %s\n", r.Agent)
	fmt.Printf("  Timestamp:     %s\n", r.Timestamp)
	fmt.Printf("  Previous hash: %s\n", r.PreviousHash)
}

func printFinding(f ledger.Finding) {
	fmt.Printf("  Stored hash:     %s\n", f.StoredHash)
	fmt.Printf("  Recomputed hash: %s\n", f.RecomputedHash)
	switch f.Cause {
	case ledger.CauseContentModified:
		fmt.Println("  Cause: record content was modified after sealing")
	case ledger.CauseLinkBroken:
		fmt.Printf("  Cause: link broken, expected previous hash %s\n", f.ExpectedPrevious)
	default:
		fmt.Println("  Check: intact")
	}
}

func short(h string) string {
	if len(h) > 16 {
		return h[:16]
	}
	return h
}
