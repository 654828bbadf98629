package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var provisionCmd = &cobra.Command{
	Use:   "provision <user-id>",
	Short: "Create and verify a user's storage unit",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		report, err := a.lifecycle.Provision(cmd.Context(), args[0])
		if report != nil {
			printJSON(cmd.OutOrStdout(), report)
		}
		return err
	},
}

var eraseYes bool

var eraseCmd = &cobra.Command{
	Use:   "erase <user-id>",
	Short: "Permanently delete everything stored for a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !eraseYes {
			return fmt.Errorf("erase is permanent; pass --yes to confirm")
		}
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		report, err := a.lifecycle.Erase(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), report)
	},
}

var verifyAll bool

var verifyCmd = &cobra.Command{
	Use:   "verify [user-id]",
	Short: "Audit a user's storage unit, or every unit with --all",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if verifyAll == (len(args) == 1) {
			return fmt.Errorf("give exactly one of a user id or --all")
		}
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()
		out := cmd.OutOrStdout()

		if verifyAll {
			failed, err := a.lifecycle.VerifyAll(cmd.Context())
			if err != nil {
				return err
			}
			if len(failed) == 0 {
				fmt.Fprintln(out, "all units verified")
				return nil
			}
			for _, r := range failed {
				fmt.Fprintf(out, "%s: %d/%d (%s)\n", r.UserID, r.Score, r.Total, strings.Join(r.Failed(), ", "))
			}
			return fmt.Errorf("%d unit(s) failed verification", len(failed))
		}

		report, err := a.verifier.Verify(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if err := printJSON(out, report); err != nil {
			return err
		}
		if !report.Verified {
			return fmt.Errorf("verification failed: %s", strings.Join(report.Failed(), ", "))
		}
		return nil
	},
}

var inspectFull, inspectQuarantined bool

var inspectCmd = &cobra.Command{
	Use:   "inspect <user-id>",
	Short: "Show a user's brain summary without modifying anything",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if inspectQuarantined {
			files, err := a.brain.Quarantined(args[0])
			if err != nil {
				return err
			}
			names := make([]string, 0, len(files))
			for _, f := range files {
				names = append(names, filepath.Base(f))
			}
			return printJSON(cmd.OutOrStdout(), names)
		}

		doc, err := a.brain.Peek(args[0])
		if err != nil {
			return err
		}
		if inspectFull {
			return printJSON(cmd.OutOrStdout(), doc)
		}
		return printJSON(cmd.OutOrStdout(), doc.Summarize())
	},
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Purge leftover erase tombstones",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.lifecycle.Sweep(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "purged %d tombstone(s)\n", res.TombstonesPurged)
		return nil
	},
}

func init() {
	eraseCmd.Flags().BoolVar(&eraseYes, "yes", false, "confirm permanent deletion")
	verifyCmd.Flags().BoolVar(&verifyAll, "all", false, "audit every provisioned unit")
	inspectCmd.Flags().BoolVar(&inspectFull, "full", false, "print the whole document")
	inspectCmd.Flags().BoolVar(&inspectQuarantined, "quarantined", false, "list quarantined brain documents")
}
