// Command waserv runs the conversational automation core: the RPC server
// (owns the database), the Queue Consumer + Debounce + HTL pipeline, and the
// Scheduler, wired together per SPEC_FULL.md §6. Subcommand structure
// follows the teacher's cmd/orchestrator style of a single run() returning
// error, now split across spf13/cobra subcommands per SPEC_FULL.md's CLI
// surface detail.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:   "waserv",
		Short: "WhatsApp conversational automation core",
	}
	root.AddCommand(newStartCmd())
	root.AddCommand(newStopCmd())
	root.AddCommand(newResetStateCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
