// Command cc-dev is an operator CLI for driving a running reconstruction pipeline API: submit a
// source document, poll a job's status, or watch its live token/event stream. Grounded on
// jackzampolin-shelf's cmd/shelf cobra root-command layout (persistent flags, one file per
// subcommand) and LLM_SPT's plain-HTTP-client-against-a-local-service pattern.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var apiAddr string

var rootCmd = &cobra.Command{
	Use:   "cc",
	Short: "Operator CLI for the coherent reconstruction pipeline",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&apiAddr, "api", "http://localhost:8080", "reconstruction pipeline API base URL")
	rootCmd.AddCommand(submitCmd, statusCmd, watchCmd, abortCmd, resumeCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
