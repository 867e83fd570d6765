package cli

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

const version = "0.1.0"

// Exit codes.
const (
	ExitSuccess      = 0
	ExitGateFailed   = 1
	ExitUsageError   = 2
	ExitAuthError    = 3
	ExitRuntimeError = 4
)

var rootCmd = &cobra.Command{
	Use:   "armada",
	Short: "CI pipeline orchestrator for code-analysis agents",
	Long: "Armada runs configured analysis agents (static scanners, external tools,\n" +
		"LLM reviewers) against a pull-request diff and merges their findings into\n" +
		"one deterministic, deduplicated, budget-bounded report.",
}

// Run executes the root command and returns an exit code.
func Run() int {
	// Local .env is a development convenience; absence is not an error.
	_ = godotenv.Load()

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(cacheCmd)
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		// Cobra already prints the error; handlers set exitCode for
		// anything beyond a usage problem.
		if exitCode != ExitSuccess {
			return exitCode
		}
		return ExitUsageError
	}

	return exitCode
}

// exitCode is set by command handlers to control the process exit code.
var exitCode = ExitSuccess

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print armada version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(os.Stdout, "armada version %s\n", version)
	},
}
