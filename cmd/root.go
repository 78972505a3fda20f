package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/opengoat/internal/agents"
	"github.com/nextlevelbuilder/opengoat/internal/tasks"
)

// Version is set at build time via -ldflags "-X github.com/nextlevelbuilder/opengoat/cmd.Version=v1.0.0"
var Version = "dev"

var (
	homeFlag string
	verbose  bool
)

// configError marks failures that should exit with code 2.
type configError struct{ err error }

func (e configError) Error() string { return e.err.Error() }
func (e configError) Unwrap() error { return e.err }

var rootCmd = &cobra.Command{
	Use:           "opengoat",
	Short:         "OpenGoat — local agent control plane",
	Long:          "OpenGoat: a local control plane that organises AI agents into a reporting hierarchy, dispatches work to a provider runtime, and tracks tasks, sessions and schedules.",
	SilenceUsage:  true,
	SilenceErrors: true,
	Run: func(cmd *cobra.Command, args []string) {
		_ = cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&homeFlag, "home", "", "home directory (default: $OPENGOAT_HOME or ~/.opengoat)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(onboardCmd())
	rootCmd.AddCommand(agentCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(sessionCmd())
	rootCmd.AddCommand(doctorCmd())
	rootCmd.AddCommand(versionCmd())
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("opengoat %s\n", Version)
		},
	}
}

// Execute runs the root cobra command and maps errors to exit codes:
// 0 success, 1 failure, 2 configuration error, 64 invalid input.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "opengoat: %v\n", err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	var cfgErr configError
	if errors.As(err, &cfgErr) {
		return 2
	}
	var agentVal *agents.ValidationError
	var taskVal *tasks.ValidationError
	if errors.As(err, &agentVal) || errors.As(err, &taskVal) {
		return 64
	}
	return 1
}
