// Package commands provides the CLI commands for sessiond.
package commands

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/opencode-ai/sessiond/internal/logging"
)

// Version information set at build time.
var (
	Version   = "0.1.0"
	BuildTime = "dev"
)

// Global flags.
var (
	printLogs bool
	logLevel  string
	logFile   bool
	workDir   string
)

var rootCmd = &cobra.Command{
	Use:   "sessiond",
	Short: "sessiond - AI-assistant session coordination daemon",
	Long: `sessiond coordinates concurrent AI-assistant sessions across personas:
write-ahead-logged persistence with checkpoint/recovery, stream health
supervision, and a process registry for cooperating agents/swarms.

Run 'sessiond serve' to start the daemon.`,
	Version: Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logCfg := logging.Config{
			Level:     logging.ParseLevel(logLevel),
			Output:    os.Stderr,
			Pretty:    printLogs,
			LogToFile: logFile,
		}
		if !printLogs && !logFile {
			logCfg.Level = logging.FatalLevel
		}
		logging.Init(logCfg)
	},
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&printLogs, "print-logs", false, "Print logs to stderr")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "INFO", "Log level (DEBUG|INFO|WARN|ERROR)")
	rootCmd.PersistentFlags().BoolVar(&logFile, "log-file", false, "Write logs to /tmp/sessiond-YYYYMMDD-HHMMSS.log")
	rootCmd.PersistentFlags().StringVar(&workDir, "directory", "", "Working directory (defaults to cwd)")

	rootCmd.SetVersionTemplate("sessiond " + Version + " (" + BuildTime + ")\n")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// GetWorkDir returns the working directory from the --directory flag or cwd.
func GetWorkDir() (string, error) {
	if workDir != "" {
		return workDir, nil
	}
	return os.Getwd()
}
