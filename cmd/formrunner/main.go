package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/formrunner/internal/common"
)

var (
	// Persistent flags
	configFiles []string
	serverPort  int
	serverHost  string
	headless    bool

	// Resolved by loadConfig
	config *common.Config
	logger arbor.ILogger
)

var rootCmd = &cobra.Command{
	Use:   "formrunner",
	Short: "Batch multi-step web form submission",
	Long: `FormRunner submits a multi-step web form for every record of a batch, spreading
the batch across several browser tabs. Commands are read as JSON lines on stdin and
events are written as JSON lines on stdout.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringSliceVarP(&configFiles, "config", "c", nil, "Configuration file path (repeatable, later files override earlier ones)")
	rootCmd.PersistentFlags().IntVarP(&serverPort, "port", "p", 0, "Server port (enables the WebSocket server, overrides config)")
	rootCmd.PersistentFlags().StringVar(&serverHost, "host", "", "Server host (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&headless, "headless", true, "Run the browser headless (overrides config when set)")

	rootCmd.AddCommand(serveCmd, importCmd, versionCmd)
}

func main() {
	common.InstallCrashHandler("")
	defer common.RecoverCrash()

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig resolves configuration: defaults -> files -> env -> flags.
// Must run before the logger is initialised.
func loadConfig(cmd *cobra.Command) error {
	// Auto-discover config file if not specified
	if len(configFiles) == 0 {
		if _, err := os.Stat("formrunner.toml"); err == nil {
			configFiles = append(configFiles, "formrunner.toml")
		} else if _, err := os.Stat("deployments/local/formrunner.toml"); err == nil {
			configFiles = append(configFiles, "deployments/local/formrunner.toml")
		}
	}

	var err error
	config, err = common.LoadFromFiles(configFiles...)
	if err != nil {
		return fmt.Errorf("failed to load configuration %v: %w", configFiles, err)
	}

	var headlessOverride *bool
	if cmd.Flags().Changed("headless") {
		headlessOverride = &headless
	}
	common.ApplyFlagOverrides(config, serverPort, serverHost, headlessOverride)

	return nil
}

// withoutConsole removes console outputs so stdout carries nothing but events
func withoutConsole(outputs []string) []string {
	kept := make([]string, 0, len(outputs))
	for _, output := range outputs {
		if output == "stderr" || output == "console" {
			continue
		}
		kept = append(kept, output)
	}
	return kept
}
