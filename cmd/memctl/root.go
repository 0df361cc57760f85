package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/joshuapare/memkit/internal/logger"
	"github.com/joshuapare/memkit/internal/platform"
	"github.com/joshuapare/memkit/pkg/memkit"
)

var (
	// Global flags
	verbose     bool
	quiet       bool
	jsonOut     bool
	constrained bool
	emulated    bool
	logLevel    string
)

var rootCmd = &cobra.Command{
	Use:   "memctl",
	Short: "Inspect and exercise the memkit allocator stack",
	Long: `memctl reports how memkit would configure itself on this host and
drives the allocator stack (object pools, script arenas, JS heap blocks and
graphics buffers) with synthetic workloads.

Configuration is read from MEMKIT_* environment variables.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return logger.SetLevel(logLevel)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().
		BoolVarP(&quiet, "quiet", "q", false, "Suppress all output except errors")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().
		BoolVar(&constrained, "constrained", false, "Start from the constrained-device preset")
	rootCmd.PersistentFlags().
		BoolVar(&emulated, "emulated", false, "Use heap-emulated virtual memory instead of the OS")
	rootCmd.PersistentFlags().
		StringVar(&logLevel, "log-level", "", "Library log level (error, warn, info, debug, trace)")
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig applies MEMKIT_* overrides to the selected preset.
func loadConfig() (memkit.Config, error) {
	if constrained {
		return memkit.LoadConfigFrom(memkit.ConstrainedConfig())
	}
	return memkit.LoadConfig()
}

// newVM returns the virtual-memory backend selected by --emulated.
func newVM() platform.VM {
	if emulated {
		return platform.NewHeapVM(os.Getpagesize(), 0)
	}
	return platform.Default()
}

// Helper functions for output

// printer groups digits in byte counts.
var printer = message.NewPrinter(language.English)

// printInfo prints an info message if not in quiet mode
func printInfo(format string, args ...any) {
	if !quiet {
		printer.Fprintf(os.Stdout, format, args...)
	}
}

// printVerbose prints a verbose message if verbose mode is enabled
func printVerbose(format string, args ...any) {
	if verbose && !quiet {
		printer.Fprintf(os.Stdout, format, args...)
	}
}

// printJSON outputs data as JSON
func printJSON(v any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
