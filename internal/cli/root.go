package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dshills/mmifviz/internal/cache"
	"github.com/dshills/mmifviz/internal/fsx"
	"github.com/dshills/mmifviz/internal/media"
	"github.com/dshills/mmifviz/internal/render"
)

const version = "0.1.0"

// Exit codes
const (
	ExitSuccess      = 0
	ExitUsageError   = 2
	ExitCacheMiss    = 3
	ExitRuntimeError = 4
)

// Global flags
var (
	flagFormat    string
	flagLogLevel  string
	flagCacheDir  string
	flagPageStore string
	flagNoColor   bool
)

var rootCmd = &cobra.Command{
	Use:   "mmifviz",
	Short: "Render MMIF annotation bundles as browsable HTML",
	Long: "mmifviz stores MMIF bundles in a content-addressed cache, renders an index page, " +
		"captions and paginated OCR frame views for each, and evicts the least recently used " +
		"visualizations when the cache outgrows its budget.",
	SilenceUsage: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagFormat, "format", "", "Output format (text, json)")
	pf.StringVar(&flagLogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	pf.StringVar(&flagCacheDir, "cache-dir", "", "Cache directory (default: platform cache dir)")
	pf.StringVar(&flagPageStore, "page-store", "", "Page list backend (fs, sqlite, postgres)")
	pf.BoolVar(&flagNoColor, "no-color", false, "Disable colored log output")
}

// Run executes the root command and returns an exit code.
func Run() int {
	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(pageCmd)
	rootCmd.AddCommand(cacheCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		// Cobra already prints the error
		return ExitUsageError
	}

	return exitCode
}

// exitCode is set by command handlers to control the process exit code.
var exitCode = ExitSuccess

// fail reports err and sets the exit code for its kind.
func fail(err error) {
	switch {
	case errors.Is(err, render.ErrCacheMiss), errors.Is(err, cache.ErrNotFound):
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		exitCode = ExitCacheMiss
	case cache.IsPathConflict(err), fsx.IsPathTypeConflict(err):
		fmt.Fprintf(os.Stderr, "Error: cache is corrupted: %v\n", err)
		exitCode = ExitRuntimeError
	case fsx.IsCrossDevice(err):
		fmt.Fprintf(os.Stderr, "Error: cache staging must share a filesystem with the cache: %v\n", err)
		exitCode = ExitRuntimeError
	case media.IsMediaRead(err):
		fmt.Fprintf(os.Stderr, "Error reading video: %v\n", err)
		exitCode = ExitRuntimeError
	default:
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		exitCode = ExitRuntimeError
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print mmifviz version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "mmifviz version %s\n", version)
	},
}
