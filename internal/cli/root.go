// Package cli implements the pgbackup command-line surface: a cobra
// command tree wiring the backup coordinator, restore pipeline, catalog
// and instance configuration into subcommands.
package cli

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/vbp1/pgbackup/internal/log"
)

// Config holds the global flags shared by every subcommand: where the
// catalog lives and how verbosely to log.
type Config struct {
	CatalogRoot string
	Instance    string
	Debug       bool
	Verbose     bool
}

var cfg = &Config{}

// RootCmd is the entry point invoked from cmd/pgbackup.
var RootCmd = &cobra.Command{
	Use:           "pgbackup",
	Short:         "Page-level incremental backup and restore for a PostgreSQL cluster",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		slog.Debug("setting up logger")
		log.Setup(cfg.Debug, cfg.Verbose)
	},
}

// Execute parses flags and runs the selected subcommand.
func Execute() error { return RootCmd.Execute() }

func init() {
	f := RootCmd.PersistentFlags()
	f.StringVar(&cfg.CatalogRoot, "catalog-path", "", "Backup catalog root directory (required)")
	f.StringVar(&cfg.Instance, "instance", "", "Instance name within the catalog (required)")
	f.BoolVar(&cfg.Debug, "debug", false, "Enable debug trace output")
	f.BoolVar(&cfg.Verbose, "verbose", false, "Verbose output")

	RootCmd.AddCommand(
		initCmd,
		addInstanceCmd,
		delInstanceCmd,
		setConfigCmd,
		showConfigCmd,
		backupCmd,
		restoreCmd,
		showCmd,
		deleteCmd,
		mergeCmd,
		validateCmd,
		archivePushCmd,
		archiveGetCmd,
		checkdbCmd,
	)
}
