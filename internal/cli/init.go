package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/vbp1/pgbackup/internal/util/fs"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialise a new backup catalog directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.CatalogRoot == "" {
			return fmt.Errorf("--catalog-path required")
		}
		for _, sub := range []string{"backups", "wal"} {
			dir := filepath.Join(cfg.CatalogRoot, sub)
			if err := fs.MkdirP(dir, 0o700); err != nil {
				return fmt.Errorf("init: creating %s: %w", dir, err)
			}
		}
		fmt.Printf("catalog initialised at %s\n", cfg.CatalogRoot)
		return nil
	},
}
