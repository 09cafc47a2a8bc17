package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vbp1/pgbackup/internal/catalog"
	"github.com/vbp1/pgbackup/internal/merge"
)

var mergeArgs struct {
	backupID string
}

var mergeCmd = &cobra.Command{
	Use:   "merge",
	Short: "Fold an incremental backup into its FULL parent",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireCatalogAndInstance(); err != nil {
			return err
		}
		if mergeArgs.backupID == "" {
			return fmt.Errorf("merge: --backup-id required")
		}
		layout := catalog.NewLayout(cfg.CatalogRoot, cfg.Instance)
		res, err := merge.Merge(merge.Options{Layout: layout, TargetID: mergeArgs.backupID})
		if err != nil {
			return fmt.Errorf("merge: %w", err)
		}
		fmt.Printf("merged into %s (%d files)\n", res.MergedID, res.Files)
		return nil
	},
}

func init() {
	mergeCmd.Flags().StringVar(&mergeArgs.backupID, "backup-id", "", "Incremental backup to merge into its FULL parent (required)")
}
