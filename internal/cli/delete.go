package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vbp1/pgbackup/internal/catalog"
)

var deleteArgs struct {
	backupID string
	force    bool
}

var deleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Remove a backup from the catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireCatalogAndInstance(); err != nil {
			return err
		}
		if deleteArgs.backupID == "" {
			return fmt.Errorf("delete: --backup-id required")
		}
		layout := catalog.NewLayout(cfg.CatalogRoot, cfg.Instance)

		backups, err := catalog.ListBackups(layout)
		if err != nil {
			return fmt.Errorf("delete: %w", err)
		}
		if !deleteArgs.force {
			for _, b := range backups {
				if b.ParentID == deleteArgs.backupID {
					return fmt.Errorf("delete: %s is a parent of %s, pass --force to delete it anyway or merge first", deleteArgs.backupID, b.ID)
				}
			}
		}

		index := catalog.IndexByID(backups)
		target, ok := index[deleteArgs.backupID]
		if !ok {
			return fmt.Errorf("delete: backup %s not found", deleteArgs.backupID)
		}

		dir := layout.BackupDir(deleteArgs.backupID)
		target.Status = catalog.StatusDeleting
		if err := catalog.WriteControl(dir, target); err != nil {
			return fmt.Errorf("delete: marking %s deleting: %w", deleteArgs.backupID, err)
		}
		if err := os.RemoveAll(dir); err != nil {
			// best-effort: leave the control file at DELETING so a
			// subsequent `show`/`delete` surfaces the half-removed state
			// rather than silently reporting success.
			return fmt.Errorf("delete: removing %s: %w", dir, err)
		}
		fmt.Printf("backup %s deleted\n", deleteArgs.backupID)
		return nil
	},
}

func init() {
	f := deleteCmd.Flags()
	f.StringVar(&deleteArgs.backupID, "backup-id", "", "Backup to delete (required)")
	f.BoolVar(&deleteArgs.force, "force", false, "Delete even if other backups depend on it")
}
