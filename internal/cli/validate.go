package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vbp1/pgbackup/internal/catalog"
)

var validateArgs struct {
	backupID string
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check that a backup's ancestor chain is complete and healthy",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireCatalogAndInstance(); err != nil {
			return err
		}
		layout := catalog.NewLayout(cfg.CatalogRoot, cfg.Instance)
		backups, err := catalog.ListBackups(layout)
		if err != nil {
			return fmt.Errorf("validate: %w", err)
		}
		index := catalog.IndexByID(backups)

		ids := []string{validateArgs.backupID}
		if validateArgs.backupID == "" {
			for _, b := range backups {
				ids = append(ids[:0], b.ID)
				if res, broken := catalog.ScanParentChain(index, b); res != catalog.ChainOK {
					fmt.Printf("%s: %s\n", b.ID, chainResultString(res, broken))
				} else {
					fmt.Printf("%s: OK\n", b.ID)
				}
			}
			return nil
		}

		target, ok := index[validateArgs.backupID]
		if !ok {
			return fmt.Errorf("validate: backup %s not found", validateArgs.backupID)
		}
		res, broken := catalog.ScanParentChain(index, target)
		if res != catalog.ChainOK {
			return fmt.Errorf("validate: %s", chainResultString(res, broken))
		}
		fmt.Printf("%s: OK\n", target.ID)
		return nil
	},
}

func chainResultString(res catalog.ChainScanResult, at *catalog.Backup) string {
	switch res {
	case catalog.ChainBroken:
		return fmt.Sprintf("chain broken, missing parent of %s", at.ID)
	case catalog.ChainHasInvalid:
		return fmt.Sprintf("chain has a non-OK ancestor at %s", at.ID)
	default:
		return "OK"
	}
}

func init() {
	validateCmd.Flags().StringVar(&validateArgs.backupID, "backup-id", "", "Backup to validate (default: every backup in the instance)")
}
