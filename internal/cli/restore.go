package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vbp1/pgbackup/internal/catalog"
	"github.com/vbp1/pgbackup/internal/restore"
)

var restoreArgs struct {
	backupID    string
	destDataDir string
	remap       []string
	noValidate  bool
	asReplica   bool
	primaryConn string
}

var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Restore a backup (and its ancestor chain) to a data directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireCatalogAndInstance(); err != nil {
			return err
		}
		if restoreArgs.destDataDir == "" {
			return fmt.Errorf("restore: --restore-target-dir required")
		}
		layout := catalog.NewLayout(cfg.CatalogRoot, cfg.Instance)

		targetID := restoreArgs.backupID
		if targetID == "" {
			backups, err := catalog.ListBackups(layout)
			if err != nil {
				return err
			}
			for _, b := range backups {
				if b.Usable() {
					targetID = b.ID
				}
			}
			if targetID == "" {
				return fmt.Errorf("restore: no usable backup found for instance %s", cfg.Instance)
			}
		}

		remap := restore.TablespaceRemap{}
		for _, kv := range restoreArgs.remap {
			parts := strings.SplitN(kv, "=", 2)
			if len(parts) != 2 {
				return fmt.Errorf("restore: malformed --tablespace-mapping %q, want old=new", kv)
			}
			remap[parts[0]] = parts[1]
		}

		res, err := restore.Restore(restore.Options{
			Layout:      layout,
			TargetID:    targetID,
			DestDataDir: restoreArgs.destDataDir,
			Remap:       remap,
			NoValidate:  restoreArgs.noValidate,
			AsReplica:   restoreArgs.asReplica,
			PrimaryConn: restoreArgs.primaryConn,
		})
		if err != nil {
			return fmt.Errorf("restore: %w", err)
		}
		fmt.Printf("restored %d bytes across %d backups to %s\n", res.BytesWritten, len(res.Chain), restoreArgs.destDataDir)
		return nil
	},
}

func init() {
	f := restoreCmd.Flags()
	f.StringVar(&restoreArgs.backupID, "backup-id", "", "Backup to restore (default: latest usable)")
	f.StringVar(&restoreArgs.destDataDir, "restore-target-dir", "", "Destination data directory (required)")
	f.StringArrayVar(&restoreArgs.remap, "tablespace-mapping", nil, "old=new, repeatable")
	f.BoolVar(&restoreArgs.noValidate, "no-validate", false, "Skip chain validation before restoring")
	f.BoolVar(&restoreArgs.asReplica, "restore-as-replica", false, "Write standby.signal and recovery settings")
	f.StringVar(&restoreArgs.primaryConn, "primary-conninfo", "", "primary_conninfo for --restore-as-replica")
}
