package cli

import (
	"fmt"
	"text/tabwriter"
	"os"

	"github.com/spf13/cobra"

	"github.com/vbp1/pgbackup/internal/catalog"
)

var showArgs struct {
	backupID string
}

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "List backups in the catalog, or show one in detail",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireCatalogAndInstance(); err != nil {
			return err
		}
		layout := catalog.NewLayout(cfg.CatalogRoot, cfg.Instance)

		if showArgs.backupID != "" {
			b, err := catalog.ReadControl(layout.BackupDir(showArgs.backupID))
			if err != nil {
				return fmt.Errorf("show: %w", err)
			}
			printBackupDetail(b)
			return nil
		}

		backups, err := catalog.ListBackups(layout)
		if err != nil {
			return fmt.Errorf("show: %w", err)
		}
		printBackupTable(backups)
		return nil
	},
}

func printBackupTable(backups []*catalog.Backup) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	defer w.Flush()
	fmt.Fprintln(w, "ID\tMODE\tSTATUS\tSTART\tPARENT")
	for _, b := range backups {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", b.ID, b.Mode, b.Status, b.StartTime.Format("2006-01-02 15:04:05"), orDash(b.ParentID))
	}
}

func printBackupDetail(b *catalog.Backup) {
	fmt.Printf("id: %s\n", b.ID)
	fmt.Printf("mode: %s\n", b.Mode)
	fmt.Printf("status: %s\n", b.Status)
	fmt.Printf("timeline: %d\n", b.Timeline)
	fmt.Printf("start-lsn: %s\n", fmt.Sprintf("%X/%X", uint32(b.StartLSN>>32), uint32(b.StartLSN)))
	fmt.Printf("stop-lsn: %s\n", fmt.Sprintf("%X/%X", uint32(b.StopLSN>>32), uint32(b.StopLSN)))
	fmt.Printf("parent-id: %s\n", orDash(b.ParentID))
	fmt.Printf("data-bytes: %d\n", b.DataBytes)
	fmt.Printf("start-time: %s\n", b.StartTime)
	fmt.Printf("end-time: %s\n", b.EndTime)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func init() {
	showCmd.Flags().StringVar(&showArgs.backupID, "backup-id", "", "Show details of a single backup")
}
