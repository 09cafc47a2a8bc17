package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vbp1/pgbackup/internal/walarchive"
)

var archivePushArgs struct {
	walFilePath string
	compress    bool
	overwrite   bool
}

// archivePushCmd is what archive_command invokes once per completed
// WAL segment: `pgbackup archive-push --wal-file-path %p`.
var archivePushCmd = &cobra.Command{
	Use:   "archive-push",
	Short: "Copy one completed WAL segment into the instance's archive directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireCatalogAndInstance(); err != nil {
			return err
		}
		dir, err := instanceArchiveDir()
		if err != nil {
			return err
		}
		if archivePushArgs.walFilePath == "" {
			return fmt.Errorf("archive-push: --wal-file-path required")
		}
		return walarchive.Push(archivePushArgs.walFilePath, walarchive.PushOptions{
			Dir:         dir,
			Compress:    archivePushArgs.compress,
			OverwriteOK: archivePushArgs.overwrite,
		})
	},
}

var archiveGetArgs struct {
	walFileName string
	destPath    string
}

// archiveGetCmd is what restore_command invokes to fetch one WAL
// segment by name: `pgbackup archive-get --wal-file-name %f --wal-file-path %p`.
var archiveGetCmd = &cobra.Command{
	Use:   "archive-get",
	Short: "Fetch one WAL segment from the instance's archive directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireCatalogAndInstance(); err != nil {
			return err
		}
		dir, err := instanceArchiveDir()
		if err != nil {
			return err
		}
		if archiveGetArgs.walFileName == "" || archiveGetArgs.destPath == "" {
			return fmt.Errorf("archive-get: --wal-file-name and --wal-file-path required")
		}
		return walarchive.Get(archiveGetArgs.walFileName, archiveGetArgs.destPath, dir)
	},
}

func instanceArchiveDir() (string, error) {
	ic, err := loadInstanceConfig()
	if err != nil {
		return "", err
	}
	if ic.ArchiveDir == "" {
		return "", fmt.Errorf("archive: no archive-dir set for instance %s (see add-instance/set-config)", cfg.Instance)
	}
	return ic.ArchiveDir, nil
}

func init() {
	f := archivePushCmd.Flags()
	f.StringVar(&archivePushArgs.walFilePath, "wal-file-path", "", "Path to the completed WAL segment (PostgreSQL's %p)")
	f.BoolVar(&archivePushArgs.compress, "compress", false, "gzip the archived copy")
	f.BoolVar(&archivePushArgs.overwrite, "overwrite", false, "Allow overwriting an existing archived copy")

	g := archiveGetCmd.Flags()
	g.StringVar(&archiveGetArgs.walFileName, "wal-file-name", "", "Segment name PostgreSQL is requesting (its %f)")
	g.StringVar(&archiveGetArgs.destPath, "wal-file-path", "", "Destination path PostgreSQL expects the segment at (its %p)")
}
