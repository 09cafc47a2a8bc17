package cli

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/vbp1/pgbackup/internal/catalog"
	"github.com/vbp1/pgbackup/internal/coordinator"
	"github.com/vbp1/pgbackup/internal/inventory"
	"github.com/vbp1/pgbackup/internal/instanceconf"
	"github.com/vbp1/pgbackup/internal/page"
	"github.com/vbp1/pgbackup/internal/postgres"
	"github.com/vbp1/pgbackup/internal/process"
	"github.com/vbp1/pgbackup/internal/util/disk"
	"github.com/vbp1/pgbackup/internal/util/signalctx"
)

var backupArgs struct {
	mode            string
	pghost          string
	pgport          int
	pguser          string
	pgdatabase      string
	pgdata          string
	externalDirs    []string
	compressAlg     string
	compressLevel   int
	stream          bool
	fromReplica     bool
	primaryConn     string
	archiveDir      string
	waitArchiveSecs int
	checksums       bool
	parallel        int
	progress        string
	label           string
}

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Take a FULL, PAGE, PTRACK or DELTA backup of the instance",
	RunE:  runBackup,
}

func runBackup(cmd *cobra.Command, args []string) error {
	if err := requireCatalogAndInstance(); err != nil {
		return err
	}
	ic, err := instanceconf.Load(cfg.CatalogRoot, cfg.Instance)
	if err != nil {
		return err
	}
	if !cmd.Flags().Changed("pghost") && ic.PGHost != "" {
		backupArgs.pghost = ic.PGHost
	}
	if !cmd.Flags().Changed("pgport") && ic.PGPort != 0 {
		backupArgs.pgport = ic.PGPort
	}
	if !cmd.Flags().Changed("pguser") && ic.PGUser != "" {
		backupArgs.pguser = ic.PGUser
	}
	if !cmd.Flags().Changed("pgdata") && ic.DataDir != "" {
		backupArgs.pgdata = ic.DataDir
	}
	if !cmd.Flags().Changed("external-dirs") && len(ic.ExternalDirs) > 0 {
		backupArgs.externalDirs = ic.ExternalDirs
	}

	mode, err := parseMode(backupArgs.mode)
	if err != nil {
		return err
	}
	if backupArgs.pgdata == "" {
		return fmt.Errorf("backup: --pgdata required (or set via add-instance)")
	}

	ctx, cancel, _ := signalctx.WithSignals(context.Background())
	defer cancel()
	// a stream-mode session's pg_receivewal child is normally stopped by
	// the coordinator's own cleanup path; this is the backstop for a
	// second SIGINT/SIGTERM (or a crash in the cleanup path itself)
	// that leaves it orphaned.
	process.KillChildrenOnCancel(ctx, 5*time.Second)

	dsn := fmt.Sprintf("host=%s port=%d user=%s dbname=%s", backupArgs.pghost, backupArgs.pgport, backupArgs.pguser, orDefault(backupArgs.pgdatabase, "postgres"))
	pool, err := postgres.Connect(ctx, dsn, 4)
	if err != nil {
		return fmt.Errorf("backup: connecting: %w", err)
	}
	defer pool.Close()

	if err := postgres.EnsureVersion15Plus(ctx, pool); err != nil {
		return err
	}

	if sp, err := disk.FreeBytes(cfg.CatalogRoot); err == nil {
		slog.Info("catalog free space", "bytes", sp.Free)
	}

	var externalDirs []inventory.ExternalDir
	for _, d := range backupArgs.externalDirs {
		externalDirs = append(externalDirs, inventory.ExternalDir{Path: d})
	}

	ptrack := postgres.PTrack{Pool: pool}

	progress := progressReporter(backupArgs.progress)

	opts := coordinator.Options{
		Pool:                  pool,
		Instance:              cfg.Instance,
		CatalogRoot:           cfg.CatalogRoot,
		Mode:                  mode,
		Label:                 backupArgs.label,
		DataDir:               backupArgs.pgdata,
		ExternalDirs:          externalDirs,
		CompressAlg:           page.Algorithm(backupArgs.compressAlg),
		CompressLevel:         backupArgs.compressLevel,
		ChecksumsEnabled:      backupArgs.checksums,
		NumWorkers:            backupArgs.parallel,
		Stream:                backupArgs.stream,
		FromReplica:           backupArgs.fromReplica,
		PrimaryConn:           backupArgs.primaryConn,
		ArchiveDir:            orDefault(backupArgs.archiveDir, ic.ArchiveDir),
		WaitForArchiveTimeout: time.Duration(backupArgs.waitArchiveSecs) * time.Second,
		PTrack:                ptrack,
		Progress:              progress,
		ProgramVersion:        "1.0",
	}
	if timeout, err := postgres.CheckpointTimeoutSeconds(ctx, pool); err == nil {
		opts.CheckpointTimeoutSec = timeout
	}

	b, err := coordinator.Run(ctx, opts)
	if b != nil {
		fmt.Printf("backup %s status %s\n", b.ID, b.Status)
	}
	if err != nil {
		return fmt.Errorf("backup: %w", err)
	}
	return nil
}

func parseMode(s string) (catalog.Mode, error) {
	switch s {
	case "", "full":
		return catalog.ModeFull, nil
	case "page":
		return catalog.ModePage, nil
	case "ptrack":
		return catalog.ModePtrack, nil
	case "delta":
		return catalog.ModeDelta, nil
	default:
		return "", fmt.Errorf("backup: unknown --backup-mode %q", s)
	}
}

func orDefault(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}

func init() {
	f := backupCmd.Flags()
	f.StringVar(&backupArgs.mode, "backup-mode", "full", "full|page|ptrack|delta")
	f.StringVar(&backupArgs.pghost, "pghost", "localhost", "Database host")
	f.IntVar(&backupArgs.pgport, "pgport", 5432, "Database port")
	f.StringVar(&backupArgs.pguser, "pguser", "postgres", "Database user")
	f.StringVar(&backupArgs.pgdatabase, "pgdatabase", "", "Database name used for the backup connection")
	f.StringVar(&backupArgs.pgdata, "pgdata", "", "Data directory to back up")
	f.StringSliceVar(&backupArgs.externalDirs, "external-dirs", nil, "Comma-separated external directories")
	f.StringVar(&backupArgs.compressAlg, "compress-algorithm", "none", "none|zlib|pglz")
	f.IntVar(&backupArgs.compressLevel, "compress-level", 1, "Compression level")
	f.BoolVar(&backupArgs.stream, "stream", false, "Stream WAL via pg_receivewal instead of waiting on the archive")
	f.BoolVar(&backupArgs.fromReplica, "from-replica", false, "Backup is being taken against a standby")
	f.StringVar(&backupArgs.primaryConn, "master-conninfo", "", "Primary's conninfo, recorded for replica backups")
	f.StringVar(&backupArgs.archiveDir, "archive-dir", "", "WAL archive directory (overrides instance config)")
	f.IntVar(&backupArgs.waitArchiveSecs, "archive-timeout", 300, "Seconds to wait for a WAL segment to be archived")
	f.BoolVar(&backupArgs.checksums, "checksums", true, "Verify per-page checksums while copying")
	f.IntVar(&backupArgs.parallel, "parallel", 1, "Number of parallel copy workers")
	f.StringVar(&backupArgs.progress, "progress", "auto", "auto|bar|none")
	f.StringVar(&backupArgs.label, "label", "", "Free-text label recorded with the backup")
}
