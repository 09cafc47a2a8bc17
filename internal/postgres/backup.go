package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// LSN is a parsed log sequence number, kept as the raw uint64 the rest
// of the module (catalog, blockstream, pagemap) works with.
type LSN = uint64

// ParseLSN parses PostgreSQL's "%X/%X" textual LSN representation.
func ParseLSN(s string) (LSN, error) {
	var hi, lo uint32
	if _, err := fmt.Sscanf(s, "%X/%X", &hi, &lo); err != nil {
		return 0, fmt.Errorf("postgres: malformed LSN %q: %w", s, err)
	}
	return LSN(hi)<<32 | LSN(lo), nil
}

// FormatLSN renders lsn in PostgreSQL's "%X/%X" textual form.
func FormatLSN(lsn LSN) string {
	return fmt.Sprintf("%X/%X", uint32(lsn>>32), uint32(lsn))
}

// BackupStartResult is what StartBackup reports: the LSN backup tools
// must copy from (pg_backup_start's result), and the server's current
// timeline read right after it.
type BackupStartResult struct {
	StartLSN LSN
	Timeline uint32
}

// StartBackup calls pg_backup_start(label, fast), the non-exclusive
// low-level API used since PostgreSQL 15 dropped exclusive backups.
func StartBackup(ctx context.Context, pool *pgxpool.Pool, label string, fast bool) (BackupStartResult, error) {
	var lsnStr string
	if err := pool.QueryRow(ctx, "SELECT pg_backup_start($1, $2)", label, fast).Scan(&lsnStr); err != nil {
		return BackupStartResult{}, fmt.Errorf("pg_backup_start: %w", err)
	}
	lsn, err := ParseLSN(lsnStr)
	if err != nil {
		return BackupStartResult{}, err
	}
	tli, err := CurrentTimeline(ctx, pool)
	if err != nil {
		return BackupStartResult{}, err
	}
	return BackupStartResult{StartLSN: lsn, Timeline: tli}, nil
}

// BackupStopResult is pg_backup_stop's result set: the LSN backup
// tools must include WAL through, the backup label file contents to
// write into the backup directory, and the tablespace map (empty if
// there were no extra tablespaces).
type BackupStopResult struct {
	StopLSN         LSN
	LabelFile       string
	TablespaceMapFile string
}

// StopBackup calls pg_backup_stop(wait_for_archive), returning the
// label/tablespace-map text the caller must write as backup_label and
// tablespace_map inside the backup directory.
func StopBackup(ctx context.Context, pool *pgxpool.Pool, waitForArchive bool) (BackupStopResult, error) {
	const q = `SELECT lsn, labelfile, spcmapfile FROM pg_backup_stop($1)`
	var lsnStr, label, spcmap string
	if err := pool.QueryRow(ctx, q, waitForArchive).Scan(&lsnStr, &label, &spcmap); err != nil {
		return BackupStopResult{}, fmt.Errorf("pg_backup_stop: %w", err)
	}
	lsn, err := ParseLSN(lsnStr)
	if err != nil {
		return BackupStopResult{}, err
	}
	return BackupStopResult{StopLSN: lsn, LabelFile: label, TablespaceMapFile: spcmap}, nil
}

// SwitchWAL calls pg_switch_wal(), forcing the current WAL segment to
// be archived immediately, and returns the LSN of the switch point.
func SwitchWAL(ctx context.Context, pool *pgxpool.Pool) (LSN, error) {
	var lsnStr string
	if err := pool.QueryRow(ctx, "SELECT pg_switch_wal()").Scan(&lsnStr); err != nil {
		return 0, fmt.Errorf("pg_switch_wal: %w", err)
	}
	return ParseLSN(lsnStr)
}

// CreateRestorePoint calls pg_create_restore_point(name).
func CreateRestorePoint(ctx context.Context, pool *pgxpool.Pool, name string) (LSN, error) {
	var lsnStr string
	if err := pool.QueryRow(ctx, "SELECT pg_create_restore_point($1)", name).Scan(&lsnStr); err != nil {
		return 0, fmt.Errorf("pg_create_restore_point: %w", err)
	}
	return ParseLSN(lsnStr)
}

// CurrentTimeline reads the server's current timeline ID out of
// pg_control_checkpoint(), since there is no direct "current timeline"
// function.
func CurrentTimeline(ctx context.Context, pool *pgxpool.Pool) (uint32, error) {
	var tli uint32
	const q = `SELECT timeline_id FROM pg_control_checkpoint()`
	if err := pool.QueryRow(ctx, q).Scan(&tli); err != nil {
		return 0, fmt.Errorf("pg_control_checkpoint: %w", err)
	}
	return tli, nil
}

// CurrentCheckpointLSN returns the LSN of the most recent checkpoint.
func CurrentCheckpointLSN(ctx context.Context, pool *pgxpool.Pool) (LSN, error) {
	var lsnStr string
	const q = `SELECT redo_lsn FROM pg_control_checkpoint()`
	if err := pool.QueryRow(ctx, q).Scan(&lsnStr); err != nil {
		return 0, fmt.Errorf("pg_control_checkpoint: %w", err)
	}
	return ParseLSN(lsnStr)
}

// CheckpointTimeoutSeconds reads the checkpoint_timeout GUC.
func CheckpointTimeoutSeconds(ctx context.Context, pool *pgxpool.Pool) (int, error) {
	var secs int
	if err := pool.QueryRow(ctx, "SHOW checkpoint_timeout").Scan(&secs); err != nil {
		// SHOW returns e.g. "5min" as text in some drivers; fall back to the
		// GUC's underlying integer unit via pg_settings.
		const q = `SELECT setting::int FROM pg_settings WHERE name = 'checkpoint_timeout'`
		if err2 := pool.QueryRow(ctx, q).Scan(&secs); err2 != nil {
			return 0, fmt.Errorf("checkpoint_timeout: %w", err2)
		}
	}
	return secs, nil
}

// DataChecksumsEnabled reports whether the cluster was initialized
// with page checksums on.
func DataChecksumsEnabled(ctx context.Context, pool *pgxpool.Pool) (bool, error) {
	var setting string
	if err := pool.QueryRow(ctx, "SHOW data_checksums").Scan(&setting); err != nil {
		return false, fmt.Errorf("data_checksums: %w", err)
	}
	return setting == "on", nil
}

// IsInRecovery reports whether the connected server is a standby.
func IsInRecovery(ctx context.Context, pool *pgxpool.Pool) (bool, error) {
	var inRecovery bool
	if err := pool.QueryRow(ctx, "SELECT pg_is_in_recovery()").Scan(&inRecovery); err != nil {
		return false, fmt.Errorf("pg_is_in_recovery: %w", err)
	}
	return inRecovery, nil
}

// LastWALReceiveLSN returns the replica's last received WAL LSN.
func LastWALReceiveLSN(ctx context.Context, pool *pgxpool.Pool) (LSN, error) {
	var lsnStr *string
	if err := pool.QueryRow(ctx, "SELECT pg_last_wal_receive_lsn()").Scan(&lsnStr); err != nil {
		return 0, fmt.Errorf("pg_last_wal_receive_lsn: %w", err)
	}
	if lsnStr == nil {
		return 0, nil
	}
	return ParseLSN(*lsnStr)
}

// LastWALReplayLSN returns the replica's last replayed WAL LSN.
func LastWALReplayLSN(ctx context.Context, pool *pgxpool.Pool) (LSN, error) {
	var lsnStr *string
	if err := pool.QueryRow(ctx, "SELECT pg_last_wal_replay_lsn()").Scan(&lsnStr); err != nil {
		return 0, fmt.Errorf("pg_last_wal_replay_lsn: %w", err)
	}
	if lsnStr == nil {
		return 0, nil
	}
	return ParseLSN(*lsnStr)
}

// CurrentXactIDXmax returns the xmax of the current transaction
// snapshot, used to stamp a backup's recovery-target transaction ID.
func CurrentXactIDXmax(ctx context.Context, pool *pgxpool.Pool) (uint64, error) {
	var xmax uint64
	const q = `SELECT xmax FROM pg_current_snapshot()`
	if err := pool.QueryRow(ctx, q).Scan(&xmax); err != nil {
		return 0, fmt.Errorf("pg_current_snapshot: %w", err)
	}
	return xmax, nil
}
