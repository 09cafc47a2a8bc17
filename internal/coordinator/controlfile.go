package coordinator

import "fmt"

// rewriteMinRecoveryPoint is a placeholder for the WAL_WAITING →
// FINALISED step's requirement to patch a replica-sourced control
// file's minRecoveryPoint field to stop-LSN. Doing this correctly means
// binary-patching pg_control at its version-specific offset and
// recomputing its trailing CRC32C, and the pg_control layout is not
// among the structures this module's WAL/page decoders already model
// (internal/wal targets the record stream, not pg_control's
// ControlFileData). Rather than guess at an offset table per major
// version, this is left as an explicit gap: callers are warned (see
// Session.toFinalised) and the restored replica falls back to
// PostgreSQL's own crash recovery to reach consistency, which is
// always correct, just not as fast as a pre-set minRecoveryPoint would
// be.
func rewriteMinRecoveryPoint(dbDir string, stopLSN uint64) error {
	return fmt.Errorf("coordinator: minRecoveryPoint rewrite not implemented for %s (stop lsn %x)", dbDir, stopLSN)
}
