// Package coordinator implements the backup protocol coordinator
// (C6): the state machine that drives one backup session from
// directory creation through the cluster's start/stop backup markers
// to a finished catalog entry.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vbp1/pgbackup/internal/catalog"
	"github.com/vbp1/pgbackup/internal/copier"
	"github.com/vbp1/pgbackup/internal/debug"
	"github.com/vbp1/pgbackup/internal/inventory"
	"github.com/vbp1/pgbackup/internal/page"
	"github.com/vbp1/pgbackup/internal/pagemap"
	"github.com/vbp1/pgbackup/internal/postgres"
	"github.com/vbp1/pgbackup/internal/wal"
	"github.com/vbp1/pgbackup/internal/walarchive"
)

// State is one of the backup session's lifecycle states.
type State string

const (
	StateInit      State = "INIT"
	StateLocked    State = "LOCKED"
	StateStarted   State = "STARTED"
	StateStreaming State = "STREAMING"
	StateCopying   State = "COPYING"
	StateStopped   State = "STOPPED"
	StateWALWaiting State = "WAL_WAITING"
	StateFinalised State = "FINALISED"
	StateDone      State = "DONE"
	StateError     State = "ERROR"
)

// Options configures one backup session end to end.
type Options struct {
	Pool     *pgxpool.Pool
	Instance string
	CatalogRoot string

	Mode  catalog.Mode
	Label string

	DataDir      string
	ExternalDirs []inventory.ExternalDir

	CompressAlg  page.Algorithm
	CompressLevel int
	ChecksumsEnabled bool
	NumWorkers   int

	Stream         bool
	FromReplica    bool
	PrimaryConn    string
	ArchiveDir     string // archive_command's target directory, archive mode only
	WaitForArchiveTimeout time.Duration
	CheckpointTimeoutSec  int

	PTrack interface {
		pagemap.PTrackClient
		copier.PTrackFetcher
	}

	Progress copier.ProgressReporter

	// Interrupted is polled by both the worker pool and the
	// coordinator's own wait loops.
	Interrupted func() bool

	ProgramVersion string
}

// Session drives one backup from INIT through DONE or ERROR.
type Session struct {
	opts   Options
	layout *catalog.Layout
	lock   *catalog.BackupLock
	backup *catalog.Backup

	state            State
	backupInProgress bool

	stream *streamTask
	files  []*catalog.File
}

// Run executes a full backup session and returns the finished backup
// record, or an error after best-effort cleanup.
func Run(ctx context.Context, opts Options) (*catalog.Backup, error) {
	s := &Session{
		opts:   opts,
		layout: catalog.NewLayout(opts.CatalogRoot, opts.Instance),
		state:  StateInit,
	}

	backup, err := s.resolveParent(opts)
	if err != nil {
		return nil, err
	}
	s.backup = backup

	if err := s.run(ctx); err != nil {
		s.fail(ctx, err)
		return s.backup, err
	}
	return s.backup, nil
}

func (s *Session) resolveParent(opts Options) (*catalog.Backup, error) {
	b := catalog.NewBackup(opts.Mode, time.Now(), "")
	if opts.Mode != catalog.ModeFull {
		backups, err := catalog.ListBackups(s.layout)
		if err != nil {
			return nil, fmt.Errorf("coordinator: listing backups: %w", err)
		}
		index := catalog.IndexByID(backups)
		var parent *catalog.Backup
		for i := len(backups) - 1; i >= 0; i-- {
			if backups[i].Usable() {
				parent = backups[i]
				break
			}
		}
		if parent == nil {
			return nil, fmt.Errorf("coordinator: no usable parent backup found for mode %s", opts.Mode)
		}
		if _, err := catalog.FindParentFull(index, parent); err != nil {
			return nil, fmt.Errorf("coordinator: %w", err)
		}
		b.ParentID = parent.ID
	}
	b.Stream = opts.Stream
	b.FromReplica = opts.FromReplica
	b.CompressAlg = string(opts.CompressAlg)
	b.CompressLevel = opts.CompressLevel
	b.ChecksumOn = opts.ChecksumsEnabled
	b.BlockSize = page.Size
	b.WALBlockSize = page.Size
	b.ProgramVer = opts.ProgramVersion
	b.PrimaryConn = opts.PrimaryConn
	b.DataBytes = catalog.BytesInvalid
	b.WALBytes = catalog.BytesInvalid
	b.ExternalDirs = joinExternalDirs(opts.ExternalDirs)
	return b, nil
}

func joinExternalDirs(dirs []inventory.ExternalDir) string {
	s := ""
	for i, d := range dirs {
		if i > 0 {
			s += ":"
		}
		s += d.Path
	}
	return s
}

func (s *Session) run(ctx context.Context) error {
	if err := s.toLocked(); err != nil {
		return err
	}
	if err := s.toStarted(ctx); err != nil {
		return err
	}
	if s.opts.Stream {
		if err := s.toStreaming(ctx); err != nil {
			return err
		}
	}
	if err := s.toCopying(ctx); err != nil {
		return err
	}
	if err := s.toStopped(ctx); err != nil {
		return err
	}
	if err := s.toWALWaiting(ctx); err != nil {
		return err
	}
	if err := s.toFinalised(ctx); err != nil {
		return err
	}
	return s.toDone(ctx)
}

func (s *Session) toLocked() error {
	dir := s.layout.BackupDir(s.backup.ID)
	if err := os.MkdirAll(s.layout.DatabaseDir(s.backup.ID), 0o700); err != nil {
		return fmt.Errorf("coordinator: creating %s: %w", dir, err)
	}
	s.lock = catalog.NewBackupLock(dir)
	ok, err := s.lock.Acquire()
	if err != nil {
		return fmt.Errorf("coordinator: acquiring lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("coordinator: backup directory %s is locked by another process", dir)
	}
	s.state = StateLocked
	return nil
}

func (s *Session) toStarted(ctx context.Context) error {
	res, err := postgres.StartBackup(ctx, s.opts.Pool, s.opts.Label, true)
	if err != nil {
		return fmt.Errorf("coordinator: start backup: %w", err)
	}
	s.backupInProgress = true
	s.backup.StartLSN = res.StartLSN
	s.backup.Timeline = res.Timeline

	if s.opts.Mode == catalog.ModePage {
		if _, err := postgres.SwitchWAL(ctx, s.opts.Pool); err != nil {
			return fmt.Errorf("coordinator: switch wal: %w", err)
		}
	}

	if !s.opts.Stream {
		waitPrev := s.opts.Mode != catalog.ModePage
		_, err := walarchive.Wait(ctx, walarchive.Options{
			Dir:            s.opts.ArchiveDir,
			Timeline:       s.backup.Timeline,
			TargetLSN:      s.backup.StartLSN,
			WaitPrevious:   waitPrev,
			ArchiveTimeout: s.opts.WaitForArchiveTimeout,
			ReplicaMode:    s.opts.FromReplica,
		})
		if err != nil {
			return fmt.Errorf("coordinator: waiting for start segment: %w", err)
		}
	}

	s.state = StateStarted
	return nil
}

func (s *Session) toStreaming(ctx context.Context) error {
	walDir := filepath.Join(s.layout.DatabaseDir(s.backup.ID), "pg_wal")
	st, err := startStream(ctx, s.opts, walDir, s.backup.StartLSN)
	if err != nil {
		return fmt.Errorf("coordinator: starting wal stream: %w", err)
	}
	s.stream = st
	s.state = StateStreaming
	return nil
}

func (s *Session) toCopying(ctx context.Context) error {
	s.state = StateCopying

	tablespaces, err := postgres.ListTablespaces(ctx, s.opts.Pool)
	if err != nil {
		return fmt.Errorf("coordinator: listing tablespaces: %w", err)
	}
	var invTablespaces []inventory.Tablespace
	for _, ts := range tablespaces {
		invTablespaces = append(invTablespaces, inventory.Tablespace{Oid: ts.Oid, Location: ts.Location})
	}

	files, err := inventory.Walk(inventory.Options{
		DataDir:      s.opts.DataDir,
		ExternalDirs: s.opts.ExternalDirs,
		Tablespaces:  invTablespaces,
		Streaming:    s.opts.Stream,
	})
	// deterministic hook for exercising the "file deleted between
	// inventory and copy" scenario: a test sets PGCLONE_TEST_STOP=
	// post-inventory, blocks here, removes a non-critical file from
	// opts.DataDir, then signals the process to continue.
	debug.StopIf("post-inventory")
	if err != nil {
		return fmt.Errorf("coordinator: inventory walk: %w", err)
	}

	var parent *catalog.Backup
	var parentFiles []*catalog.File
	if s.backup.ParentID != "" {
		backups, err := catalog.ListBackups(s.layout)
		if err != nil {
			return fmt.Errorf("coordinator: listing backups: %w", err)
		}
		idx := catalog.IndexByID(backups)
		parent = idx[s.backup.ParentID]
		parentFiles, err = catalog.ReadFilelist(s.layout.BackupDir(parent.ID))
		if err != nil {
			return fmt.Errorf("coordinator: reading parent filelist: %w", err)
		}
	}

	numWorkers := s.opts.NumWorkers
	if numWorkers <= 0 {
		numWorkers = 1
	}

	var ptrackClient pagemap.PTrackClient
	if s.opts.PTrack != nil {
		ptrackClient = s.opts.PTrack
	}
	buildDeps := pagemap.BuildDeps{
		ParentFiles:  parentFiles,
		WALDir:       s.opts.ArchiveDir,
		Timeline:     s.backup.Timeline,
		SegmentBytes: wal.SegmentBytes,
		PTrack:       ptrackClient,
	}
	if err := pagemap.Build(ctx, s.opts.Mode, files, parent, buildDeps); err != nil {
		return fmt.Errorf("coordinator: building page map: %w", err)
	}

	files = inventory.SortForCopy(files, numWorkers)

	sourcePaths := copier.SourcePaths{DataDir: s.opts.DataDir, ExternalDirs: map[int]string{}}
	for i, ext := range s.opts.ExternalDirs {
		sourcePaths.ExternalDirs[i+1] = ext.Path
	}

	var ptrackFetcher copier.PTrackFetcher
	if s.opts.PTrack != nil {
		ptrackFetcher = s.opts.PTrack
	}

	copyOpts := copier.Options{
		Source:           sourcePaths,
		Layout:           s.layout,
		ID:               s.backup.ID,
		Mode:             s.opts.Mode,
		Alg:              s.opts.CompressAlg,
		Level:            s.opts.CompressLevel,
		ChecksumsEnabled: s.opts.ChecksumsEnabled,
		NumWorkers:       numWorkers,
		Parent:           parent,
		PTrack:           ptrackFetcher,
		Interrupted:      s.opts.Interrupted,
		Progress:         s.opts.Progress,
	}

	jobs := copier.NewJobs(files)
	if err := copier.Run(ctx, jobs, copyOpts); err != nil {
		return fmt.Errorf("coordinator: copying files: %w", err)
	}

	s.files = pruneNotFound(files)
	return nil
}

func pruneNotFound(files []*catalog.File) []*catalog.File {
	out := files[:0]
	for _, f := range files {
		if f.WriteSize == catalog.NotFound && !f.IsDir && f.Linked == "" {
			continue
		}
		out = append(out, f)
	}
	return out
}

func (s *Session) toStopped(ctx context.Context) error {
	res, err := postgres.StopBackup(ctx, s.opts.Pool, true)
	if err != nil {
		return fmt.Errorf("coordinator: stop backup: %w", err)
	}
	s.backupInProgress = false
	s.backup.StopLSN = res.StopLSN

	dbDir := s.layout.DatabaseDir(s.backup.ID)
	if err := os.WriteFile(filepath.Join(dbDir, "backup_label"), []byte(res.LabelFile), 0o600); err != nil {
		return fmt.Errorf("coordinator: writing backup_label: %w", err)
	}
	if res.TablespaceMapFile != "" {
		if err := os.WriteFile(filepath.Join(dbDir, "tablespace_map"), []byte(res.TablespaceMapFile), 0o600); err != nil {
			return fmt.Errorf("coordinator: writing tablespace_map: %w", err)
		}
	}

	s.state = StateStopped
	return nil
}

func (s *Session) toWALWaiting(ctx context.Context) error {
	stopLSN := s.backup.StopLSN
	if stopLSN%uint64(page.Size) == 0 {
		res, err := walarchive.Wait(ctx, walarchive.Options{
			Dir:            s.layout.DatabaseDir(s.backup.ID) + "/pg_wal",
			Timeline:       s.backup.Timeline,
			TargetLSN:      stopLSN,
			SegmentBytes:   wal.SegmentBytes,
			ArchiveTimeout: s.opts.WaitForArchiveTimeout,
			ReplicaMode:    true,
		})
		if err == nil {
			stopLSN = res.EffectiveLSN
		}
	}
	s.backup.StopLSN = stopLSN

	if s.opts.Stream && s.stream != nil {
		timeout := time.Duration(float64(s.opts.CheckpointTimeoutSec)*1.1) * time.Second
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		if err := s.stream.stopAt(ctx, stopLSN, timeout); err != nil {
			return fmt.Errorf("coordinator: joining wal stream: %w", err)
		}
	} else if !s.opts.Stream {
		if _, err := walarchive.Wait(ctx, walarchive.Options{
			Dir:            s.opts.ArchiveDir,
			Timeline:       s.backup.Timeline,
			TargetLSN:      stopLSN,
			SegmentBytes:   wal.SegmentBytes,
			ArchiveTimeout: s.opts.WaitForArchiveTimeout,
			ReplicaMode:    s.opts.FromReplica,
		}); err != nil {
			return fmt.Errorf("coordinator: waiting for stop segment: %w", err)
		}
	}

	s.state = StateWALWaiting
	return nil
}

func (s *Session) toFinalised(ctx context.Context) error {
	now := time.Now()
	s.backup.RecoveryTime = now
	xmax, err := postgres.CurrentXactIDXmax(ctx, s.opts.Pool)
	if err == nil {
		s.backup.RecoveryXID = xmax
	}

	if s.opts.FromReplica && !s.backup.Stream {
		if err := rewriteMinRecoveryPoint(s.layout.DatabaseDir(s.backup.ID), s.backup.StopLSN); err != nil {
			slog.Warn("coordinator: could not rewrite minRecoveryPoint", "error", err)
		}
	}

	s.state = StateFinalised
	return nil
}

func (s *Session) toDone(ctx context.Context) error {
	dir := s.layout.BackupDir(s.backup.ID)
	dataBytes, err := catalog.WriteFilelist(dir, s.files)
	if err != nil {
		return fmt.Errorf("coordinator: writing filelist: %w", err)
	}
	s.backup.DataBytes = dataBytes
	s.backup.EndTime = time.Now()
	s.backup.Status = catalog.StatusDone

	if err := catalog.WriteControl(dir, s.backup); err != nil {
		return fmt.Errorf("coordinator: writing control file: %w", err)
	}

	if err := s.lock.Release(); err != nil {
		slog.Warn("coordinator: releasing lock", "error", err)
	}

	s.state = StateDone
	return nil
}

// fail runs the cleanup callback: issue "stop backup" if still in
// progress, mark the catalog entry ERROR, and release the lock.
func (s *Session) fail(ctx context.Context, cause error) {
	slog.Error("coordinator: backup session failed", "backup", s.backup.ID, "state", s.state, "error", cause)

	if s.backupInProgress {
		if _, err := postgres.StopBackup(ctx, s.opts.Pool, false); err != nil {
			slog.Warn("coordinator: cleanup stop backup failed", "error", err)
		}
		s.backupInProgress = false
	}
	if s.stream != nil {
		s.stream.abort()
	}

	s.backup.Status = catalog.StatusError
	s.backup.EndTime = time.Now()
	if dir := s.layout.BackupDir(s.backup.ID); dirExists(dir) {
		if err := catalog.WriteControl(dir, s.backup); err != nil {
			slog.Warn("coordinator: writing error control file", "error", err)
		}
	}
	if s.lock != nil {
		_ = s.lock.Release()
	}
	s.state = StateError
}

func dirExists(path string) bool {
	st, err := os.Stat(path)
	return err == nil && st.IsDir()
}
