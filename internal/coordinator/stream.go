package coordinator

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vbp1/pgbackup/internal/postgres"
	"github.com/vbp1/pgbackup/internal/wal"
)

// streamTask wraps the dedicated WAL-streaming goroutine STARTED →
// STREAMING spawns: a pg_receivewal process plus the stop-LSN
// acquire/release handshake described in the concurrency model (the
// coordinator publishes stopLSN; the stream task observes it on
// wakeup).
type streamTask struct {
	receiver *wal.Receiver
	stopLSN  atomic.Uint64 // 0 means "not yet published"
	done     chan struct{}
}

func startStream(ctx context.Context, opts Options, walDir string, startLSN uint64) (*streamTask, error) {
	host, port, user := connInfoFromPool(opts.Pool)
	if err := os.MkdirAll(walDir, 0o700); err != nil {
		return nil, err
	}

	r := &wal.Receiver{
		Host:    host,
		Port:    port,
		User:    user,
		Dir:     walDir,
		AppName: "pgbackup_stream_" + strconv.FormatInt(time.Now().Unix(), 10),
	}
	if err := r.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting pg_receivewal: %w", err)
	}

	t := &streamTask{receiver: r, done: make(chan struct{})}
	go t.watch(walDir)
	return t, nil
}

// watch polls walDir until the highest-numbered segment present
// covers the published stopLSN, then closes done. This stands in for
// a real replication-protocol position callback, which pg_receivewal
// does not expose directly.
func (t *streamTask) watch(walDir string) {
	defer close(t.done)
	for {
		time.Sleep(1 * time.Second)
		stop := t.stopLSN.Load()
		if stop == 0 {
			continue
		}
		if segmentCovers(walDir, stop) {
			return
		}
	}
}

func segmentCovers(walDir string, lsn uint64) bool {
	entries, err := os.ReadDir(walDir)
	if err != nil {
		return false
	}
	segName := wal.SegmentName(0, lsn, wal.SegmentBytes) // timeline ignored for presence check
	want := segName[8:] // xlogid+seg portion, timeline-independent comparison
	for _, e := range entries {
		if len(e.Name()) >= 24 && e.Name()[8:24] >= want {
			return true
		}
	}
	return false
}

// stopAt publishes stopLSN to the watcher goroutine and blocks for it
// to observe coverage, up to timeout, then stops the underlying
// pg_receivewal process.
func (t *streamTask) stopAt(ctx context.Context, stopLSN uint64, timeout time.Duration) error {
	t.stopLSN.Store(stopLSN)
	select {
	case <-t.done:
	case <-time.After(timeout):
		_ = t.receiver.Stop()
		return fmt.Errorf("timed out after %s waiting for wal stream to reach %s", timeout, postgres.FormatLSN(stopLSN))
	case <-ctx.Done():
		_ = t.receiver.Stop()
		return ctx.Err()
	}
	return t.receiver.Stop()
}

// abort stops the stream task unconditionally, used on the failure
// cleanup path.
func (t *streamTask) abort() {
	_ = t.receiver.Stop()
}

// connInfoFromPool extracts host/port/user from the pool's config for
// handing to pg_receivewal, which takes its own connection flags
// rather than sharing the pool's connection.
func connInfoFromPool(pool *pgxpool.Pool) (host string, port int, user string) {
	cfg := pool.Config().ConnConfig
	host = cfg.Host
	port = int(cfg.Port)
	user = cfg.User
	if host == "" {
		host = "localhost"
	}
	return host, port, user
}
