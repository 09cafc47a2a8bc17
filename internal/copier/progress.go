package copier

import (
	"fmt"
	"time"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

// ProgressReporter is notified as bytes are copied, mirroring the
// teacher's mpb-backed rsync progress bar but driven by per-block
// writes instead of rsync's --out-format chatter.
type ProgressReporter interface {
	Add(n int64)
	Done()
}

// barReporter renders one mpb progress bar over the total bytes a
// backup session expects to copy.
type barReporter struct {
	p   *mpb.Progress
	bar *mpb.Bar
}

// NewBarReporter returns a ProgressReporter showing a single bar
// labelled name, expected to reach totalBytes.
func NewBarReporter(name string, totalBytes int64) ProgressReporter {
	p := mpb.New(mpb.WithWidth(40), mpb.WithRefreshRate(100*time.Millisecond))
	namePrefix := name + " "
	bar := p.New(totalBytes, mpb.BarStyle().Rbound("|").Lbound("|"),
		mpb.PrependDecorators(decor.Name(namePrefix, decor.WC{W: len(namePrefix), C: decor.DSyncWidth}), decor.Percentage()),
		mpb.AppendDecorators(decor.Any(func(s decor.Statistics) string {
			return fmt.Sprintf("%s / %s", formatBytes(s.Current), formatBytes(s.Total))
		})))
	return &barReporter{p: p, bar: bar}
}

func (r *barReporter) Add(n int64) { r.bar.IncrInt64(n) }

func (r *barReporter) Done() { r.p.Wait() }

func formatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	suffix := []string{"KiB", "MiB", "GiB", "TiB", "PiB"}[exp]
	return fmt.Sprintf("%.2f %s", float64(b)/float64(div), suffix)
}

// noopReporter discards all updates.
type noopReporter struct{}

func (noopReporter) Add(int64) {}
func (noopReporter) Done()     {}

// NoopReporter is a ProgressReporter that does nothing, used when
// progress display is disabled.
var NoopReporter ProgressReporter = noopReporter{}
