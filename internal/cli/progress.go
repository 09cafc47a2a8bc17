package cli

import "github.com/vbp1/pgbackup/internal/copier"

// progressReporter resolves the --progress flag to a copier.ProgressReporter.
// "bar" always renders mpb's bar; "none" is silent; "auto" falls back to
// silent (a real terminal check belongs to a richer terminal library this
// module does not otherwise need).
func progressReporter(mode string) copier.ProgressReporter {
	switch mode {
	case "bar":
		return copier.NewBarReporter("backup", 0)
	default:
		return copier.NoopReporter
	}
}
