package inventory

import (
	"sort"

	"github.com/vbp1/pgbackup/internal/catalog"
)

// largeFileThreshold separates the best-fit and round-robin regimes
// SortForCopy uses - a data directory mixes a handful of huge relation
// segments with thousands of small catalog files, and a single
// strategy serves neither well. Grounded on the teacher's
// internal/rsync/distribute.go hybrid algorithm, generalized here into
// the inventory's own size-descending sort pass (spec.md §4.3).
const largeFileThreshold = 1 << 30 // 1 GiB

// SortForCopy reorders files (already path-sorted by Walk) into the
// order C5's worker pool should claim them in: large files spread
// across numWorkers buckets by best-fit, small files round-robin,
// buckets concatenated back into one claim-order slice.
func SortForCopy(files []*catalog.File, numWorkers int) []*catalog.File {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	sorted := make([]*catalog.File, len(files))
	copy(sorted, files)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].SizeSrc > sorted[j].SizeSrc })

	buckets := make([][]*catalog.File, numWorkers)
	totals := make([]int64, numWorkers)
	cur := 0
	for _, f := range sorted {
		if f.SizeSrc > largeFileThreshold {
			minWorker := 0
			for i := 1; i < numWorkers; i++ {
				if totals[i] < totals[minWorker] {
					minWorker = i
				}
			}
			buckets[minWorker] = append(buckets[minWorker], f)
			totals[minWorker] += f.SizeSrc
		} else {
			buckets[cur] = append(buckets[cur], f)
			totals[cur] += f.SizeSrc
			cur = (cur + 1) % numWorkers
		}
	}

	out := make([]*catalog.File, 0, len(files))
	for _, b := range buckets {
		out = append(out, b...)
	}
	return out
}
