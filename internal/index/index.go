// Package index owns per-partition semantic indexes: building them from
// chunks, persisting and loading the on-disk artifacts, and brute-force
// nearest-neighbor search over the stored vectors.
package index

import (
	"container/heap"
	"errors"
	"fmt"
)

// ErrNotFound is returned by Load when the partition has no persisted index.
var ErrNotFound = errors.New("index not found")

// ErrNoContent is returned by Build when no chunk has usable content.
var ErrNoContent = errors.New("no usable content to index")

// CorruptError reports an unreadable or inconsistent persisted index.
type CorruptError struct {
	Partition string
	Reason    string
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("corrupt index for partition %q: %s", e.Partition, e.Reason)
}

// Entry is one indexed chunk with its metadata. Embeddings live in the
// Index's vector matrix at the same position.
type Entry struct {
	Content  string `json:"content"`
	SourceID string `json:"source_id"`
	Section  string `json:"section"`
	Sequence int    `json:"sequence"`
}

// Index is an immutable in-memory semantic index for one partition.
// Replace it wholesale by rebuilding; there is no incremental mutation.
type Index struct {
	PartitionKey string
	Dimension    int
	Entries      []Entry

	// vectors holds one embedding per entry, flattened row-major.
	vectors []float32
}

// Len returns the number of indexed entries.
func (ix *Index) Len() int { return len(ix.Entries) }

// vector returns the i-th embedding as a sub-slice of the matrix.
func (ix *Index) vector(i int) []float32 {
	return ix.vectors[i*ix.Dimension : (i+1)*ix.Dimension]
}

// Hit is one nearest-neighbor result: the entry position and its raw
// squared-L2 distance to the query (smaller = more similar).
type Hit struct {
	Entry    int
	Distance float32
}

// Search returns up to k nearest entries to queryVec ordered by ascending
// distance. A dimension mismatch or empty index yields no hits.
func (ix *Index) Search(queryVec []float32, k int) []Hit {
	if len(queryVec) != ix.Dimension || ix.Len() == 0 || k <= 0 {
		return nil
	}

	h := &hitHeap{}
	heap.Init(h)
	for i := 0; i < ix.Len(); i++ {
		d := squaredL2(queryVec, ix.vector(i))
		if h.Len() < k {
			heap.Push(h, Hit{Entry: i, Distance: d})
		} else if d < (*h)[0].Distance {
			(*h)[0] = Hit{Entry: i, Distance: d}
			heap.Fix(h, 0)
		}
	}

	hits := make([]Hit, h.Len())
	for i := len(hits) - 1; i >= 0; i-- {
		hits[i] = heap.Pop(h).(Hit)
	}
	return hits
}

func squaredL2(a, b []float32) float32 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return float32(sum)
}

// hitHeap is a max-heap on distance, so the worst candidate sits at the
// root and is cheap to displace during the scan.
type hitHeap []Hit

func (h hitHeap) Len() int           { return len(h) }
func (h hitHeap) Less(i, j int) bool { return h[i].Distance > h[j].Distance }
func (h hitHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *hitHeap) Push(x any)        { *h = append(*h, x.(Hit)) }
func (h *hitHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
