package index

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
)

// On-disk layout per partition: a vector matrix and a metadata file.
// Both must be present for the partition to count as indexed.
const (
	VectorsFile = "vectors.bin"
	MetaFile    = "index.json"
)

// meta is the JSON metadata artifact persisted next to the vector matrix.
type meta struct {
	PartitionKey string  `json:"partition_key"`
	Dimension    int     `json:"dimension"`
	Entries      []Entry `json:"entries"`
}

// buildDirInfix marks temp directories holding in-progress index builds.
const buildDirInfix = ".build-"

// IsBuildDir reports whether the directory name belongs to an in-progress
// or abandoned index build. Partition enumeration skips such directories.
func IsBuildDir(name string) bool {
	return strings.Contains(name, buildDirInfix)
}

// IsIndexed reports whether dir holds both index artifacts.
func IsIndexed(dir string) bool {
	for _, name := range []string{VectorsFile, MetaFile} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			return false
		}
	}
	return true
}

// save persists the index under dir atomically: both artifacts are written
// to a temp sibling directory that replaces dir in one rename, so readers
// never observe the vectors of one build paired with the metadata of
// another.
func (ix *Index) save(dir string) error {
	parent := filepath.Dir(dir)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return fmt.Errorf("creating index root: %w", err)
	}
	tmp, err := os.MkdirTemp(parent, filepath.Base(dir)+buildDirInfix+"*")
	if err != nil {
		return fmt.Errorf("creating build directory: %w", err)
	}
	defer os.RemoveAll(tmp)

	if err := os.WriteFile(filepath.Join(tmp, VectorsFile), encodeFloat32s(ix.vectors), 0o644); err != nil {
		return fmt.Errorf("writing vectors: %w", err)
	}
	m := meta{PartitionKey: ix.PartitionKey, Dimension: ix.Dimension, Entries: ix.Entries}
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshalling metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(tmp, MetaFile), data, 0o644); err != nil {
		return fmt.Errorf("writing metadata: %w", err)
	}

	// Rename cannot overwrite a non-empty directory, so the previous index
	// is removed first. A crash in between leaves the partition unindexed,
	// never a mixed pair of artifacts.
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("removing previous index: %w", err)
	}
	if err := os.Rename(tmp, dir); err != nil {
		return fmt.Errorf("publishing index: %w", err)
	}
	return nil
}

// load reads both artifacts from dir and validates them against wantDim.
func load(dir, partitionKey string, wantDim int) (*Index, error) {
	if !IsIndexed(dir) {
		return nil, ErrNotFound
	}

	data, err := os.ReadFile(filepath.Join(dir, MetaFile))
	if err != nil {
		return nil, &CorruptError{Partition: partitionKey, Reason: fmt.Sprintf("reading metadata: %v", err)}
	}
	var m meta
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, &CorruptError{Partition: partitionKey, Reason: fmt.Sprintf("parsing metadata: %v", err)}
	}
	if wantDim > 0 && m.Dimension != wantDim {
		return nil, &CorruptError{
			Partition: partitionKey,
			Reason:    fmt.Sprintf("dimension %d does not match embedding model dimension %d", m.Dimension, wantDim),
		}
	}

	blob, err := os.ReadFile(filepath.Join(dir, VectorsFile))
	if err != nil {
		return nil, &CorruptError{Partition: partitionKey, Reason: fmt.Sprintf("reading vectors: %v", err)}
	}
	vectors, err := decodeFloat32s(blob)
	if err != nil {
		return nil, &CorruptError{Partition: partitionKey, Reason: err.Error()}
	}
	if len(vectors) != len(m.Entries)*m.Dimension {
		return nil, &CorruptError{
			Partition: partitionKey,
			Reason:    fmt.Sprintf("vector matrix holds %d floats, metadata expects %d", len(vectors), len(m.Entries)*m.Dimension),
		}
	}

	return &Index{
		PartitionKey: partitionKey,
		Dimension:    m.Dimension,
		Entries:      m.Entries,
		vectors:      vectors,
	}, nil
}

// encodeFloat32s serializes a float32 slice to little-endian bytes.
func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeFloat32s deserializes little-endian bytes into a float32 slice.
// A length that is not a multiple of 4 indicates data corruption.
func decodeFloat32s(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("vector blob length %d is not a multiple of 4", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}
