package index

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"coursemate/internal/splitter"
)

// Embedder generates embedding vectors for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Store builds, persists, and loads per-partition indexes under a root
// directory. One subdirectory per partition key.
type Store struct {
	rootDir  string
	embedder Embedder
	dim      int
}

// NewStore creates a Store rooted at rootDir. dim is the embedding
// dimensionality of the active model; Load rejects persisted indexes whose
// dimension differs. Pass dim 0 to skip the check (first-run discovery).
func NewStore(rootDir string, embedder Embedder, dim int) *Store {
	return &Store{rootDir: rootDir, embedder: embedder, dim: dim}
}

// PartitionDir returns the on-disk directory for a partition key.
func (s *Store) PartitionDir(partitionKey string) string {
	return filepath.Join(s.rootDir, partitionKey)
}

// Build embeds the given chunks and persists a fresh index for the
// partition, replacing any prior one. Empty chunks are filtered first;
// if nothing remains, Build fails with ErrNoContent.
func (s *Store) Build(ctx context.Context, partitionKey string, chunks []splitter.Chunk) (*Index, error) {
	var kept []splitter.Chunk
	for _, c := range chunks {
		if strings.TrimSpace(c.Content) != "" {
			kept = append(kept, c)
		}
	}
	if len(kept) == 0 {
		return nil, fmt.Errorf("partition %q: %w", partitionKey, ErrNoContent)
	}

	texts := make([]string, len(kept))
	for i, c := range kept {
		texts[i] = c.Content
	}
	vecs, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embedding %d chunks for partition %q: %w", len(kept), partitionKey, err)
	}

	dim := s.dim
	if dim <= 0 && len(vecs) > 0 {
		dim = len(vecs[0])
	}

	ix := &Index{
		PartitionKey: partitionKey,
		Dimension:    dim,
		Entries:      make([]Entry, len(kept)),
		vectors:      make([]float32, 0, len(kept)*dim),
	}
	for i, c := range kept {
		if len(vecs[i]) != dim {
			return nil, fmt.Errorf("embedding chunk %d: got dimension %d, want %d", i, len(vecs[i]), dim)
		}
		ix.Entries[i] = Entry{
			Content:  c.Content,
			SourceID: c.SourceID,
			Section:  c.Section,
			Sequence: c.Sequence,
		}
		ix.vectors = append(ix.vectors, vecs[i]...)
	}

	if err := ix.save(s.PartitionDir(partitionKey)); err != nil {
		return nil, fmt.Errorf("persisting index for partition %q: %w", partitionKey, err)
	}
	return ix, nil
}

// Load reads the persisted index for partitionKey. It returns ErrNotFound
// when no index exists and *CorruptError when the artifacts are unreadable
// or their dimension mismatches the active embedding model.
func (s *Store) Load(partitionKey string) (*Index, error) {
	return load(s.PartitionDir(partitionKey), partitionKey, s.dim)
}

// LoadDir reads a persisted index straight from a directory. The partition
// key is the directory base name.
func (s *Store) LoadDir(dir string) (*Index, error) {
	return load(dir, filepath.Base(dir), s.dim)
}
