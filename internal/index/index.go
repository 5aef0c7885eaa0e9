// Package index implements an owner-partitioned, in-memory flat vector
// index with exact nearest-neighbor search over Euclidean distance.
package index

import (
	"math"
	"sort"
	"sync"

	"github.com/readstack/librarian/internal/domain"
)

// Entry is one chunk's vector plus the text it was embedded from.
type Entry struct {
	Seq     int
	Content string
	Vector  []float32
}

// Hit is a single search result, ordered by ascending distance.
type Hit struct {
	DocumentID string
	Seq        int
	Content    string
	Distance   float64
}

// Memory is a flat in-memory vector index. Vectors are partitioned by
// owner: a search for one owner never scans another owner's entries.
// The vector dimension is fixed by the first successful upsert for the
// lifetime of the index.
type Memory struct {
	mu         sync.RWMutex
	dim        int
	partitions map[string]*partition
}

// partition holds one owner's vectors, keyed by document.
type partition struct {
	mu   sync.RWMutex
	docs map[string][]Entry
}

// NewMemory creates an empty index.
func NewMemory() *Memory {
	return &Memory{
		partitions: make(map[string]*partition),
	}
}

// Dimension returns the fixed vector dimension, or 0 before the first upsert.
func (m *Memory) Dimension() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.dim
}

// Upsert atomically replaces the document's chunk set in the owner's
// partition. A concurrent search observes either the fully-old or the
// fully-new set, never a mix. A dimension mismatch on any entry rejects
// the whole call with no partial insert.
func (m *Memory) Upsert(ownerID, documentID string, entries []Entry) error {
	if len(entries) == 0 {
		return domain.ErrNoChunks
	}

	if err := m.checkDimensions(entries); err != nil {
		return err
	}

	replacement := make([]Entry, len(entries))
	copy(replacement, entries)
	sort.Slice(replacement, func(i, j int) bool {
		return replacement[i].Seq < replacement[j].Seq
	})

	p := m.partition(ownerID)
	p.mu.Lock()
	p.docs[documentID] = replacement
	p.mu.Unlock()
	return nil
}

// Remove deletes all of a document's entries. Removing a document with
// no entries is a no-op, not an error.
func (m *Memory) Remove(ownerID, documentID string) {
	m.mu.RLock()
	p, ok := m.partitions[ownerID]
	m.mu.RUnlock()
	if !ok {
		return
	}

	p.mu.Lock()
	delete(p.docs, documentID)
	p.mu.Unlock()
}

// Search returns up to k hits from the owner's partition ordered by
// ascending distance, ties broken by document ID then sequence index.
// An empty partition yields an empty result, not an error.
func (m *Memory) Search(ownerID string, query []float32, k int) ([]Hit, error) {
	if k <= 0 {
		return []Hit{}, nil
	}

	m.mu.RLock()
	dim := m.dim
	p, ok := m.partitions[ownerID]
	m.mu.RUnlock()
	if !ok {
		return []Hit{}, nil
	}

	if dim != 0 && len(query) != dim {
		return nil, domain.ErrDimensionMismatch
	}

	p.mu.RLock()
	hits := make([]Hit, 0, k)
	for documentID, entries := range p.docs {
		for _, e := range entries {
			hits = append(hits, Hit{
				DocumentID: documentID,
				Seq:        e.Seq,
				Content:    e.Content,
				Distance:   l2Distance(query, e.Vector),
			})
		}
	}
	p.mu.RUnlock()

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Distance != hits[j].Distance {
			return hits[i].Distance < hits[j].Distance
		}
		if hits[i].DocumentID != hits[j].DocumentID {
			return hits[i].DocumentID < hits[j].DocumentID
		}
		return hits[i].Seq < hits[j].Seq
	})

	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// Count returns the number of indexed entries for an owner.
func (m *Memory) Count(ownerID string) int {
	m.mu.RLock()
	p, ok := m.partitions[ownerID]
	m.mu.RUnlock()
	if !ok {
		return 0
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	total := 0
	for _, entries := range p.docs {
		total += len(entries)
	}
	return total
}

// checkDimensions validates every entry against the index dimension,
// establishing it on the first ever upsert.
func (m *Memory) checkDimensions(entries []Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	dim := m.dim
	if dim == 0 {
		dim = len(entries[0].Vector)
		if dim == 0 {
			return domain.ErrDimensionMismatch
		}
	}

	for _, e := range entries {
		if len(e.Vector) != dim {
			return domain.ErrDimensionMismatch
		}
	}

	m.dim = dim
	return nil
}

func (m *Memory) partition(ownerID string) *partition {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.partitions[ownerID]
	if !ok {
		p = &partition{docs: make(map[string][]Entry)}
		m.partitions[ownerID] = p
	}
	return p
}

func l2Distance(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// Relevance converts a distance to a score in (0, 1]: 1 at distance 0,
// strictly decreasing as distance grows.
func Relevance(distance float64) float64 {
	return 1.0 / (1.0 + distance)
}
