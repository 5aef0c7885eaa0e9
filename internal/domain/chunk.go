package domain

import "time"

// Chunk represents an ordered, bounded segment of a document's text.
// It is the unit of embedding and retrieval. OwnerID is denormalized
// from the owning document so isolation checks never need a join.
type Chunk struct {
	DocumentID string
	OwnerID    string
	Seq        int
	Content    string
	Embedding  []float32
	CreatedAt  time.Time
}
