package domain

// Excerpt is a query-time, read-only projection of an indexed chunk.
type Excerpt struct {
	DocumentID string
	Filename   string
	Content    string
	Relevance  float64
}
