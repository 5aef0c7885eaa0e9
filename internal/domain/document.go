package domain

import (
	"fmt"
	"time"
)

// IngestionStatus represents where a document is in the ingestion lifecycle
type IngestionStatus string

const (
	// IngestionStatusPending is the initial status on document creation
	IngestionStatusPending IngestionStatus = "pending"
	// IngestionStatusIndexed means the document's chunks are searchable
	IngestionStatusIndexed IngestionStatus = "indexed"
	// IngestionStatusFailed means the last ingestion attempt failed;
	// re-ingestion is always permitted from this status
	IngestionStatusFailed IngestionStatus = "failed"
)

// Document represents an uploaded document owned by a single account
type Document struct {
	ID          string
	OwnerID     string
	Filename    string
	Content     string
	Status      IngestionStatus
	IngestError string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NewDocument creates a new Document in the pending status
func NewDocument(id, ownerID, filename, content string, now time.Time) *Document {
	return &Document{
		ID:        id,
		OwnerID:   ownerID,
		Filename:  filename,
		Content:   content,
		Status:    IngestionStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// ValidateDocument validates a Document instance
func ValidateDocument(d *Document) error {
	if d == nil {
		return fmt.Errorf("document cannot be nil")
	}

	if d.ID == "" {
		return fmt.Errorf("document ID is required")
	}

	if d.OwnerID == "" {
		return fmt.Errorf("document OwnerID is required")
	}

	if d.Filename == "" {
		return fmt.Errorf("document Filename is required")
	}

	if d.Content == "" {
		return fmt.Errorf("document Content is required")
	}

	if !isValidIngestionStatus(d.Status) {
		return fmt.Errorf("document Status is invalid: %s", d.Status)
	}

	return nil
}

// isValidIngestionStatus checks if an IngestionStatus is valid
func isValidIngestionStatus(s IngestionStatus) bool {
	switch s {
	case IngestionStatusPending, IngestionStatusIndexed, IngestionStatusFailed:
		return true
	}
	return false
}

// Ingestable reports whether an ingestion attempt may run for the document.
// Every status is ingestable; there is no terminal state.
func (d *Document) Ingestable() bool {
	return isValidIngestionStatus(d.Status)
}
