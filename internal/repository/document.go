package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/readstack/librarian/internal/domain"
	"github.com/readstack/librarian/internal/pagination"
)

type DocumentRepository struct {
	db dbtx
}

func NewDocumentRepository(pool *pgxpool.Pool) *DocumentRepository {
	return &DocumentRepository{db: pool}
}

func NewDocumentRepositoryWithTx(tx pgx.Tx) *DocumentRepository {
	return &DocumentRepository{db: tx}
}

func (r *DocumentRepository) Create(ctx context.Context, d *domain.Document) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO documents (id, owner_id, filename, content, status, ingest_error, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		d.ID, d.OwnerID, d.Filename, d.Content, d.Status, nullableString(d.IngestError), d.CreatedAt, d.UpdatedAt,
	)
	return err
}

// GetByID looks up a document within an owner's scope. Another owner's
// document is indistinguishable from a missing one.
func (r *DocumentRepository) GetByID(ctx context.Context, ownerID, id string) (*domain.Document, error) {
	var d domain.Document
	var ingestError pgtype.Text
	err := r.db.QueryRow(ctx,
		`SELECT id, owner_id, filename, content, status, ingest_error, created_at, updated_at
		 FROM documents WHERE owner_id = $1 AND id = $2`,
		ownerID, id,
	).Scan(&d.ID, &d.OwnerID, &d.Filename, &d.Content, &d.Status, &ingestError, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrDocumentNotFound
		}
		return nil, err
	}
	if ingestError.Valid {
		d.IngestError = ingestError.String
	}
	return &d, nil
}

// ListByOwner returns one page of an owner's documents, newest first.
// The cursor is keyset-based on (created_at, id) so pages stay stable
// while documents are being created.
func (r *DocumentRepository) ListByOwner(ctx context.Context, ownerID string, limit int, after *pagination.Cursor) ([]*domain.Document, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT id, owner_id, filename, content, status, ingest_error, created_at, updated_at
		 FROM documents WHERE owner_id = $1`
	args := []any{ownerID}
	if after != nil {
		query += ` AND (created_at, id) < ($2, $3)`
		args = append(args, after.Timestamp, after.LastID)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT %d`, limit)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDocumentRows(rows)
}

// ListPending returns documents awaiting ingestion, oldest first.
func (r *DocumentRepository) ListPending(ctx context.Context, limit int) ([]*domain.Document, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.Query(ctx,
		`SELECT id, owner_id, filename, content, status, ingest_error, created_at, updated_at
		 FROM documents WHERE status = $1 ORDER BY created_at ASC LIMIT $2`,
		domain.IngestionStatusPending, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDocumentRows(rows)
}

func (r *DocumentRepository) UpdateStatus(ctx context.Context, id string, status domain.IngestionStatus, ingestError string) error {
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE documents SET status = $1, ingest_error = $2, updated_at = $3 WHERE id = $4`,
		status, nullableString(ingestError), time.Now().UTC(), id,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrDocumentNotFound
	}
	return nil
}

func (r *DocumentRepository) Delete(ctx context.Context, ownerID, id string) error {
	cmdTag, err := r.db.Exec(ctx,
		`DELETE FROM documents WHERE owner_id = $1 AND id = $2`,
		ownerID, id,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrDocumentNotFound
	}
	return nil
}

func scanDocumentRows(rows pgx.Rows) ([]*domain.Document, error) {
	var results []*domain.Document
	for rows.Next() {
		var d domain.Document
		var ingestError pgtype.Text
		if err := rows.Scan(&d.ID, &d.OwnerID, &d.Filename, &d.Content, &d.Status, &ingestError, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, err
		}
		if ingestError.Valid {
			d.IngestError = ingestError.String
		}
		results = append(results, &d)
	}
	return results, rows.Err()
}
