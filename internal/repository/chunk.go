package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"github.com/readstack/librarian/internal/domain"
)

// ChunkRepository handles persistence of chunked document embeddings.
type ChunkRepository struct {
	db dbtx
}

func NewChunkRepository(pool *pgxpool.Pool) *ChunkRepository {
	return &ChunkRepository{db: pool}
}

func NewChunkRepositoryWithTx(tx dbtx) *ChunkRepository {
	return &ChunkRepository{db: tx}
}

// ReplaceChunks deletes existing chunks for a document and inserts new ones.
func (r *ChunkRepository) ReplaceChunks(ctx context.Context, documentID string, chunks []domain.Chunk) error {
	_, err := r.db.Exec(ctx, `DELETE FROM document_chunks WHERE document_id = $1`, documentID)
	if err != nil {
		return err
	}

	for _, c := range chunks {
		createdAt := c.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		_, err := r.db.Exec(ctx,
			`INSERT INTO document_chunks (document_id, owner_id, chunk_index, content, embedding, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			c.DocumentID,
			c.OwnerID,
			c.Seq,
			c.Content,
			pgvector.NewVector(c.Embedding),
			createdAt,
		)
		if err != nil {
			return err
		}
	}

	return nil
}

func (r *ChunkRepository) DeleteByDocument(ctx context.Context, documentID string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM document_chunks WHERE document_id = $1`, documentID)
	return err
}

// LoadAll streams every persisted chunk, grouped by owner and document and
// ordered by chunk index. Used to rebuild the in-memory index on startup.
func (r *ChunkRepository) LoadAll(ctx context.Context) ([]domain.Chunk, error) {
	rows, err := r.db.Query(ctx,
		`SELECT document_id, owner_id, chunk_index, content, embedding, created_at
		 FROM document_chunks
		 ORDER BY owner_id, document_id, chunk_index`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []domain.Chunk
	for rows.Next() {
		var c domain.Chunk
		var vec pgvector.Vector
		if err := rows.Scan(&c.DocumentID, &c.OwnerID, &c.Seq, &c.Content, &vec, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.Embedding = vec.Slice()
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}
