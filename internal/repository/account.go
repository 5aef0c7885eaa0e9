package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/readstack/librarian/internal/domain"
)

type AccountRepository struct {
	pool *pgxpool.Pool
}

func NewAccountRepository(pool *pgxpool.Pool) *AccountRepository {
	return &AccountRepository{pool: pool}
}

func (r *AccountRepository) Create(ctx context.Context, account *domain.Account) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO accounts (id, name, key_hash, created_at) VALUES ($1, $2, $3, $4)`,
		account.ID, account.Name, account.KeyHash, account.CreatedAt,
	)
	return err
}

func (r *AccountRepository) GetByID(ctx context.Context, id string) (*domain.Account, error) {
	var account domain.Account
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, key_hash, created_at FROM accounts WHERE id = $1`,
		id,
	).Scan(&account.ID, &account.Name, &account.KeyHash, &account.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

func (r *AccountRepository) GetByName(ctx context.Context, name string) (*domain.Account, error) {
	var account domain.Account
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, key_hash, created_at FROM accounts WHERE name = $1`,
		name,
	).Scan(&account.ID, &account.Name, &account.KeyHash, &account.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

func (r *AccountRepository) GetByKeyHash(ctx context.Context, hash string) (*domain.Account, error) {
	var account domain.Account
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, key_hash, created_at FROM accounts WHERE key_hash = $1`,
		hash,
	).Scan(&account.ID, &account.Name, &account.KeyHash, &account.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

func (r *AccountRepository) List(ctx context.Context) ([]*domain.Account, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, name, key_hash, created_at FROM accounts ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []*domain.Account
	for rows.Next() {
		var account domain.Account
		if err := rows.Scan(&account.ID, &account.Name, &account.KeyHash, &account.CreatedAt); err != nil {
			return nil, err
		}
		accounts = append(accounts, &account)
	}
	return accounts, rows.Err()
}
