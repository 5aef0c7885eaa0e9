package domain

import (
	"fmt"
	"time"
)

// Account represents the owner boundary under which documents and
// chunks are isolated during retrieval.
type Account struct {
	ID        string
	Name      string
	KeyHash   string // Never store plaintext keys
	CreatedAt time.Time
}

// NewAccount creates a new Account instance
func NewAccount(id, name, keyHash string, createdAt time.Time) *Account {
	return &Account{
		ID:        id,
		Name:      name,
		KeyHash:   keyHash,
		CreatedAt: createdAt,
	}
}

// ValidateAccount validates an Account instance
func ValidateAccount(a *Account) error {
	if a == nil {
		return fmt.Errorf("account cannot be nil")
	}

	if a.ID == "" {
		return fmt.Errorf("account ID is required")
	}

	if a.Name == "" {
		return fmt.Errorf("account Name is required")
	}

	if a.KeyHash == "" {
		return fmt.Errorf("account KeyHash is required")
	}

	return nil
}
