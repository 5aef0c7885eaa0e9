package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/readstack/librarian/internal/domain"
)

const apiKeyPrefix = "lib_"

type AccountRepository interface {
	Create(ctx context.Context, account *domain.Account) error
	GetByID(ctx context.Context, id string) (*domain.Account, error)
	GetByName(ctx context.Context, name string) (*domain.Account, error)
	GetByKeyHash(ctx context.Context, hash string) (*domain.Account, error)
	List(ctx context.Context) ([]*domain.Account, error)
}

type AuthService struct {
	accountRepo AccountRepository
	uuidGen     UUIDGenerator
}

func NewAuthService(accountRepo AccountRepository, uuidGen UUIDGenerator) *AuthService {
	return &AuthService{
		accountRepo: accountRepo,
		uuidGen:     uuidGen,
	}
}

// CreateAccount registers an account and returns its plaintext API key.
// The key is shown exactly once; only its hash is stored.
func (s *AuthService) CreateAccount(ctx context.Context, name string) (*domain.Account, string, error) {
	if name == "" {
		return nil, "", domain.NewDomainError(domain.ErrCodeValidation, "account name is required")
	}

	token, err := generateAPIToken()
	if err != nil {
		return nil, "", domain.NewDomainErrorWithCause(domain.ErrCodeInternalError, "failed to generate API key", err)
	}

	account := domain.NewAccount(s.uuidGen.NewString(), name, hashToken(token), time.Now().UTC())
	if err := domain.ValidateAccount(account); err != nil {
		return nil, "", err
	}

	if err := s.accountRepo.Create(ctx, account); err != nil {
		return nil, "", err
	}

	return account, token, nil
}

// CreateAccountWithToken registers an account under a caller-supplied
// key, used for bootstrap provisioning.
func (s *AuthService) CreateAccountWithToken(ctx context.Context, name, token string) (*domain.Account, error) {
	if name == "" {
		return nil, domain.NewDomainError(domain.ErrCodeValidation, "account name is required")
	}
	if !IsValidAPIToken(token) {
		return nil, domain.NewDomainError(domain.ErrCodeValidation, "invalid API key format (expected lib_<64 hex chars>)")
	}

	account := domain.NewAccount(s.uuidGen.NewString(), name, hashToken(token), time.Now().UTC())
	if err := domain.ValidateAccount(account); err != nil {
		return nil, err
	}

	if err := s.accountRepo.Create(ctx, account); err != nil {
		return nil, err
	}

	return account, nil
}

// ValidateAPIKey resolves a bearer token to the owning account ID.
func (s *AuthService) ValidateAPIKey(ctx context.Context, token string) (string, error) {
	if !IsValidAPIToken(token) {
		return "", domain.ErrInvalidAPIKey
	}

	account, err := s.accountRepo.GetByKeyHash(ctx, hashToken(token))
	if err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			return "", domain.ErrInvalidAPIKey
		}
		return "", err
	}

	return account.ID, nil
}

func (s *AuthService) GetAccountByName(ctx context.Context, name string) (*domain.Account, error) {
	return s.accountRepo.GetByName(ctx, name)
}

func generateAPIToken() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return apiKeyPrefix + hex.EncodeToString(bytes), nil
}

func hashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

func IsValidAPIToken(token string) bool {
	if !strings.HasPrefix(token, apiKeyPrefix) {
		return false
	}
	hexPart := token[len(apiKeyPrefix):]
	if len(hexPart) != 64 {
		return false
	}
	for _, c := range hexPart {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')) {
			return false
		}
	}
	return true
}
