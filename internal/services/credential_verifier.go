package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/BradenHooton/warden/internal/models"
	pkgauth "github.com/BradenHooton/warden/pkg/auth"
	"golang.org/x/crypto/bcrypt"
)

// StaffRepository looks up accounts in the credential store
type StaffRepository interface {
	GetByUsername(ctx context.Context, username string) (*models.Staff, error)
}

// CredentialChecker verifies a username/password pair
type CredentialChecker interface {
	Verify(ctx context.Context, username, password string) (*models.Staff, error)
}

// CredentialVerifier checks passwords against bcrypt hashes in the staff store.
// Unknown usernames, inactive accounts and wrong passwords all return models.ErrInvalidCredentials.
type CredentialVerifier struct {
	repo   StaffRepository
	cost   int
	logger *slog.Logger
}

// NewCredentialVerifier creates a verifier. cost is used for the dummy comparison on unknown usernames.
func NewCredentialVerifier(repo StaffRepository, cost int, logger *slog.Logger) *CredentialVerifier {
	if cost < bcrypt.MinCost {
		cost = pkgauth.BcryptCost
	}
	return &CredentialVerifier{repo: repo, cost: cost, logger: logger}
}

// Verify returns the staff account when password matches
func (v *CredentialVerifier) Verify(ctx context.Context, username, password string) (*models.Staff, error) {
	staff, err := v.repo.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			pkgauth.CompareDummy(password, v.cost)
			return nil, models.ErrInvalidCredentials
		}
		v.logger.Error("failed to load staff account", slog.Any("error", err))
		return nil, fmt.Errorf("failed to load staff account: %w", err)
	}

	if err := pkgauth.ComparePassword(staff.PasswordHash, password); err != nil {
		return nil, models.ErrInvalidCredentials
	}
	if !staff.Active {
		return nil, models.ErrInvalidCredentials
	}

	return staff, nil
}
