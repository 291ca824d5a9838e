package services

import (
	"context"
	"errors"
	"testing"

	"github.com/BradenHooton/warden/internal/models"
	pkgauth "github.com/BradenHooton/warden/pkg/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestCredentialVerifier_Verify(t *testing.T) {
	hash, err := pkgauth.HashPasswordWithCost("Str0ng!Pass", bcrypt.MinCost)
	require.NoError(t, err)

	active := NewTestStaff("1", "alice", "admin", hash)
	inactive := NewTestStaff("2", "ghost", "staff", hash)
	inactive.Active = false

	repo := &MockStaffRepository{GetByUsernameFunc: func(ctx context.Context, username string) (*models.Staff, error) {
		switch username {
		case "alice":
			return active, nil
		case "ghost":
			return inactive, nil
		case "broken":
			return nil, errors.New("pool closed")
		default:
			return nil, models.ErrNotFound
		}
	}}
	verifier := NewCredentialVerifier(repo, bcrypt.MinCost, NewTestLogger())
	ctx := context.Background()

	staff, err := verifier.Verify(ctx, "alice", "Str0ng!Pass")
	require.NoError(t, err)
	assert.Equal(t, "1", staff.ID)

	_, err = verifier.Verify(ctx, "alice", "wrong")
	assert.ErrorIs(t, err, models.ErrInvalidCredentials)

	_, err = verifier.Verify(ctx, "nobody", "Str0ng!Pass")
	assert.ErrorIs(t, err, models.ErrInvalidCredentials, "unknown user is indistinguishable from wrong password")

	_, err = verifier.Verify(ctx, "ghost", "Str0ng!Pass")
	assert.ErrorIs(t, err, models.ErrInvalidCredentials)

	_, err = verifier.Verify(ctx, "broken", "Str0ng!Pass")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, models.ErrInvalidCredentials)
}
