package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/BradenHooton/warden/internal/database"
	"github.com/BradenHooton/warden/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// StaffRepository is the credential store
type StaffRepository struct {
	db   *database.DB
	pool *pgxpool.Pool
}

func NewStaffRepository(db *database.DB) *StaffRepository {
	return &StaffRepository{db: db, pool: db.Pool}
}

// rowScanner interface for scanning rows (supports both single row and multiple rows)
type rowScanner interface {
	Scan(dest ...interface{}) error
}

const staffColumns = `id::text, username, password_hash, role, active, created_at, updated_at`

func scanStaffRow(scanner rowScanner) (*models.Staff, error) {
	var staff models.Staff
	err := scanner.Scan(
		&staff.ID, &staff.Username, &staff.PasswordHash, &staff.Role,
		&staff.Active, &staff.CreatedAt, &staff.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &staff, nil
}

// GetByUsername returns the account with the exact (case-sensitive) username
func (r *StaffRepository) GetByUsername(ctx context.Context, username string) (*models.Staff, error) {
	query := `SELECT ` + staffColumns + ` FROM staff WHERE username = $1`

	staff, err := scanStaffRow(r.pool.QueryRow(ctx, query, username))
	if err != nil {
		return nil, err
	}
	return staff, nil
}

// Create inserts a new account. A duplicate username returns models.ErrConflict.
func (r *StaffRepository) Create(ctx context.Context, staff *models.Staff) (*models.Staff, error) {
	query := `
		INSERT INTO staff (username, password_hash, role, active)
		VALUES ($1, $2, $3, $4)
		RETURNING ` + staffColumns

	created, err := scanStaffRow(r.pool.QueryRow(ctx, query,
		staff.Username, staff.PasswordHash, staff.Role, staff.Active,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create staff account: %w", err)
	}
	return created, nil
}

// SetActive enables or disables an account
func (r *StaffRepository) SetActive(ctx context.Context, username string, active bool) error {
	query := `UPDATE staff SET active = $2, updated_at = NOW() WHERE username = $1`

	tag, err := r.pool.Exec(ctx, query, username, active)
	if err != nil {
		return fmt.Errorf("failed to update staff account: %w", database.MapPostgresError(err))
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// EnsureAccount creates the account unless the username already exists.
// It reports whether a row was inserted. Existing accounts are never modified.
func (r *StaffRepository) EnsureAccount(ctx context.Context, staff *models.Staff) (bool, error) {
	created := false
	err := r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		var exists bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM staff WHERE username = $1)`, staff.Username,
		).Scan(&exists); err != nil {
			return database.MapPostgresError(err)
		}
		if exists {
			return nil
		}

		_, err := tx.Exec(ctx, `
			INSERT INTO staff (username, password_hash, role, active)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (username) DO NOTHING`,
			staff.Username, staff.PasswordHash, staff.Role, staff.Active,
		)
		if err != nil {
			return database.MapPostgresError(err)
		}
		created = true
		return nil
	})
	if err != nil && !errors.Is(err, models.ErrConflict) {
		return false, fmt.Errorf("failed to ensure staff account: %w", err)
	}
	return created, nil
}
