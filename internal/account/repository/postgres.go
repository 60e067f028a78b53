package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/GreenfieldTrail/keycloak-phone-provider/internal/account/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an account repository that uses the given db.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetByID returns the account for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Account, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, realm_id, username, phone_number, phone_number_verified, created_at, updated_at
		FROM accounts
		WHERE id = $1`,
		id,
	)
	return scanAccount(row)
}

// FindByPhone returns every account in the realm with the given phone
// attribute, oldest first.
func (r *PostgresRepository) FindByPhone(ctx context.Context, realmID, phoneNumber string) ([]*domain.Account, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, realm_id, username, phone_number, phone_number_verified, created_at, updated_at
		FROM accounts
		WHERE realm_id = $1 AND phone_number = $2
		ORDER BY created_at`,
		realmID, phoneNumber,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Account
	for rows.Next() {
		var (
			a     domain.Account
			phone sql.NullString
		)
		if err := rows.Scan(&a.ID, &a.RealmID, &a.Username, &phone, &a.PhoneNumberVerified, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		a.PhoneNumber = phone.String
		out = append(out, &a)
	}
	return out, rows.Err()
}

// SetPhone sets the account's phone number and verified flag.
func (r *PostgresRepository) SetPhone(ctx context.Context, accountID, phoneNumber string, verified bool) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE accounts
		SET phone_number = $2, phone_number_verified = $3, updated_at = $4
		WHERE id = $1`,
		accountID, sql.NullString{String: phoneNumber, Valid: phoneNumber != ""}, verified, time.Now().UTC(),
	)
	return err
}

// SetPhoneVerified sets only the verified flag.
func (r *PostgresRepository) SetPhoneVerified(ctx context.Context, accountID string, verified bool) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE accounts
		SET phone_number_verified = $2, updated_at = $3
		WHERE id = $1`,
		accountID, verified, time.Now().UTC(),
	)
	return err
}

// AddRequiredAction records a pending required action; duplicates are ignored.
func (r *PostgresRepository) AddRequiredAction(ctx context.Context, accountID, action string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO account_required_actions (account_id, action)
		VALUES ($1, $2)
		ON CONFLICT (account_id, action) DO NOTHING`,
		accountID, action,
	)
	return err
}

// RemoveRequiredAction removes a pending required action if present.
func (r *PostgresRepository) RemoveRequiredAction(ctx context.Context, accountID, action string) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM account_required_actions
		WHERE account_id = $1 AND action = $2`,
		accountID, action,
	)
	return err
}

// ListCredentialsByType returns the account's credentials of the given type,
// oldest first.
func (r *PostgresRepository) ListCredentialsByType(ctx context.Context, accountID, credentialType string) ([]*domain.Credential, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, account_id, type, data, created_at
		FROM account_credentials
		WHERE account_id = $1 AND type = $2
		ORDER BY created_at`,
		accountID, credentialType,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Credential
	for rows.Next() {
		var c domain.Credential
		if err := rows.Scan(&c.ID, &c.AccountID, &c.Type, &c.Data, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

// RemoveCredential deletes a stored credential by id.
func (r *PostgresRepository) RemoveCredential(ctx context.Context, credentialID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM account_credentials WHERE id = $1`, credentialID)
	return err
}

// UpdateCredentialData replaces a stored credential's JSON payload.
func (r *PostgresRepository) UpdateCredentialData(ctx context.Context, credentialID, data string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE account_credentials
		SET data = $2
		WHERE id = $1`,
		credentialID, data,
	)
	return err
}

func scanAccount(row *sql.Row) (*domain.Account, error) {
	var (
		a     domain.Account
		phone sql.NullString
	)
	err := row.Scan(&a.ID, &a.RealmID, &a.Username, &phone, &a.PhoneNumberVerified, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	a.PhoneNumber = phone.String
	return &a, nil
}
