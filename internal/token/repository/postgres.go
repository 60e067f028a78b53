package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/GreenfieldTrail/keycloak-phone-provider/internal/token/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a token code repository that uses the given db.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const tokenColumns = `id, realm_id, phone_number, code, type, created_at, expires_at, confirmed, confirmed_by, origin_ip, origin_port, origin_host`

// Create persists the token code row. The token must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, c *domain.TokenCode) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO phone_token_codes (`+tokenColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		c.ID, c.RealmID, c.PhoneNumber, c.Code, string(c.Type),
		c.CreatedAt, c.ExpiresAt, c.Confirmed,
		nullString(c.ConfirmedBy), nullString(c.Origin.IP), nullInt(c.Origin.Port), nullString(c.Origin.Host),
	)
	return err
}

// FindOngoing returns the latest unconfirmed, unexpired token for the given
// realm/phone/type, or nil if none.
func (r *PostgresRepository) FindOngoing(ctx context.Context, realmID, phoneNumber string, t domain.TokenCodeType, now time.Time) (*domain.TokenCode, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+tokenColumns+`
		FROM phone_token_codes
		WHERE realm_id = $1 AND phone_number = $2 AND type = $3
		  AND NOT confirmed AND expires_at > $4
		ORDER BY created_at DESC
		LIMIT 1`,
		realmID, phoneNumber, string(t), now,
	)
	return scanToken(row)
}

// CountSince returns the number of tokens created at or after since for the
// given realm/phone/type.
func (r *PostgresRepository) CountSince(ctx context.Context, realmID, phoneNumber string, t domain.TokenCodeType, since time.Time) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM phone_token_codes
		WHERE realm_id = $1 AND phone_number = $2 AND type = $3 AND created_at >= $4`,
		realmID, phoneNumber, string(t), since,
	).Scan(&n)
	if err != nil {
		return 0, err
	}
	return n, nil
}

// GetByID returns the token for id, or nil if not found.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.TokenCode, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+tokenColumns+`
		FROM phone_token_codes
		WHERE id = $1`,
		id,
	)
	return scanToken(row)
}

// Confirm marks the token confirmed by accountID. It never clears the flag.
func (r *PostgresRepository) Confirm(ctx context.Context, id, accountID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE phone_token_codes
		SET confirmed = TRUE, confirmed_by = $2
		WHERE id = $1`,
		id, accountID,
	)
	return err
}

func scanToken(row *sql.Row) (*domain.TokenCode, error) {
	var (
		c         domain.TokenCode
		typ       string
		by, ip, h sql.NullString
		port      sql.NullInt32
	)
	err := row.Scan(&c.ID, &c.RealmID, &c.PhoneNumber, &c.Code, &typ,
		&c.CreatedAt, &c.ExpiresAt, &c.Confirmed, &by, &ip, &port, &h)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	c.Type = domain.TokenCodeType(typ)
	c.ConfirmedBy = by.String
	c.Origin = domain.Origin{IP: ip.String, Port: int(port.Int32), Host: h.String}
	return &c, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(n int) sql.NullInt32 {
	return sql.NullInt32{Int32: int32(n), Valid: n != 0}
}
