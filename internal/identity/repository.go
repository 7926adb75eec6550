package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DBTX is the part of pgxpool.Pool the repository uses.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var _ DBTX = (*pgxpool.Pool)(nil)

// Repository persists users and their OTP state.
type Repository interface {
	// Create inserts a user. Uniqueness of email, phone and username is
	// enforced by the store itself, so concurrent creates cannot both win.
	Create(ctx context.Context, user User) error
	FindByID(ctx context.Context, id string) (User, error)
	FindByEmail(ctx context.Context, email string) (User, error)
	FindByPhone(ctx context.Context, phone string) (User, error)
	// SetOTP replaces any previous code for the user.
	SetOTP(ctx context.Context, userID, code string, expiresAt time.Time) error
	// ClearOTPIfMatch clears the user's code only while it still equals
	// code. A code that was superseded or consumed is left alone.
	ClearOTPIfMatch(ctx context.Context, userID, code string) error
	// ConsumeOTP atomically matches phone, code and expiry and clears the
	// code. At most one caller can consume a given code.
	ConsumeOTP(ctx context.Context, phone, code string, now time.Time) (User, error)
}

const (
	uniqueViolation = "23505"

	emailConstraint    = "users_email_key"
	phoneConstraint    = "users_phone_key"
	usernameConstraint = "users_username_key"

	userColumns = `id, username, email, phone, full_name, password_hash, created_at, otp_code, otp_expires_at`
)

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db DBTX
}

// NewPostgresRepository builds a Postgres-backed identity repository.
func NewPostgresRepository(db DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts a new user.
func (r *PostgresRepository) Create(ctx context.Context, user User) error {
	userID, err := uuid.Parse(user.ID)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `INSERT INTO users (id, username, email, phone, full_name, password_hash, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		userID, user.Username, user.Email, nullable(user.Phone), user.FullName, user.PasswordHash, user.CreatedAt.UTC())
	if err != nil {
		return mapConstraintError(err)
	}
	return nil
}

// FindByID fetches a user by identifier.
func (r *PostgresRepository) FindByID(ctx context.Context, id string) (User, error) {
	userID, err := uuid.Parse(id)
	if err != nil {
		return User{}, ErrNotFound
	}
	return r.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, userID)
}

// FindByEmail fetches a user by normalized email.
func (r *PostgresRepository) FindByEmail(ctx context.Context, email string) (User, error) {
	return r.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
}

// FindByPhone fetches a user by phone number.
func (r *PostgresRepository) FindByPhone(ctx context.Context, phone string) (User, error) {
	return r.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE phone = $1`, phone)
}

// SetOTP stores a fresh code, superseding any earlier one in the same write.
func (r *PostgresRepository) SetOTP(ctx context.Context, userID, code string, expiresAt time.Time) error {
	id, err := uuid.Parse(userID)
	if err != nil {
		return ErrNotFound
	}
	cmd, err := r.db.Exec(ctx, `UPDATE users SET otp_code = $1, otp_expires_at = $2 WHERE id = $3`, code, expiresAt.UTC(), id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ClearOTPIfMatch compares and clears in one statement, so it cannot wipe a
// code stored by a later SetOTP.
func (r *PostgresRepository) ClearOTPIfMatch(ctx context.Context, userID, code string) error {
	id, err := uuid.Parse(userID)
	if err != nil {
		return ErrNotFound
	}
	_, err = r.db.Exec(ctx, `UPDATE users SET otp_code = NULL, otp_expires_at = NULL WHERE id = $1 AND otp_code = $2`, id, code)
	return err
}

// ConsumeOTP relies on the row lock taken by UPDATE: a concurrent consumer
// re-evaluates the WHERE clause after the first commits and matches nothing.
func (r *PostgresRepository) ConsumeOTP(ctx context.Context, phone, code string, now time.Time) (User, error) {
	user, err := r.findOne(ctx, `UPDATE users SET otp_code = NULL, otp_expires_at = NULL
        WHERE phone = $1 AND otp_code = $2 AND otp_expires_at > $3
        RETURNING `+userColumns, phone, code, now.UTC())
	if errors.Is(err, ErrNotFound) {
		return User{}, ErrNoActiveOTP
	}
	return user, err
}

func (r *PostgresRepository) findOne(ctx context.Context, query string, args ...any) (User, error) {
	var (
		id        uuid.UUID
		phone     *string
		otpCode   *string
		otpExp    *time.Time
		createdAt time.Time
		user      User
	)
	err := r.db.QueryRow(ctx, query, args...).Scan(&id, &user.Username, &user.Email, &phone, &user.FullName,
		&user.PasswordHash, &createdAt, &otpCode, &otpExp)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, err
	}
	user.ID = id.String()
	user.CreatedAt = createdAt.UTC()
	if phone != nil {
		user.Phone = *phone
	}
	if otpCode != nil {
		user.OTPCode = *otpCode
	}
	if otpExp != nil {
		user.OTPExpiresAt = otpExp.UTC()
	}
	return user, nil
}

func mapConstraintError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != uniqueViolation {
		return err
	}
	switch pgErr.ConstraintName {
	case emailConstraint:
		return ErrEmailTaken
	case phoneConstraint:
		return ErrPhoneTaken
	case usernameConstraint:
		return ErrUsernameTaken
	default:
		return fmt.Errorf("unique violation on %s: %w", pgErr.ConstraintName, err)
	}
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
