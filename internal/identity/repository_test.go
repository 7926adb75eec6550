package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
)

var userRowColumns = []string{"id", "username", "email", "phone", "full_name", "password_hash", "created_at", "otp_code", "otp_expires_at"}

func newMockRepository(t *testing.T) (*PostgresRepository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("new mock pool: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
		mock.Close()
	})
	return NewPostgresRepository(mock), mock
}

func strPtr(s string) *string { return &s }

func TestPostgresCreateStoresEmptyPhoneAsNull(t *testing.T) {
	repo, mock := newMockRepository(t)
	user := newUser("alice", "a@x.com", "")

	mock.ExpectExec(`INSERT INTO users`).
		WithArgs(uuid.MustParse(user.ID), "alice", "a@x.com", (*string)(nil), "alice", user.PasswordHash, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	if err := repo.Create(context.Background(), user); err != nil {
		t.Fatalf("create: %v", err)
	}
}

func TestPostgresCreateMapsUniqueViolations(t *testing.T) {
	cases := []struct {
		constraint string
		want       error
	}{
		{constraint: "users_email_key", want: ErrEmailTaken},
		{constraint: "users_phone_key", want: ErrPhoneTaken},
		{constraint: "users_username_key", want: ErrUsernameTaken},
	}
	for _, tc := range cases {
		t.Run(tc.constraint, func(t *testing.T) {
			repo, mock := newMockRepository(t)
			mock.ExpectExec(`INSERT INTO users`).
				WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: tc.constraint})

			err := repo.Create(context.Background(), newUser("alice", "a@x.com", "+1555"))
			if !errors.Is(err, tc.want) {
				t.Fatalf("got %v, want %v", err, tc.want)
			}
		})
	}
}

func TestPostgresCreateKeepsOtherErrors(t *testing.T) {
	repo, mock := newMockRepository(t)
	unknown := &pgconn.PgError{Code: "23505", ConstraintName: "users_pkey"}
	mock.ExpectExec(`INSERT INTO users`).WillReturnError(unknown)

	err := repo.Create(context.Background(), newUser("alice", "a@x.com", ""))
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.ConstraintName != "users_pkey" {
		t.Fatalf("expected wrapped pg error, got %v", err)
	}
	for _, sentinel := range []error{ErrEmailTaken, ErrPhoneTaken, ErrUsernameTaken} {
		if errors.Is(err, sentinel) {
			t.Fatalf("unexpected sentinel %v", sentinel)
		}
	}

	repo, mock = newMockRepository(t)
	mock.ExpectExec(`INSERT INTO users`).WillReturnError(&pgconn.PgError{Code: "23503"})
	if err := repo.Create(context.Background(), newUser("bob", "b@x.com", "")); errors.Is(err, ErrEmailTaken) || err == nil {
		t.Fatalf("foreign key error mapped wrongly: %v", err)
	}
}

func TestPostgresFindByEmailScansNullColumns(t *testing.T) {
	repo, mock := newMockRepository(t)
	id := uuid.New()
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT .+ FROM users WHERE email = \$1`).
		WithArgs("a@x.com").
		WillReturnRows(mock.NewRows(userRowColumns).
			AddRow(id, "alice", "a@x.com", nil, "Alice", []byte("hash"), created, nil, nil))

	user, err := repo.FindByEmail(context.Background(), "a@x.com")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if user.ID != id.String() || user.Username != "alice" || !user.CreatedAt.Equal(created) {
		t.Fatalf("unexpected user: %+v", user)
	}
	if user.Phone != "" || user.HasPhone() {
		t.Fatalf("null phone should scan empty, got %q", user.Phone)
	}
	if user.OTPCode != "" || !user.OTPExpiresAt.IsZero() {
		t.Fatalf("null otp should scan empty, got %q %v", user.OTPCode, user.OTPExpiresAt)
	}
}

func TestPostgresFindByPhoneScansOTPColumns(t *testing.T) {
	repo, mock := newMockRepository(t)
	id := uuid.New()
	exp := time.Now().Add(5 * time.Minute).UTC().Truncate(time.Second)

	mock.ExpectQuery(`SELECT .+ FROM users WHERE phone = \$1`).
		WithArgs("+1555").
		WillReturnRows(mock.NewRows(userRowColumns).
			AddRow(id, "alice", "a@x.com", strPtr("+1555"), "Alice", []byte("hash"), time.Now().UTC(), strPtr("123456"), &exp))

	user, err := repo.FindByPhone(context.Background(), "+1555")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if user.Phone != "+1555" || user.OTPCode != "123456" || !user.OTPExpiresAt.Equal(exp) {
		t.Fatalf("unexpected otp state: %+v", user)
	}
}

func TestPostgresFindMissingUser(t *testing.T) {
	repo, mock := newMockRepository(t)
	mock.ExpectQuery(`FROM users WHERE phone = \$1`).WithArgs("+1999").WillReturnError(pgx.ErrNoRows)

	if _, err := repo.FindByPhone(context.Background(), "+1999"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := repo.FindByID(context.Background(), "not-a-uuid"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("malformed id: expected ErrNotFound, got %v", err)
	}
}

func TestPostgresSetOTPUnknownUser(t *testing.T) {
	repo, mock := newMockRepository(t)
	id := uuid.New()
	exp := time.Now().Add(time.Minute)
	mock.ExpectExec(`UPDATE users SET otp_code = \$1, otp_expires_at = \$2 WHERE id = \$3`).
		WithArgs("123456", exp.UTC(), id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	if err := repo.SetOTP(context.Background(), id.String(), "123456", exp); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPostgresClearOTPIfMatchIsConditional(t *testing.T) {
	repo, mock := newMockRepository(t)
	id := uuid.New()
	mock.ExpectExec(`UPDATE users SET otp_code = NULL, otp_expires_at = NULL WHERE id = \$1 AND otp_code = \$2`).
		WithArgs(id, "111111").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	if err := repo.ClearOTPIfMatch(context.Background(), id.String(), "111111"); err != nil {
		t.Fatalf("a superseded code is not an error: %v", err)
	}
}

func TestPostgresConsumeOTP(t *testing.T) {
	repo, mock := newMockRepository(t)
	id := uuid.New()
	now := time.Now()

	mock.ExpectQuery(`UPDATE users SET otp_code = NULL, otp_expires_at = NULL\s+WHERE phone = \$1 AND otp_code = \$2 AND otp_expires_at > \$3\s+RETURNING`).
		WithArgs("+1555", "123456", now.UTC()).
		WillReturnRows(mock.NewRows(userRowColumns).
			AddRow(id, "alice", "a@x.com", strPtr("+1555"), "Alice", []byte("hash"), now.UTC(), nil, nil))

	user, err := repo.ConsumeOTP(context.Background(), "+1555", "123456", now)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if user.ID != id.String() || user.OTPCode != "" {
		t.Fatalf("unexpected user: %+v", user)
	}

	mock.ExpectQuery(`RETURNING`).
		WithArgs("+1555", "123456", pgxmock.AnyArg()).
		WillReturnError(pgx.ErrNoRows)

	if _, err := repo.ConsumeOTP(context.Background(), "+1555", "123456", now); !errors.Is(err, ErrNoActiveOTP) {
		t.Fatalf("expected ErrNoActiveOTP, got %v", err)
	}
}
