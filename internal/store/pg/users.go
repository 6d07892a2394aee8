package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/onixbyte/helix/internal/auth"
)

const userColumns = `u.id, u.username, u.full_name, u.email, u.country_code, u.phone_number,
		u.avatar_url, u.status, u.department_id, u.position_id, u.password_hash, u.created_at, u.updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (auth.User, error) {
	var (
		user                     auth.User
		email, country, phone    sql.NullString
		avatar, hash             sql.NullString
		departmentID, positionID sql.NullInt64
	)
	if err := row.Scan(&user.ID, &user.Username, &user.FullName, &email, &country, &phone,
		&avatar, &user.Status, &departmentID, &positionID, &hash, &user.CreatedAt, &user.UpdatedAt); err != nil {
		return auth.User{}, err
	}
	user.Email = nullString(email)
	user.CountryCode = nullString(country)
	user.PhoneNumber = nullString(phone)
	user.AvatarURL = nullString(avatar)
	user.PasswordHash = nullString(hash)
	user.DepartmentID = nullInt64(departmentID)
	user.PositionID = nullInt64(positionID)
	return user, nil
}

func (s *Store) FindByUsername(ctx context.Context, username string) (auth.User, error) {
	if s.db == nil {
		return auth.User{}, errNoDB
	}
	user, err := scanUser(s.db.QueryRowContext(ctx, `
		select `+userColumns+`
		from users u
		where u.username = $1
	`, username))
	if errors.Is(err, sql.ErrNoRows) {
		return auth.User{}, auth.ErrNotFound
	}
	if err != nil {
		return auth.User{}, err
	}
	return user, nil
}

func (s *Store) FindByIdentity(ctx context.Context, provider auth.Provider, externalID string) (auth.User, error) {
	if s.db == nil {
		return auth.User{}, errNoDB
	}
	user, err := scanUser(s.db.QueryRowContext(ctx, `
		select `+userColumns+`
		from user_identities ui
		join users u on u.id = ui.user_id
		where ui.provider = $1 and ui.external_id = $2
	`, string(provider), externalID))
	if errors.Is(err, sql.ErrNoRows) {
		return auth.User{}, auth.ErrNotFound
	}
	if err != nil {
		return auth.User{}, err
	}
	return user, nil
}

func (s *Store) RegisterFederated(ctx context.Context, user auth.User, identity auth.UserIdentity) (auth.User, error) {
	if s.db == nil {
		return auth.User{}, errNoDB
	}
	if strings.TrimSpace(user.Username) == "" || identity.Provider == "" || identity.ExternalID == "" {
		return auth.User{}, auth.ErrInvalidInput
	}
	if user.Status == "" {
		user.Status = auth.UserActive
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return auth.User{}, err
	}
	defer func() { _ = tx.Rollback() }()

	err = tx.QueryRowContext(ctx, `
		insert into users (username, full_name, email, status)
		values ($1, $2, $3, $4)
		returning id, created_at, updated_at
	`, user.Username, user.FullName, nullIfEmpty(user.Email), string(user.Status)).
		Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return auth.User{}, auth.ErrConflict
		}
		return auth.User{}, fmt.Errorf("insert user: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		insert into user_identities (user_id, provider, external_id)
		values ($1, $2, $3)
	`, user.ID, string(identity.Provider), identity.ExternalID); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return auth.User{}, auth.ErrConflict
		}
		return auth.User{}, fmt.Errorf("insert identity: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return auth.User{}, err
	}
	user.PasswordHash = ""
	return user, nil
}

// CreateLocalUser inserts an account that signs in with a password hash.
func (s *Store) CreateLocalUser(ctx context.Context, username, fullName, passwordHash string) (auth.User, error) {
	if s.db == nil {
		return auth.User{}, errNoDB
	}
	if strings.TrimSpace(username) == "" || passwordHash == "" {
		return auth.User{}, auth.ErrInvalidInput
	}
	user := auth.User{Username: username, FullName: fullName, Status: auth.UserActive}
	err := s.db.QueryRowContext(ctx, `
		insert into users (username, full_name, password_hash, status)
		values ($1, $2, $3, $4)
		returning id, created_at, updated_at
	`, username, fullName, passwordHash, string(auth.UserActive)).Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return auth.User{}, auth.ErrConflict
		}
		return auth.User{}, err
	}
	return user, nil
}
