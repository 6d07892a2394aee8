package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/onixbyte/helix/internal/auth"
)

func (s *Store) AssignRole(ctx context.Context, userID, roleID int64) error {
	if s.db == nil {
		return errNoDB
	}
	_, err := s.db.ExecContext(ctx, `
		insert into user_roles (user_id, role_id)
		values ($1, $2)
		on conflict (user_id, role_id) do nothing
	`, userID, roleID)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return auth.ErrNotFound
		}
		return err
	}
	return nil
}

func (s *Store) RevokeRole(ctx context.Context, userID, roleID int64) error {
	if s.db == nil {
		return errNoDB
	}
	res, err := s.db.ExecContext(ctx, `
		delete from user_roles
		where user_id = $1 and role_id = $2
	`, userID, roleID)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return auth.ErrNotFound
	}
	return nil
}

func (s *Store) SetRoleAuthorities(ctx context.Context, roleID int64, codes []string) error {
	if s.db == nil {
		return errNoDB
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	if err := tx.QueryRowContext(ctx, `select 1 from roles where id = $1`, roleID).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return auth.ErrNotFound
		}
		return err
	}

	if _, err := tx.ExecContext(ctx, `delete from role_authorities where role_id = $1`, roleID); err != nil {
		return err
	}
	for _, code := range codes {
		var authorityID int64
		err := tx.QueryRowContext(ctx, `select id from authorities where code = $1`, code).Scan(&authorityID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: authority %s not found", auth.ErrInvalidInput, code)
			}
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			insert into role_authorities (role_id, authority_id)
			values ($1, $2)
		`, roleID, authorityID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) UsersWithRole(ctx context.Context, roleID int64) ([]int64, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `
		select user_id
		from user_roles
		where role_id = $1
		order by user_id
	`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}
