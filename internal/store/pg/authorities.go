package pg

import (
	"context"

	"github.com/onixbyte/helix/internal/auth"
)

// AuthorityCodes returns the codes of active authorities reached through the
// user's active roles.
func (s *Store) AuthorityCodes(ctx context.Context, userID int64) ([]string, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `
		select distinct a.code
		from user_roles ur
		join roles r on r.id = ur.role_id and r.status = $2
		join role_authorities ra on ra.role_id = r.id
		join authorities a on a.id = ra.authority_id and a.status = $2
		where ur.user_id = $1
		order by a.code
	`, userID, string(auth.StatusActive))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, err
		}
		codes = append(codes, code)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return codes, nil
}
