package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// MsgBadCredentials is shared by every local login failure so responses do not
// reveal whether the username exists.
const MsgBadCredentials = "Username or password is incorrect."

// LocalVerifier checks username/password credentials against stored hashes.
type LocalVerifier struct {
	users  UserStore
	hasher PasswordHasher
}

var _ Verifier = (*LocalVerifier)(nil)

// NewLocalVerifier constructs a LocalVerifier. A nil hasher means bcrypt.
func NewLocalVerifier(users UserStore, hasher PasswordHasher) *LocalVerifier {
	if hasher == nil {
		hasher = BcryptHasher{}
	}
	return &LocalVerifier{users: users, hasher: hasher}
}

func (v *LocalVerifier) Supports(cred Credential) bool {
	_, ok := cred.(*PasswordCredential)
	return ok
}

func (v *LocalVerifier) Authenticate(ctx context.Context, cred Credential) (User, error) {
	pc, ok := cred.(*PasswordCredential)
	if !ok || pc == nil {
		return User{}, Internal("Cannot perform login due to server crashes.", fmt.Errorf("unexpected credential %T", cred))
	}
	defer pc.Erase()

	username := strings.TrimSpace(pc.Username)
	if username == "" || pc.Password.Empty() {
		return User{}, Unauthorized(MsgBadCredentials, nil)
	}

	user, err := v.users.FindByUsername(ctx, username)
	if errors.Is(err, ErrNotFound) {
		v.hasher.Matches(pc.Password, dummyHash())
		return User{}, Unauthorized(MsgBadCredentials, nil)
	}
	if err != nil {
		return User{}, fmt.Errorf("find user: %w", err)
	}
	if user.PasswordHash == "" {
		v.hasher.Matches(pc.Password, dummyHash())
		return User{}, Unauthorized(MsgBadCredentials, nil)
	}
	if !v.hasher.Matches(pc.Password, user.PasswordHash) {
		return User{}, Unauthorized(MsgBadCredentials, nil)
	}
	if !user.Active() {
		return User{}, Unauthorized(MsgBadCredentials, nil)
	}
	return user.Sanitized(), nil
}
