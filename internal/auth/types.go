package auth

import "time"

// UserStatus is the lifecycle state of a user account.
type UserStatus string

const (
	UserActive   UserStatus = "ACTIVE"
	UserInactive UserStatus = "INACTIVE"
	UserLocked   UserStatus = "LOCKED"
)

// Status is the state of grantable RBAC entities such as roles and authorities.
type Status string

const (
	StatusActive   Status = "ACTIVE"
	StatusInactive Status = "INACTIVE"
)

// Provider names the identity provider a UserIdentity links to.
type Provider string

const (
	ProviderLocal Provider = "LOCAL"
	ProviderEntra Provider = "MICROSOFT_ENTRA_ID"
	ProviderWeCom Provider = "WECOM"
)

// User is a local account. PasswordHash is empty for federated-only accounts and
// is never serialised.
type User struct {
	ID           int64      `json:"id"`
	Username     string     `json:"username"`
	FullName     string     `json:"full_name"`
	Email        string     `json:"email,omitempty"`
	CountryCode  string     `json:"country_code,omitempty"`
	PhoneNumber  string     `json:"phone_number,omitempty"`
	AvatarURL    string     `json:"avatar_url,omitempty"`
	Status       UserStatus `json:"status"`
	DepartmentID *int64     `json:"department_id,omitempty"`
	PositionID   *int64     `json:"position_id,omitempty"`
	PasswordHash string     `json:"-"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Sanitized returns a copy of the user without the password hash.
func (u User) Sanitized() User {
	u.PasswordHash = ""
	return u
}

// Active reports whether the account may authenticate.
func (u User) Active() bool {
	return u.Status == UserActive
}

// UserIdentity links a local user to an account at an external provider.
type UserIdentity struct {
	UserID     int64
	Provider   Provider
	ExternalID string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Authority is an atomic permission code.
type Authority struct {
	ID          int64
	Code        string
	Name        string
	Description string
	Status      Status
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Role bundles authorities.
type Role struct {
	ID          int64
	Code        string
	Name        string
	Description string
	Status      Status
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// UserRole assigns a role to a user.
type UserRole struct {
	UserID    int64
	RoleID    int64
	CreatedAt time.Time
}

// RoleAuthority grants an authority to a role.
type RoleAuthority struct {
	RoleID      int64
	AuthorityID int64
	CreatedAt   time.Time
}
