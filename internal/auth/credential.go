package auth

import (
	"encoding/json"
	"errors"
)

// Secret holds credential material. It never renders its content and can be
// zeroed in place once verification is over.
type Secret []byte

const redacted = "[REDACTED]"

func (s Secret) String() string { return redacted }

// GoString keeps %#v from dumping the bytes.
func (s Secret) GoString() string { return redacted }

// MarshalJSON never emits the secret.
func (s Secret) MarshalJSON() ([]byte, error) { return json.Marshal(redacted) }

// UnmarshalJSON reads a JSON string into the secret without base64 decoding.
func (s *Secret) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*s = nil
		return nil
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return errors.New("secret must be a string")
	}
	*s = Secret(raw)
	return nil
}

// Empty reports whether no material is present.
func (s Secret) Empty() bool { return len(s) == 0 }

// Erase zeroes the secret in place.
func (s Secret) Erase() {
	for i := range s {
		s[i] = 0
	}
}

// Credential is the closed set of login inputs. Only the variants in this file
// implement it.
type Credential interface {
	// Erase zeroes the credential material.
	Erase()
	credential()
}

// PasswordCredential is a local username/password login.
type PasswordCredential struct {
	Username string
	Password Secret
}

// EntraTokenCredential carries a raw Microsoft Entra ID token.
type EntraTokenCredential struct {
	Token Secret
}

// WeComCodeCredential carries a WeCom OAuth authorisation code.
type WeComCodeCredential struct {
	Code Secret
}

func (c *PasswordCredential) Erase() {
	if c != nil {
		c.Password.Erase()
	}
}

func (c *EntraTokenCredential) Erase() {
	if c != nil {
		c.Token.Erase()
	}
}

func (c *WeComCodeCredential) Erase() {
	if c != nil {
		c.Code.Erase()
	}
}

func (*PasswordCredential) credential()   {}
func (*EntraTokenCredential) credential() {}
func (*WeComCodeCredential) credential()  {}

// ProviderOf maps a credential variant to the provider that handles it.
func ProviderOf(c Credential) (Provider, bool) {
	switch c.(type) {
	case *PasswordCredential:
		return ProviderLocal, true
	case *EntraTokenCredential:
		return ProviderEntra, true
	case *WeComCodeCredential:
		return ProviderWeCom, true
	default:
		return "", false
	}
}
