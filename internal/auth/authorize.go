package auth

import "sort"

// Principal is an authenticated user with resolved authority codes.
type Principal struct {
	User        User
	Provider    Provider
	Authorities map[string]struct{}
}

// NewPrincipal builds a principal from a user and its authority codes. The
// password hash is always stripped.
func NewPrincipal(user User, provider Provider, codes []string) Principal {
	set := make(map[string]struct{}, len(codes))
	for _, c := range codes {
		set[c] = struct{}{}
	}
	return Principal{User: user.Sanitized(), Provider: provider, Authorities: set}
}

// HasAuthority reports whether the principal was granted the authority code.
func (p Principal) HasAuthority(code string) bool {
	_, ok := p.Authorities[code]
	return ok
}

// AuthorityCodes returns the granted codes in sorted order.
func (p Principal) AuthorityCodes() []string {
	out := make([]string, 0, len(p.Authorities))
	for c := range p.Authorities {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
