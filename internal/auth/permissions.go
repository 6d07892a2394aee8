package auth

// Authority codes checked by the HTTP layer. The seed migration creates them.
const (
	AuthorityUserRead            = "system:user:read"
	AuthorityUserRoleAssign      = "system:user:role:assign"
	AuthorityRoleAuthorityAssign = "system:role:authority:assign"
)
