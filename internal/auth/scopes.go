package auth

const (
	ScopeOpenID  = "openid"
	ScopeProfile = "profile"
	ScopeEmail   = "email"
)

// AllScopes defines the full set of scopes requested by the Swagger UI and
// the frontend.
var AllScopes = []string{
	ScopeOpenID,
	ScopeProfile,
	ScopeEmail,
}
