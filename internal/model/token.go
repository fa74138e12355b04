package model

// TokenManager issues and validates admin access tokens.
type TokenManager interface {
	GenerateAccessToken(subject string) (string, error)
	ParseAccessToken(token string) (string, error)
}
