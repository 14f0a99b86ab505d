package models

import "github.com/golang-jwt/jwt/v5"

// UserClaims is the JWT payload carried by access tokens. The raw signed
// token doubles as the session challenge consumed by key derivation, so
// the claims are deliberately small and stable.
type UserClaims struct {
	jwt.RegisteredClaims
	UserID       uint   `json:"user_id"`
	Email        string `json:"email"`
	SessionID    string `json:"session_id"`
	TokenVersion int    `json:"token_version"`
}
