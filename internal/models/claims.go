package models

import "github.com/golang-jwt/jwt"

// Claims carried by the identity provider's bearer token. UserID is the
// stable opaque subject the rest of the system keys on.
type Claims struct {
	UserID string `json:"user_id"`
	jwt.StandardClaims
}
