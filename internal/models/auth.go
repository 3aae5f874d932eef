package models

import "github.com/golang-jwt/jwt/v5"

// UserRole represents the realm-level roles recognised by this service.
type UserRole string

const (
	// RoleMetaformAdmin may manage forms and see every reply.
	RoleMetaformAdmin UserRole = "metaform-admin"
	// RoleUser is any authenticated end user.
	RoleUser UserRole = "user"
)

// JWTClaims represents the JWT payload for access tokens.
type JWTClaims struct {
	UserID string   `json:"user_id"`
	Email  string   `json:"email"`
	Roles  []string `json:"roles"`
	jwt.RegisteredClaims
}

// HasRole reports whether the token carries the given realm role.
func (c *JWTClaims) HasRole(role UserRole) bool {
	for _, r := range c.Roles {
		if r == string(role) {
			return true
		}
	}
	return false
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
