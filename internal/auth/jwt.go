/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package auth

import (
	"errors"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Roles recognised by the relay.
const (
	// RoleOperator may publish batches to the room named in the token.
	RoleOperator = "dm"
	// RoleViewer may only listen.
	RoleViewer = "viewer"
)

// ErrForbidden indicates valid credentials without the rights for the action.
var ErrForbidden = errors.New("forbidden")

// Claims extends standard registered claims with role and room.
type Claims struct {
	UserID string   `json:"uid"`
	Roles  []string `json:"roles"`
	// RoomID scopes the token. Empty means every room.
	RoomID string `json:"room_id,omitempty"`
	jwt.RegisteredClaims
}

// HasRole reports whether the claims carry role.
func (c *Claims) HasRole(role string) bool {
	return c != nil && slices.Contains(c.Roles, role)
}

// CanOperate reports whether the holder may publish batches to roomID.
func (c *Claims) CanOperate(roomID string) bool {
	if !c.HasRole(RoleOperator) {
		return false
	}
	return c.RoomID == "" || c.RoomID == roomID
}

// CanJoin reports whether the holder may listen to roomID.
func (c *Claims) CanJoin(roomID string) bool {
	return c != nil && (c.RoomID == "" || c.RoomID == roomID)
}

// Issue creates JWT token string.
func Issue(secret []byte, claims Claims, ttl time.Duration) (string, error) {
	claims.RegisteredClaims = jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		Subject:   claims.UserID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// Parse validates token string. Only HS256 tokens are accepted.
func Parse(secret []byte, token string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}

	return claims, nil
}
