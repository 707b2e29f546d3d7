/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestParse_ValidHS256(t *testing.T) {
	secret := []byte("test-secret")
	token, err := Issue(secret, Claims{
		UserID: "u1",
		Roles:  []string{RoleOperator},
		RoomID: "r1",
	}, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	claims, err := Parse(secret, token)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if claims.UserID != "u1" || claims.RoomID != "r1" {
		t.Fatalf("unexpected claims %+v", claims)
	}
}

func TestParse_RejectsUnexpectedAlgorithm(t *testing.T) {
	secret := []byte("test-secret")
	now := time.Now()
	claims := Claims{
		UserID: "u1",
		Roles:  []string{RoleOperator},
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(now),
			Subject:   "u1",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS384, claims)
	tokenStr, err := token.SignedString(secret)
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}

	if _, err := Parse(secret, tokenStr); err == nil {
		t.Fatalf("expected parse to reject non-HS256 token")
	}
}

func TestParse_RejectsExpired(t *testing.T) {
	secret := []byte("test-secret")
	token, err := Issue(secret, Claims{UserID: "u1"}, -time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := Parse(secret, token); err == nil {
		t.Fatal("expected expired token rejected")
	}
}

func TestClaims_Permissions(t *testing.T) {
	tests := []struct {
		name    string
		claims  *Claims
		room    string
		operate bool
		join    bool
	}{
		{name: "scoped operator", claims: &Claims{Roles: []string{RoleOperator}, RoomID: "r1"}, room: "r1", operate: true, join: true},
		{name: "operator other room", claims: &Claims{Roles: []string{RoleOperator}, RoomID: "r1"}, room: "r2", operate: false, join: false},
		{name: "global operator", claims: &Claims{Roles: []string{RoleOperator}}, room: "r2", operate: true, join: true},
		{name: "viewer", claims: &Claims{Roles: []string{RoleViewer}, RoomID: "r1"}, room: "r1", operate: false, join: true},
		{name: "nil", claims: nil, room: "r1", operate: false, join: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.claims.CanOperate(tt.room); got != tt.operate {
				t.Fatalf("CanOperate=%v, want %v", got, tt.operate)
			}
			if got := tt.claims.CanJoin(tt.room); got != tt.join {
				t.Fatalf("CanJoin=%v, want %v", got, tt.join)
			}
		})
	}
}
