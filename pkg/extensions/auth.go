// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package extensions defines the enterprise extension points of the
// kernel bridge. The open source build ships functional no-op and
// shared-token implementations so a local bridge works without any
// authentication infrastructure; enterprise deployments substitute real
// identity providers (Okta, Auth0, Azure AD).
package extensions

import (
	"context"
	"crypto/subtle"
	"errors"
)

// ErrUnauthorized is returned by AuthProvider.Validate when the token is
// missing, malformed, or rejected.
var ErrUnauthorized = errors.New("extensions: unauthorized")

// AuthInfo describes an authenticated caller.
type AuthInfo struct {
	// UserID uniquely identifies the user.
	UserID string

	// Roles are the caller's granted roles.
	Roles []string
}

// HasRole reports whether the caller holds the given role.
func (a *AuthInfo) HasRole(role string) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// AuthProvider validates bearer tokens.
//
// Implementations must be safe for concurrent use. Validate returns
// ErrUnauthorized (possibly wrapped) for rejected tokens.
type AuthProvider interface {
	Validate(ctx context.Context, token string) (*AuthInfo, error)
}

// NopAuthProvider authenticates every request as a local admin user.
// This is the open source default: a bridge on localhost needs no
// identity infrastructure.
type NopAuthProvider struct{}

// Validate implements AuthProvider.
func (p *NopAuthProvider) Validate(_ context.Context, _ string) (*AuthInfo, error) {
	return &AuthInfo{UserID: "local-user", Roles: []string{"admin"}}, nil
}

// TokenAuthProvider accepts a single pre-shared bearer token, the mode
// used when the bridge is exposed beyond localhost.
type TokenAuthProvider struct {
	token string
}

// NewTokenAuthProvider creates a provider for the given shared token.
func NewTokenAuthProvider(token string) *TokenAuthProvider {
	return &TokenAuthProvider{token: token}
}

// Validate implements AuthProvider with a constant-time comparison.
func (p *TokenAuthProvider) Validate(_ context.Context, token string) (*AuthInfo, error) {
	if subtle.ConstantTimeCompare([]byte(p.token), []byte(token)) != 1 {
		return nil, ErrUnauthorized
	}
	return &AuthInfo{UserID: "token-user", Roles: []string{"admin"}}, nil
}
