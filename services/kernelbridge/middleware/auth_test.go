// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianKernels/pkg/extensions"
)

func newAuthRouter(provider extensions.AuthProvider) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(AuthMiddleware(provider))
	router.GET("/whoami", func(c *gin.Context) {
		info, ok := GetAuthInfo(c)
		if !ok {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "no auth info"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"user_id": info.UserID})
	})
	return router
}

func TestNopProviderAllowsEverything(t *testing.T) {
	router := newAuthRouter(&extensions.NopAuthProvider{})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/whoami", nil)
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestTokenProvider(t *testing.T) {
	router := newAuthRouter(extensions.NewTokenAuthProvider("sekret"))

	tests := []struct {
		name   string
		header string
		query  string
		want   int
	}{
		{name: "valid bearer", header: "Bearer sekret", want: http.StatusOK},
		{name: "case-insensitive scheme", header: "bearer sekret", want: http.StatusOK},
		{name: "query token for ws clients", query: "?token=sekret", want: http.StatusOK},
		{name: "wrong token", header: "Bearer nope", want: http.StatusUnauthorized},
		{name: "missing header", want: http.StatusUnauthorized},
		{name: "malformed header", header: "sekret", want: http.StatusUnauthorized},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest("GET", "/whoami"+tc.query, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			router.ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Errorf("status = %d, want %d", rec.Code, tc.want)
			}
		})
	}
}

func TestAuthInfoRoles(t *testing.T) {
	info := &extensions.AuthInfo{UserID: "u", Roles: []string{"admin"}}
	if !info.HasRole("admin") {
		t.Error("HasRole(admin) = false")
	}
	if info.HasRole("auditor") {
		t.Error("HasRole(auditor) = true")
	}
}
