// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianKernels/pkg/validation"
	"github.com/AleutianAI/AleutianKernels/services/kernelbridge/datatypes"
	"github.com/AleutianAI/AleutianKernels/services/kernelbridge/kernels"
	"github.com/AleutianAI/AleutianKernels/services/kernelbridge/observability"
)

// SessionManager is the slice of the registry the session handlers need.
// *kernels.Registry implements it.
type SessionManager interface {
	StartSession(ctx context.Context, kernelName string) (*kernels.Session, error)
	Get(id string) (*kernels.Session, bool)
	List() []*kernels.Session
	Interrupt(id string) error
	Shutdown(ctx context.Context, id string) error
	Records() ([]datatypes.SessionRecord, error)
}

func sessionView(sess *kernels.Session) datatypes.SessionResponse {
	return datatypes.SessionResponse{
		ID:        sess.ID,
		Kernel:    sess.Kernel,
		State:     sess.State(),
		StartedAt: sess.StartedAt,
		Channels:  sess.ChannelCount(),
	}
}

// ListSessions returns all live sessions.
func ListSessions(mgr SessionManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessions := mgr.List()
		out := make([]datatypes.SessionResponse, 0, len(sessions))
		for _, sess := range sessions {
			out = append(out, sessionView(sess))
		}
		c.JSON(http.StatusOK, gin.H{"sessions": out})
	}
}

// SessionHistory returns persisted session records, including sessions
// from earlier bridge runs.
func SessionHistory(mgr SessionManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		records, err := mgr.Records()
		if err != nil {
			slog.Error("failed to read session history", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read session history"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"records": records})
	}
}

// CreateSession launches a new kernel session.
func CreateSession(mgr SessionManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.CreateSessionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		kernelName, err := validation.SanitizeKernelName(req.Kernel)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		slog.Info("starting kernel session", "kernel", kernelName)
		sess, err := mgr.StartSession(c.Request.Context(), kernelName)
		if err != nil {
			observability.DefaultMetrics.SessionsStartedTotal.
				WithLabelValues(kernelName, "error").Inc()
			if errors.Is(err, kernels.ErrUnknownKernel) {
				c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
				return
			}
			slog.Error("session start failed", "kernel", kernelName, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start session"})
			return
		}
		observability.DefaultMetrics.SessionsStartedTotal.
			WithLabelValues(kernelName, "success").Inc()
		c.JSON(http.StatusCreated, sessionView(sess))
	}
}

// GetSession returns one session by id.
func GetSession(mgr SessionManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, ok := mgr.Get(c.Param("sessionId"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.JSON(http.StatusOK, sessionView(sess))
	}
}

// InterruptSession delivers an interrupt to the session's kernel.
func InterruptSession(mgr SessionManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("sessionId")
		if err := mgr.Interrupt(id); err != nil {
			if errors.Is(err, kernels.ErrSessionNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
				return
			}
			slog.Error("interrupt failed", "session_id", id, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "interrupt failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "interrupted", "session_id": id})
	}
}

// DeleteSession shuts a session down.
func DeleteSession(mgr SessionManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("sessionId")
		slog.Info("shutting down session", "session_id", id)
		if err := mgr.Shutdown(c.Request.Context(), id); err != nil {
			if errors.Is(err, kernels.ErrSessionNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
				return
			}
			slog.Error("session shutdown failed", "session_id", id, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "shutdown failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "shutdown", "session_id": id})
	}
}
