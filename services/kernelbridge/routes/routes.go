// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/AleutianKernels/pkg/extensions"
	"github.com/AleutianAI/AleutianKernels/services/kernelbridge/handlers"
	"github.com/AleutianAI/AleutianKernels/services/kernelbridge/kernels"
	"github.com/AleutianAI/AleutianKernels/services/kernelbridge/middleware"
)

// SetupRoutes wires the kernel bridge API onto the router.
func SetupRoutes(router *gin.Engine, catalog *kernels.Catalog,
	mgr handlers.SessionManager, auth extensions.AuthProvider) {

	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API version 1 group
	v1 := router.Group("/v1")
	v1.Use(middleware.AuthMiddleware(auth))
	{
		v1.GET("/kernels", handlers.ListKernels(catalog))
		v1.POST("/kernels/refresh", handlers.RefreshKernels(catalog))

		sessions := v1.Group("/sessions")
		{
			sessions.GET("", handlers.ListSessions(mgr))
			sessions.POST("", handlers.CreateSession(mgr))
			sessions.GET("/history", handlers.SessionHistory(mgr))
			sessions.GET("/:sessionId", handlers.GetSession(mgr))
			sessions.DELETE("/:sessionId", handlers.DeleteSession(mgr))
			sessions.POST("/:sessionId/interrupt", handlers.InterruptSession(mgr))
			sessions.GET("/:sessionId/channels/ws", handlers.HandleChannelBridge(mgr))
		}
	}
}
