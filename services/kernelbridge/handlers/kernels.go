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
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianKernels/services/kernelbridge/datatypes"
	"github.com/AleutianAI/AleutianKernels/services/kernelbridge/kernels"
)

// ListKernels returns the kernelspec catalog.
func ListKernels(catalog *kernels.Catalog) gin.HandlerFunc {
	return func(c *gin.Context) {
		specs := catalog.List()
		out := make([]datatypes.KernelSpecResponse, 0, len(specs))
		for _, spec := range specs {
			out = append(out, datatypes.KernelSpecResponse{
				Name:        spec.Name,
				DisplayName: spec.DisplayName,
				Language:    spec.Language,
			})
		}
		c.JSON(http.StatusOK, gin.H{"kernels": out})
	}
}

// RefreshKernels forces a catalog rescan.
func RefreshKernels(catalog *kernels.Catalog) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := catalog.Refresh(); err != nil {
			slog.Error("kernelspec refresh failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "refresh failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "refreshed", "count": len(catalog.List())})
	}
}
