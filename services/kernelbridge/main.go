// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/AleutianAI/AleutianKernels/pkg/extensions"
	"github.com/AleutianAI/AleutianKernels/pkg/logging"
	"github.com/AleutianAI/AleutianKernels/services/kernelbridge/kernels"
	"github.com/AleutianAI/AleutianKernels/services/kernelbridge/routes"

	// --- OpenTelemetry imports ---
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
)

func initTracer() (func(context.Context), error) {
	ctx := context.Background()

	otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otelEndpoint == "" {
		otelEndpoint = "aleutian-otel-collector:4317"
	}
	conn, err := grpc.NewClient(otelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("kernelbridge-service")))
	if err != nil {
		return nil, err
	}
	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.
		TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}, nil
}

func dataDir() string {
	if dir := os.Getenv("ALEUTIAN_DATA_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".aleutian"
	}
	return filepath.Join(home, ".aleutian")
}

func specDirs() []string {
	if raw := os.Getenv("ALEUTIAN_KERNELSPEC_DIRS"); raw != "" {
		return filepath.SplitList(raw)
	}
	home, _ := os.UserHomeDir()
	return []string{
		filepath.Join(home, ".local", "share", "jupyter", "kernels"),
		"/usr/local/share/jupyter/kernels",
		"/usr/share/jupyter/kernels",
	}
}

func main() {
	port := os.Getenv("KERNELBRIDGE_PORT")
	if port == "" {
		port = "12250"
	}
	base := dataDir()

	logger := logging.New(logging.Config{
		Level:   logging.ParseLevel(os.Getenv("LOG_LEVEL")),
		LogDir:  filepath.Join(base, "logs"),
		Service: "kernelbridge",
		JSON:    true,
	})
	defer logger.Close()
	slog.SetDefault(logger.Slog())

	// --- Init the tracer ---
	cleanup, err := initTracer()
	if err != nil {
		log.Fatalf("failed to setup the OTLP tracer: %v", err)
	}
	defer cleanup(context.Background())

	catalog, err := kernels.NewCatalog(specDirs(), logger.Slog())
	if err != nil {
		log.Fatalf("FATAL: could not load the kernelspec catalog: %v", err)
	}

	store, err := kernels.OpenStore(filepath.Join(base, "sessions"), logger.Slog())
	if err != nil {
		log.Fatalf("FATAL: could not open the session store: %v", err)
	}
	defer store.Close()

	launcher := kernels.NewLauncher(kernels.NewDefaultProcessManager(),
		filepath.Join(base, "kernel-logs"), logger.Slog())
	registry := kernels.NewRegistry(kernels.RegistryConfig{
		Catalog:  catalog,
		Launcher: launcher,
		Store:    store,
		ConnDir:  filepath.Join(base, "connections"),
		Logger:   logger.Slog(),
	})

	var auth extensions.AuthProvider = &extensions.NopAuthProvider{}
	if token := strings.TrimSpace(os.Getenv("KERNELBRIDGE_AUTH_TOKEN")); token != "" {
		auth = extensions.NewTokenAuthProvider(token)
		slog.Info("bearer token auth enabled")
	} else {
		slog.Warn("KERNELBRIDGE_AUTH_TOKEN not set, running without auth (local mode)")
	}

	router := gin.Default()
	router.Use(otelgin.Middleware("kernelbridge-service"))
	routes.SetupRoutes(router, catalog, registry, auth)

	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{Addr: ":" + port, Handler: router}
	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return catalog.Watch(gctx.Done())
	})
	group.Go(func() error {
		log.Println("Starting the kernel bridge server on port ", port)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down kernel bridge")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		for _, sess := range registry.List() {
			if err := registry.Shutdown(shutdownCtx, sess.ID); err != nil {
				slog.Error("session shutdown failed",
					"session_id", sess.ID, "error", err)
			}
		}
		return srv.Shutdown(shutdownCtx)
	})
	if err := group.Wait(); err != nil {
		log.Fatalf("Failed to run server: %v", err)
	}
}
