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
	"log"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/FarhadAbbasi/journey-api/services/archive"
	"github.com/FarhadAbbasi/journey-api/services/assessment"
	"github.com/FarhadAbbasi/journey-api/services/llm"
	"github.com/FarhadAbbasi/journey-api/services/relay/handlers"
	"github.com/FarhadAbbasi/journey-api/services/relay/observability"
	"github.com/FarhadAbbasi/journey-api/services/relay/routes"
	"github.com/FarhadAbbasi/journey-api/services/statestore"

	// --- OpenTelemetry imports ---
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func initTracer() (func(context.Context), error) {
	ctx := context.Background()

	otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otelEndpoint == "" {
		otelEndpoint = "journey-otel-collector:4317"
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
		resource.WithAttributes(semconv.ServiceNameKey.String("journey-relay-service")))
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

// envSeconds reads a positive integer env var as a duration in the given
// unit, falling back on absence or junk.
func envSeconds(name string, unit, fallback time.Duration) time.Duration {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		slog.Warn("Invalid duration env var, using default", "name", name, "value", raw)
		return fallback
	}
	return time.Duration(n) * unit
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8000"
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// --- Init the tracer ---
	cleanup, err := initTracer()
	if err != nil {
		log.Fatalf("failed to setup the OTLP tracer: %v", err)
	}
	defer cleanup(context.Background())

	// The rule set is the heart of the engine; refusing to start without
	// it beats serving inferences against a partial one.
	rules, err := assessment.Load(os.Getenv("ASSESSMENT_CONFIG_PATH"))
	if err != nil {
		log.Fatalf("FATAL: Could not load the assessment rule set: %v", err)
	}
	slog.Info("Loaded assessment rule set", "version", rules.Version,
		"hash", rules.Hash, "questions", rules.QuestionCount())

	metrics := observability.InitMetrics()

	// Backend selection happens once here; the store itself retries the
	// backend on every call, so a Redis outage degrades per-turn rather
	// than demoting the process to memory-only forever.
	var store statestore.Store
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		ttl := envSeconds("STATE_TTL_SECONDS", time.Second, 24*time.Hour)
		timeout := envSeconds("STATE_STORE_TIMEOUT_MS", time.Millisecond, 2*time.Second)
		store, err = statestore.NewRedisStore(redisURL, ttl, timeout,
			observability.NewStoreFallbackReporter(metrics))
		if err != nil {
			log.Fatalf("FATAL: Invalid REDIS_URL: %v", err)
		}
		slog.Info("Using Redis state store", "ttl", ttl, "timeout", timeout)
	} else {
		store = statestore.NewMemoryStore()
		slog.Warn("REDIS_URL not set, using in-memory state store (state lost on restart)")
	}

	log.Println("Configuring the LLM Client")
	llmBackendType := os.Getenv("LLM_BACKEND_TYPE")

	var llmClient llm.LLMClient
	switch llmBackendType {
	case "openai":
		llmClient, err = llm.NewOpenAIClient()
		slog.Info("Using OpenAI LLM backend")
	case "runpod", "":
		llmClient, err = llm.NewRunPodClient()
		slog.Info("Using RunPod LLM backend")
		llmBackendType = "runpod"
	default:
		log.Fatalf("FATAL: Unknown LLM_BACKEND_TYPE %q", llmBackendType)
	}
	if err != nil {
		log.Fatalf("Failed to initialize LLM client: %v", err)
	}

	archiver := archive.NewArchiverFromEnv()

	router := gin.Default()
	router.Use(otelgin.Middleware("journey-relay-service"))

	routes.SetupRoutes(router, handlers.ChatDeps{
		LLM:      llmClient,
		Backend:  llmBackendType,
		Rules:    rules,
		Store:    store,
		Locks:    statestore.NewKeyedMutex(),
		Archiver: archiver,
		Metrics:  metrics,
	})

	log.Println("Starting the relay server on port ", port)
	if err := router.Run(":" + port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
