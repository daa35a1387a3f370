// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/FarhadAbbasi/journey-api/services/relay/datatypes"
)

var runpodTracer = otel.Tracer("journey.llm.runpod")

// RunPodClient relays chat turns to a RunPod serverless GPU endpoint via
// the synchronous runsync API.
type RunPodClient struct {
	httpClient *http.Client
	baseURL    string
	endpointID string
	apiKey     string
}

// runsync payload; the shape must match the GPU handler's expectations.
type runpodRequest struct {
	Input runpodInput `json:"input"`
}

type runpodInput struct {
	Messages    []datatypes.Message `json:"messages"`
	MaxTokens   int                 `json:"max_tokens"`
	Temperature float32             `json:"temperature"`
}

type runpodResponse struct {
	Status string          `json:"status"`
	Output json.RawMessage `json:"output"`
	Error  string          `json:"error"`
}

// NewRunPodClient builds a client from the environment.
//
// # Environment
//
//   - RUNPOD_API_KEY (required)
//   - RUNPOD_ENDPOINT_ID (required)
//   - RUNPOD_BASE_URL (default https://api.runpod.ai)
//   - RUNPOD_TIMEOUT_SECONDS (default 60)
func NewRunPodClient() (*RunPodClient, error) {
	apiKey := strings.TrimSpace(os.Getenv("RUNPOD_API_KEY"))
	endpointID := strings.TrimSpace(os.Getenv("RUNPOD_ENDPOINT_ID"))
	if apiKey == "" || endpointID == "" {
		return nil, fmt.Errorf("RUNPOD_API_KEY or RUNPOD_ENDPOINT_ID environment variable not set")
	}

	baseURL := strings.TrimSuffix(strings.TrimSpace(os.Getenv("RUNPOD_BASE_URL")), "/")
	if baseURL == "" {
		baseURL = "https://api.runpod.ai"
	}

	timeout := 60 * time.Second
	if raw := os.Getenv("RUNPOD_TIMEOUT_SECONDS"); raw != "" {
		secs, err := strconv.Atoi(raw)
		if err != nil || secs <= 0 {
			slog.Warn("RUNPOD_TIMEOUT_SECONDS is invalid, defaulting to 60", "value", raw)
		} else {
			timeout = time.Duration(secs) * time.Second
		}
	}

	slog.Info("Initializing RunPod client", "base_url", baseURL, "endpoint_id", endpointID)
	return &RunPodClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		endpointID: endpointID,
		apiKey:     apiKey,
	}, nil
}

// Chat implements the LLMClient interface.
func (r *RunPodClient) Chat(ctx context.Context, messages []datatypes.Message,
	params GenerationParams) (string, error) {

	ctx, span := runpodTracer.Start(ctx, "RunPodClient.Chat")
	defer span.End()
	span.SetAttributes(attribute.String("llm.endpoint_id", r.endpointID))

	input := runpodInput{Messages: messages, MaxTokens: 512, Temperature: 0.7}
	if params.MaxTokens != nil {
		input.MaxTokens = *params.MaxTokens
	}
	if params.Temperature != nil {
		input.Temperature = *params.Temperature
	}

	body, err := json.Marshal(runpodRequest{Input: input})
	if err != nil {
		return "", fmt.Errorf("marshal runpod request: %w", err)
	}

	url := fmt.Sprintf("%s/v2/%s/runsync", r.baseURL, r.endpointID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build runpod request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+r.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("runpod call failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read runpod response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("runpod returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	var parsed runpodResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("decode runpod response: %w", err)
	}
	if parsed.Error != "" {
		return "", fmt.Errorf("runpod error: %s", parsed.Error)
	}

	text := extractRunpodText(parsed.Output)
	if text == "" {
		slog.Warn("RunPod returned no usable text", "status", parsed.Status)
		return "", fmt.Errorf("runpod returned no output text")
	}
	slog.Debug("Received response from RunPod", "status", parsed.Status)
	return text, nil
}

// extractRunpodText digs the generated text out of the output field.
// Serverless templates nest it differently: some return a bare string,
// most return an object keyed raw_text, text or output.
func extractRunpodText(output json.RawMessage) string {
	if len(output) == 0 {
		return ""
	}

	var asString string
	if err := json.Unmarshal(output, &asString); err == nil {
		return asString
	}

	var asObject map[string]any
	if err := json.Unmarshal(output, &asObject); err != nil {
		return ""
	}
	for _, key := range []string{"raw_text", "text", "output"} {
		if v, ok := asObject[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}
