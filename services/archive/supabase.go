// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package archive persists conversation turns and signal snapshots to
// Supabase over PostgREST. Archival is strictly best-effort: it is
// optional at startup (nil Archiver when unconfigured) and a failed
// write never affects the chat turn that produced it.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/FarhadAbbasi/journey-api/services/relay/datatypes"
)

const (
	defaultConversationsTable   = "journey_conversations"
	defaultSignalSnapshotsTable = "journey_signal_snapshots"
)

// Archiver writes to a Supabase project's PostgREST endpoint. The
// service role key is used for both the apikey header and Bearer auth.
type Archiver struct {
	httpClient          *http.Client
	baseURL             string
	apiKey              string
	conversationsTable  string
	signalSnapshotTable string
}

// TurnRecord is everything worth keeping from one completed chat turn.
type TurnRecord struct {
	UserID           string
	UserMessage      string
	AssistantMessage string
	Signals          map[string]int
	StageProbs       map[string]float64
	Confidence       string
	Coverage         float64
	ConfigVersion    string
	ConfigHash       string
	ModelID          string
	RequestID        string
}

type conversationRow struct {
	UserID    string `json:"user_id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	ModelID   string `json:"model_id,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

type snapshotRow struct {
	UserID        string             `json:"user_id"`
	Signals       map[string]int     `json:"signals"`
	StageProbs    map[string]float64 `json:"stage_probs"`
	Confidence    string             `json:"confidence"`
	Coverage      float64            `json:"coverage"`
	ConfigVersion string             `json:"config_version"`
	ConfigHash    string             `json:"config_hash"`
	ModelID       string             `json:"model_id,omitempty"`
	RequestID     string             `json:"request_id,omitempty"`
}

// NewArchiverFromEnv returns nil (and no error) when Supabase is not
// configured; archival is an optional collaborator.
//
// # Environment
//
//   - SUPABASE_URL (project URL, e.g. https://xxxx.supabase.co)
//   - SUPABASE_SERVICE_ROLE_KEY (preferred) or SUPABASE_KEY
//   - SUPABASE_TIMEOUT_SECONDS (default 10)
//   - SUPABASE_CONVERSATIONS_TABLE (default journey_conversations)
//   - SUPABASE_SIGNAL_SNAPSHOTS_TABLE (default journey_signal_snapshots)
func NewArchiverFromEnv() *Archiver {
	baseURL := strings.TrimSuffix(strings.TrimSpace(os.Getenv("SUPABASE_URL")), "/")
	apiKey := strings.TrimSpace(os.Getenv("SUPABASE_SERVICE_ROLE_KEY"))
	if apiKey == "" {
		apiKey = strings.TrimSpace(os.Getenv("SUPABASE_KEY"))
	}
	if baseURL == "" || apiKey == "" {
		slog.Info("Supabase archival not configured, conversation history will not persist")
		return nil
	}

	timeout := 10 * time.Second
	if raw := os.Getenv("SUPABASE_TIMEOUT_SECONDS"); raw != "" {
		secs, err := strconv.Atoi(raw)
		if err != nil || secs <= 0 {
			slog.Warn("SUPABASE_TIMEOUT_SECONDS is invalid, defaulting to 10", "value", raw)
		} else {
			timeout = time.Duration(secs) * time.Second
		}
	}

	conversations := strings.TrimSpace(os.Getenv("SUPABASE_CONVERSATIONS_TABLE"))
	if conversations == "" {
		conversations = defaultConversationsTable
	}
	snapshots := strings.TrimSpace(os.Getenv("SUPABASE_SIGNAL_SNAPSHOTS_TABLE"))
	if snapshots == "" {
		snapshots = defaultSignalSnapshotsTable
	}

	slog.Info("Initializing Supabase archiver", "url", baseURL,
		"conversations_table", conversations, "snapshots_table", snapshots)
	return &Archiver{
		httpClient:          &http.Client{Timeout: timeout},
		baseURL:             baseURL,
		apiKey:              apiKey,
		conversationsTable:  conversations,
		signalSnapshotTable: snapshots,
	}
}

func (a *Archiver) restURL(table string) string {
	return fmt.Sprintf("%s/rest/v1/%s", a.baseURL, table)
}

func (a *Archiver) setHeaders(req *http.Request) {
	req.Header.Set("apikey", a.apiKey)
	req.Header.Set("Authorization", "Bearer "+a.apiKey)
	req.Header.Set("Content-Type", "application/json")
}

// LoadRecentConversation returns up to limit archived messages for a
// user, oldest-first, in the shape the prompt builder expects. Rows
// with unknown roles or empty content are skipped.
func (a *Archiver) LoadRecentConversation(ctx context.Context, userID string, limit int) ([]datatypes.Message, error) {
	if limit <= 0 {
		limit = datatypes.PromptHistoryWindow
	}

	query := url.Values{}
	query.Set("select", "role,content,created_at")
	query.Set("user_id", "eq."+userID)
	query.Set("order", "created_at.desc")
	query.Set("limit", strconv.Itoa(limit))

	reqURL := a.restURL(a.conversationsTable) + "?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build supabase request: %w", err)
	}
	a.setHeaders(req)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("supabase query failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read supabase response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("supabase returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var rows []conversationRow
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("decode supabase rows: %w", err)
	}

	// Rows arrive newest-first; the prompt wants oldest-first.
	out := make([]datatypes.Message, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		role := strings.TrimSpace(rows[i].Role)
		content := strings.TrimSpace(rows[i].Content)
		if (role == "user" || role == "assistant") && content != "" {
			out = append(out, datatypes.Message{Role: role, Content: content})
		}
	}
	return out, nil
}

// PersistTurn inserts two conversation rows (user and assistant) plus
// one signal snapshot row.
func (a *Archiver) PersistTurn(ctx context.Context, rec TurnRecord) error {
	convRows := []conversationRow{
		{UserID: rec.UserID, Role: "user", Content: rec.UserMessage, ModelID: rec.ModelID, RequestID: rec.RequestID},
		{UserID: rec.UserID, Role: "assistant", Content: rec.AssistantMessage, ModelID: rec.ModelID, RequestID: rec.RequestID},
	}
	if err := a.insert(ctx, a.conversationsTable, convRows); err != nil {
		return fmt.Errorf("persist conversation rows: %w", err)
	}

	snap := snapshotRow{
		UserID:        rec.UserID,
		Signals:       rec.Signals,
		StageProbs:    rec.StageProbs,
		Confidence:    rec.Confidence,
		Coverage:      rec.Coverage,
		ConfigVersion: rec.ConfigVersion,
		ConfigHash:    rec.ConfigHash,
		ModelID:       rec.ModelID,
		RequestID:     rec.RequestID,
	}
	if err := a.insert(ctx, a.signalSnapshotTable, snap); err != nil {
		return fmt.Errorf("persist signal snapshot: %w", err)
	}
	return nil
}

func (a *Archiver) insert(ctx context.Context, table string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal insert payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.restURL(table), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build supabase request: %w", err)
	}
	a.setHeaders(req)
	req.Header.Set("Prefer", "return=minimal")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("supabase insert failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("supabase returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return nil
}

// SafePersist is the fire-and-forget wrapper for background archival.
// A nil archiver is a no-op; errors are logged, reported, and dropped.
func SafePersist(ctx context.Context, a *Archiver, rec TurnRecord, onFailure func()) {
	if a == nil {
		return
	}
	if err := a.PersistTurn(ctx, rec); err != nil {
		slog.Warn("Background archival failed", "user_id", rec.UserID, "error", err)
		if onFailure != nil {
			onFailure()
		}
	}
}
