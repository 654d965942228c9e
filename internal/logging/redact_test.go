package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestRedactsCredentialAttrs(t *testing.T) {
	var buf bytes.Buffer
	handler := newRedactingHandler(slog.NewJSONHandler(&buf, nil))
	logger := slog.New(handler)

	logger.Info("login attempt",
		"account_id", 42,
		"password", "hunter2",
		"code", "123456",
		"session_token", "abc",
	)

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("failed to parse log output: %v", err)
	}

	if record["password"] != redactedValue {
		t.Fatalf("expected password redacted, got %v", record["password"])
	}
	if record["code"] != redactedValue {
		t.Fatalf("expected code redacted, got %v", record["code"])
	}
	if record["session_token"] != redactedValue {
		t.Fatalf("expected session_token redacted, got %v", record["session_token"])
	}
	if record["account_id"] != float64(42) {
		t.Fatalf("expected account_id untouched, got %v", record["account_id"])
	}
}

func TestRedactsNestedGroups(t *testing.T) {
	var buf bytes.Buffer
	handler := newRedactingHandler(slog.NewJSONHandler(&buf, nil))
	logger := slog.New(handler)

	logger.Info("session saved", slog.Group("session",
		slog.String("storage_state", `{"cookies":[]}`),
		slog.String("session_id", "s-1"),
	))

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("failed to parse log output: %v", err)
	}
	group, ok := record["session"].(map[string]any)
	if !ok {
		t.Fatalf("expected session group, got %v", record["session"])
	}
	if group["storage_state"] != redactedValue {
		t.Fatalf("expected storage_state redacted, got %v", group["storage_state"])
	}
	if group["session_id"] != "s-1" {
		t.Fatalf("expected session_id untouched, got %v", group["session_id"])
	}
}
