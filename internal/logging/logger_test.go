package logging_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"fascicle/internal/logging"
	"fascicle/internal/services"
)

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "yaml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestNewForRunCreatesLogFile(t *testing.T) {
	dir := t.TempDir()
	logger, err := logging.NewForRun(dir, "info", "json")
	if err != nil {
		t.Fatalf("NewForRun failed: %v", err)
	}
	logger.Info("cohort run started", logging.Int("subjects", 3))

	data, err := os.ReadFile(filepath.Join(dir, "fascicle.log"))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "cohort run started") {
		t.Fatalf("expected log line in file, got %q", string(data))
	}
}

func TestWithContextAddsCorrelationFields(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	ctx := services.WithSubject(context.Background(), "sub-01")
	ctx = services.WithStage(ctx, "tractography")
	ctx = services.WithRunID(ctx, "run-abc")

	logging.WithContext(ctx, logger).Info("stage started")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if record[logging.FieldSubject] != "sub-01" {
		t.Errorf("subject field = %v", record[logging.FieldSubject])
	}
	if record[logging.FieldStage] != "tractography" {
		t.Errorf("stage field = %v", record[logging.FieldStage])
	}
	if record[logging.FieldRunID] != "run-abc" {
		t.Errorf("run_id field = %v", record[logging.FieldRunID])
	}
}

func TestNewNopDiscards(t *testing.T) {
	logger := logging.NewNop()
	if logger.Enabled(context.Background(), slog.LevelError) {
		t.Fatal("expected nop logger to be disabled")
	}
}
