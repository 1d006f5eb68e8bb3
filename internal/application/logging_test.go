package application

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/example/resource-scheduler/internal/logging"
)

func TestServiceLogger(t *testing.T) {
	t.Parallel()

	decode := func(t *testing.T, buf *bytes.Buffer) map[string]any {
		t.Helper()
		var record map[string]any
		if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
			t.Fatalf("log line is not JSON: %v (%q)", err, buf.String())
		}
		return record
	}

	t.Run("request logger wins over the service logger", func(t *testing.T) {
		t.Parallel()

		var base, request bytes.Buffer
		ctx := logging.ContextWithLogger(context.Background(), slog.New(slog.NewJSONHandler(&request, nil)))
		logger := serviceLogger(ctx, slog.New(slog.NewJSONHandler(&base, nil)), "BookingService", "Schedule", "resource_id", "room-1")
		logger.Info("schedule evaluated")

		if base.Len() != 0 {
			t.Fatalf("expected nothing on the service logger, got %q", base.String())
		}
		record := decode(t, &request)
		for key, want := range map[string]string{"service": "BookingService", "operation": "Schedule", "resource_id": "room-1"} {
			if record[key] != want {
				t.Fatalf("expected %s=%q, got %v", key, want, record[key])
			}
		}
	})

	t.Run("service logger without request logger", func(t *testing.T) {
		t.Parallel()

		var base bytes.Buffer
		serviceLogger(context.Background(), slog.New(slog.NewJSONHandler(&base, nil)), "WaitlistService", "").Info("noted")

		record := decode(t, &base)
		if record["service"] != "WaitlistService" {
			t.Fatalf("expected service attribute, got %v", record)
		}
		if _, ok := record["operation"]; ok {
			t.Fatalf("empty operation should be omitted, got %v", record["operation"])
		}
	})
}

func TestDefaultLogger(t *testing.T) {
	t.Parallel()

	custom := slog.New(slog.NewTextHandler(io.Discard, nil))
	if got := defaultLogger(custom); got != custom {
		t.Fatalf("expected custom logger to be returned")
	}
	if got := defaultLogger(nil); got != slog.Default() {
		t.Fatalf("expected default logger when none provided")
	}
}
