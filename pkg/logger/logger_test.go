package logger

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestCronLoggerRoutesErrors(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	l := Cron(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})), "cron")

	l.Info("schedule", "entry", 1)
	l.Error(errors.New("boom"), "panic", "job", "collect")

	out := buf.String()
	if strings.Contains(out, "schedule") {
		t.Fatalf("info events should be logged at debug: %q", out)
	}
	for _, want := range []string{"level=ERROR", "msg=panic", "error=boom", "job=collect", "component=cron"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in %q", want, out)
		}
	}
}

func TestCronLoggerNil(t *testing.T) {
	t.Parallel()

	// must not panic
	Cron(nil, "cron").Error(errors.New("x"), "ignored")
}
