package logging

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"
)

type captureHandler struct {
	min      slog.Level
	messages []string
	fail     bool
}

func (c *captureHandler) Enabled(_ context.Context, l slog.Level) bool { return l >= c.min }

func (c *captureHandler) Handle(_ context.Context, r slog.Record) error {
	if c.fail {
		return errors.New("sink failed")
	}
	c.messages = append(c.messages, r.Message)
	return nil
}

func (c *captureHandler) WithAttrs([]slog.Attr) slog.Handler { return c }
func (c *captureHandler) WithGroup(string) slog.Handler      { return c }

func TestMultiHandlerFansOut(t *testing.T) {
	a := &captureHandler{min: slog.LevelDebug}
	b := &captureHandler{min: slog.LevelDebug}
	logger := slog.New(NewMultiHandler(a, b))

	logger.Info("hello")

	if len(a.messages) != 1 || len(b.messages) != 1 {
		t.Fatalf("got %d and %d messages, wanted 1 and 1", len(a.messages), len(b.messages))
	}
	if a.messages[0] != "hello" || b.messages[0] != "hello" {
		t.Errorf("got %q and %q, wanted %q", a.messages[0], b.messages[0], "hello")
	}
}

func TestMultiHandlerRespectsDestinationLevels(t *testing.T) {
	console := &captureHandler{min: slog.LevelDebug}
	db := &captureHandler{min: slog.LevelError}
	logger := slog.New(NewMultiHandler(console, db))

	logger.Info("routine")

	if len(console.messages) != 1 {
		t.Errorf("got %d console messages, wanted 1", len(console.messages))
	}
	if len(db.messages) != 0 {
		t.Errorf("got %d db messages, wanted 0", len(db.messages))
	}
}

func TestMultiHandlerKeepsGoingAfterFailure(t *testing.T) {
	broken := &captureHandler{min: slog.LevelDebug, fail: true}
	ok := &captureHandler{min: slog.LevelDebug}
	h := NewMultiHandler(broken, ok)

	r := slog.NewRecord(time.Now(), slog.LevelInfo, "hello", 0)
	err := h.Handle(context.Background(), r)

	if err == nil {
		t.Error("expected the failing destination's error to surface")
	}
	if len(ok.messages) != 1 {
		t.Errorf("got %d messages, wanted the healthy destination to still receive 1", len(ok.messages))
	}
}

func TestLevelFromString(t *testing.T) {
	str := func(s string) *string { return &s }

	tests := []struct {
		in   *string
		want slog.Level
	}{
		{nil, slog.LevelInfo},
		{str("debug"), slog.LevelDebug},
		{str("INFO"), slog.LevelInfo},
		{str("Warn"), slog.LevelWarn},
		{str("ERROR"), slog.LevelError},
		{str("bogus"), slog.LevelInfo},
	}

	for _, tt := range tests {
		if got := LevelFromString(tt.in); got != tt.want {
			t.Errorf("got %v, wanted %v", got, tt.want)
		}
	}
}
