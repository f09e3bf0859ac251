package obs

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestInitLogger(t *testing.T) {
	tests := []struct {
		name     string
		level    string
		expected zerolog.Level
	}{
		{"info level", "info", zerolog.InfoLevel},
		{"debug level", "debug", zerolog.DebugLevel},
		{"warn level", "warn", zerolog.WarnLevel},
		{"warning alias", "WARNING", zerolog.WarnLevel},
		{"empty defaults to info", "", zerolog.InfoLevel},
		{"invalid level defaults to info", "invalid", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			InitLogger(tt.level)
			if zerolog.GlobalLevel() != tt.expected {
				t.Errorf("expected level %v, got %v", tt.expected, zerolog.GlobalLevel())
			}
		})
	}
}

func TestLoggerWritesComponent(t *testing.T) {
	t.Setenv("ENV", "")
	var buf bytes.Buffer
	initLogger(&buf, "info")
	defer InitLogger("info")

	logger := Logger("listener")
	logger.Info().Msg("hello")

	out := buf.String()
	if !strings.Contains(out, `"component":"listener"`) {
		t.Errorf("expected component field, got %s", out)
	}
	if !strings.Contains(out, `"message":"hello"`) {
		t.Errorf("expected message field, got %s", out)
	}
}
