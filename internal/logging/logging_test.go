package logging

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	cases := []struct {
		raw  string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"WARN", zerolog.WarnLevel},
		{"", zerolog.InfoLevel},
		{"nonsense", zerolog.InfoLevel},
	}

	for _, tc := range cases {
		if got := parseLevel(tc.raw); got != tc.want {
			t.Fatalf("parseLevel(%q) = %v, want %v", tc.raw, got, tc.want)
		}
	}
}

func TestNewLoggerHonorsLevel(t *testing.T) {
	logger := NewLogger(Config{Level: "error"})
	if logger.GetLevel() != zerolog.ErrorLevel {
		t.Fatalf("logger level = %v, want error", logger.GetLevel())
	}
}
