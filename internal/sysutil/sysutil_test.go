package sysutil

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func keepLogging(t *testing.T) {
	t.Helper()
	level, logger := zerolog.GlobalLevel(), log.Logger
	t.Cleanup(func() {
		zerolog.SetGlobalLevel(level)
		log.Logger = logger
	})
}

func TestSetLogLevel(t *testing.T) {
	keepLogging(t)
	for in, want := range map[string]zerolog.Level{
		"debug":     zerolog.DebugLevel,
		"  DeBuG  ": zerolog.DebugLevel,
		"warning":   zerolog.WarnLevel,
		"ERROR":     zerolog.ErrorLevel,
		"panic":     zerolog.PanicLevel,
		"":          zerolog.InfoLevel,
		"trace":     zerolog.InfoLevel,
		"disabled":  zerolog.InfoLevel,
		"loud":      zerolog.InfoLevel,
	} {
		SetLogLevel(in)
		if got := zerolog.GlobalLevel(); got != want {
			t.Fatalf("SetLogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestConfigureLogger(t *testing.T) {
	t.Run("json filters below level", func(t *testing.T) {
		keepLogging(t)
		var buf bytes.Buffer
		ConfigureLogger("warn", false, &buf)
		log.Info().Msg("prayer recorded")
		log.Warn().Int64("request_id", 9).Msg("push receipt failed")

		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		if len(lines) != 1 {
			t.Fatalf("want one line, got %q", buf.String())
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(lines[0]), &m); err != nil {
			t.Fatalf("not JSON: %v", err)
		}
		ts, _ := m["time"].(string)
		if m["level"] != "warn" || m["request_id"] != float64(9) || !strings.HasSuffix(ts, "Z") {
			t.Fatalf("line = %v", m)
		}
	})
	t.Run("pretty console", func(t *testing.T) {
		keepLogging(t)
		var buf bytes.Buffer
		ConfigureLogger("info", true, &buf)
		log.Info().Msg("broadcast job finished")
		if out := buf.String(); strings.HasPrefix(out, "{") || !strings.Contains(out, "broadcast job finished") {
			t.Fatalf("console output = %q", out)
		}
	})
}

func TestFirstNonEmpty(t *testing.T) {
	cases := []struct {
		in   []string
		want string
	}{
		{nil, ""},
		{[]string{" ", "\t"}, ""},
		{[]string{"", "  v1.4.0  ", "dev"}, "  v1.4.0  "},
		{[]string{"sqlite", "postgres"}, "sqlite"},
	}
	for _, tc := range cases {
		if got := FirstNonEmpty(tc.in...); got != tc.want {
			t.Fatalf("FirstNonEmpty(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
