package logging

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestNewWithWriterLevels(t *testing.T) {
	tests := []struct {
		name    string
		level   string
		wantOut bool
	}{
		{name: "info passes info", level: "info", wantOut: true},
		{name: "warn drops info", level: "warn", wantOut: false},
		{name: "empty defaults to info", level: "", wantOut: true},
		{name: "unknown defaults to info", level: "loud", wantOut: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewWithWriter(&buf, tt.level, false)

			logger.Info().Msg("hello")

			if got := buf.Len() > 0; got != tt.wantOut {
				t.Errorf("Expected output %v, got %q", tt.wantOut, buf.String())
			}
		})
	}
}

func TestComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := Component(NewWithWriter(&buf, "debug", false), "engine")

	logger.Debug().Str("coin", "BTC").Msg("started")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("Expected JSON line, got %q: %v", buf.String(), err)
	}
	if line["component"] != "engine" || line["coin"] != "BTC" || line["message"] != "started" {
		t.Errorf("Unexpected fields: %v", line)
	}
}
