package logging

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestNewJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "debug", Pretty: false, Output: &buf})

	log.Debug().Str("table", "dim_client").Int("rows", 3).Msg("Loaded dimension")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Expected JSON log line, got %q: %v", buf.String(), err)
	}
	if entry["table"] != "dim_client" {
		t.Errorf("Expected table 'dim_client', got '%v'", entry["table"])
	}
	if entry["message"] != "Loaded dimension" {
		t.Errorf("Expected message 'Loaded dimension', got '%v'", entry["message"])
	}
}

func TestNewInvalidLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "verbose", Output: &buf})

	log.Debug().Msg("hidden")
	if buf.Len() != 0 {
		t.Errorf("Expected debug line to be filtered, got %q", buf.String())
	}

	log.Info().Msg("shown")
	if buf.Len() == 0 {
		t.Error("Expected info line to be written")
	}
}
