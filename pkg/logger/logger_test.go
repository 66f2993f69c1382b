package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestNew_JSONOutput(t *testing.T) {
	var buf bytes.Buffer
	log := New("staking", Config{Level: "debug", Output: &buf})

	log.WithField("pool_id", "p-1").Debug("stake accepted")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, buf.String())
	}
	if entry["component"] != "staking" {
		t.Errorf("component = %v, want staking", entry["component"])
	}
	if entry["pool_id"] != "p-1" {
		t.Errorf("pool_id = %v, want p-1", entry["pool_id"])
	}
	if entry["msg"] != "stake accepted" {
		t.Errorf("msg = %v", entry["msg"])
	}
}

func TestNew_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := New("lending", Config{Level: "warn", Output: &buf})

	log.Info("hidden")
	if buf.Len() != 0 {
		t.Errorf("info logged at warn level: %q", buf.String())
	}

	log.Warn("shown")
	if !strings.Contains(buf.String(), "shown") {
		t.Errorf("warn not logged: %q", buf.String())
	}
}

func TestNew_InvalidLevelDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	log := New("dao", Config{Level: "loud", Format: "text", Output: &buf})

	log.Debug("hidden")
	log.Info("visible")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "visible") {
		t.Errorf("unexpected output %q", buf.String())
	}
}

func TestNamed(t *testing.T) {
	var buf bytes.Buffer
	log := New("engine", Config{Output: &buf}).Named("registry")

	log.Info("hello")
	if !strings.Contains(buf.String(), `"component":"registry"`) {
		t.Errorf("component not overridden: %q", buf.String())
	}
}

func TestNewNop(t *testing.T) {
	log := NewNop()
	log.WithField("k", "v").Error("discarded")
}
