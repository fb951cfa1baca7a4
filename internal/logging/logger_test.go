package logging

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func syncConfig(buf *bytes.Buffer) *Config {
	return &Config{
		Level:   LevelDebug,
		Format:  "text",
		Output:  buf,
		Sync:    true,
		NoColor: true,
	}
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name   string
		config *Config
	}{
		{
			name:   "default config",
			config: nil,
		},
		{
			name: "json format",
			config: &Config{
				Level:  LevelInfo,
				Format: "json",
				Output: &bytes.Buffer{},
				Sync:   true,
			},
		},
		{
			name: "text format",
			config: &Config{
				Level:  LevelDebug,
				Format: "text",
				Output: &bytes.Buffer{},
				Sync:   true,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := NewLogger(tt.config)
			if logger == nil {
				t.Error("NewLogger() returned nil")
			}
		})
	}
}

func TestLoggerWithContext(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(syncConfig(&buf))

	// Test queue context
	queueLogger := logger.WithQueue(3)
	queueLogger.Info("queue message")

	output := buf.String()
	if !strings.Contains(output, "queue_id=3") {
		t.Errorf("Expected queue_id=3 in output, got: %s", output)
	}

	// Context stacks
	buf.Reset()
	nsLogger := queueLogger.WithNamespace(7)
	nsLogger.Info("namespace message")

	output = buf.String()
	if !strings.Contains(output, "queue_id=3") {
		t.Errorf("Expected queue_id=3 in stacked output, got: %s", output)
	}
	if !strings.Contains(output, "nsid=7") {
		t.Errorf("Expected nsid=7 in output, got: %s", output)
	}
}

func TestLoggerWithCommand(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(syncConfig(&buf))

	cmdLogger := logger.WithCommand(123, "READ")
	cmdLogger.Debug("processing command")

	output := buf.String()
	if !strings.Contains(output, "cid=123") {
		t.Errorf("Expected cid=123 in output, got: %s", output)
	}
	if !strings.Contains(output, "op=READ") {
		t.Errorf("Expected op=READ in output, got: %s", output)
	}
}

func TestLoggerWithError(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(syncConfig(&buf))

	logger.WithError(errors.New("ring full")).Warn("submit failed")

	output := buf.String()
	if !strings.Contains(output, "ring full") {
		t.Errorf("Expected error text in output, got: %s", output)
	}
}

func TestLoggerKeyValuePairs(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(syncConfig(&buf))

	logger.Info("completion drained", "cid", 42, "status", 0)

	output := buf.String()
	if !strings.Contains(output, "cid=42") {
		t.Errorf("Expected cid=42 in output, got: %s", output)
	}
	if !strings.Contains(output, "completion drained") {
		t.Errorf("Expected message in output, got: %s", output)
	}
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	config := syncConfig(&buf)
	config.Level = LevelWarn
	logger := NewLogger(config)

	logger.Debug("should be dropped")
	logger.Info("should be dropped too")
	logger.Warn("should appear")

	output := buf.String()
	if strings.Contains(output, "dropped") {
		t.Errorf("Below-level messages leaked: %s", output)
	}
	if !strings.Contains(output, "should appear") {
		t.Errorf("Warn message missing: %s", output)
	}
}

func TestDefaultLogger(t *testing.T) {
	if Default() == nil {
		t.Fatal("Default() returned nil")
	}

	var buf bytes.Buffer
	custom := NewLogger(syncConfig(&buf))
	old := Default()
	SetDefault(custom)
	defer SetDefault(old)

	Info("through the default logger")
	if !strings.Contains(buf.String(), "through the default logger") {
		t.Errorf("Default logger did not receive the message: %s", buf.String())
	}
}
