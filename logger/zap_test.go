package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewZapLoggerDefaultsUnknownLevelToInfo(t *testing.T) {
	log := NewZapLogger("not-a-real-level")
	assert.NotNil(t, log)
	// Must not panic when logging through the unexported level default.
	log.Info("test message", map[string]any{"key": "value"})
}

func TestToZapFieldsCoversAllKeys(t *testing.T) {
	fields := toZapFields(map[string]any{"a": 1, "b": "two"})
	assert.Len(t, fields, 2)
}

func TestNoopLoggerDiscardsEverything(t *testing.T) {
	var l Logger = NoopLogger{}
	assert.NotPanics(t, func() {
		l.Debug("d", nil)
		l.Info("i", nil)
		l.Warn("w", nil)
		l.Error("e", nil)
	})
}
