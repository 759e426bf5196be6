package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/danshapiro/typedagent/internal/agenterr"
)

func TestNewWithWriter_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewWithWriter(Config{Level: "info", Format: "json"}, &buf)
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Info("visible", zap.String("agent", "summarizer"))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "visible", entry["msg"])
	assert.Equal(t, "summarizer", entry["agent"])
	assert.Equal(t, "info", entry["level"])
	assert.Contains(t, entry, "ts")
}

func TestNewWithWriter_Console(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewWithWriter(Config{Level: "DEBUG", Format: "console"}, &buf)
	require.NoError(t, err)
	logger.Debug("hello")
	assert.Contains(t, buf.String(), "DEBUG")
	assert.Contains(t, buf.String(), "hello")
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, Config{}.Validate())
	assert.Error(t, Config{Level: "loud"}.Validate())
	assert.Error(t, Config{Format: "xml"}.Validate())
}

type syncer struct {
	bytes.Buffer
	err error
}

func (s *syncer) Sync() error { return s.err }

func TestSync(t *testing.T) {
	newLogger := func(err error) *zap.Logger {
		ws := &syncer{err: err}
		return zap.New(zapcore.NewCore(zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()), ws, zapcore.InfoLevel))
	}

	assert.Nil(t, Sync(nil))
	assert.Nil(t, Sync(newLogger(nil)))
	assert.Nil(t, Sync(newLogger(syscall.EINVAL)))
	assert.Nil(t, Sync(newLogger(syscall.ENOTTY)))

	w := Sync(newLogger(errors.New("disk gone")))
	require.NotNil(t, w)
	assert.Equal(t, agenterr.CodeLoggingFailed, w.Code)
	assert.Equal(t, agenterr.SeverityWarning, w.Severity)
	assert.Equal(t, agenterr.LoggingFailedContext{Sink: "zap", Reason: "disk gone"}, w.Context)
}
