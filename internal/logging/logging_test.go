package logging

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewWithStdoutSink(t *testing.T) {
	cfg := DefaultConfig()
	log, err := New(cfg)
	require.NoError(t, err)
	require.NotNil(t, log)
	log.Info("hello")
}

func TestNewRejectsInvalidLevel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Level = "not-a-level"
	_, err := New(cfg)
	require.Error(t, err)
}

func TestNewWithFileSink(t *testing.T) {
	cfg := DefaultConfig()
	cfg.OutputPath = filepath.Join(t.TempDir(), "racer.log")
	log, err := New(cfg)
	require.NoError(t, err)
	log.Info("to file")
	require.NoError(t, log.Sync())
}
