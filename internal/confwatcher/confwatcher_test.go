package confwatcher

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestConfWatcherWrite(t *testing.T) {
	dir := t.TempDir()
	confPath := filepath.Join(dir, "ndi-router.yml")

	err := os.WriteFile(confPath, []byte("videoOutputs: 8\n"), 0o644)
	require.NoError(t, err)

	w, err := New(confPath)
	require.NoError(t, err)
	defer w.Close()

	err = os.WriteFile(confPath, []byte("videoOutputs: 4\n"), 0o644)
	require.NoError(t, err)

	select {
	case <-w.Watch():
	case <-time.After(2 * time.Second):
		t.Error("signal not received")
	}
}

func TestConfWatcherReplace(t *testing.T) {
	dir := t.TempDir()
	confPath := filepath.Join(dir, "ndi-router.yml")

	err := os.WriteFile(confPath, []byte("videoOutputs: 8\n"), 0o644)
	require.NoError(t, err)

	w, err := New(confPath)
	require.NoError(t, err)
	defer w.Close()

	// save the way most editors do: write a temporary file,
	// then rename it over the original.
	tmpPath := filepath.Join(dir, "ndi-router.yml.tmp")
	err = os.WriteFile(tmpPath, []byte("videoOutputs: 4\n"), 0o644)
	require.NoError(t, err)

	err = os.Rename(tmpPath, confPath)
	require.NoError(t, err)

	select {
	case <-w.Watch():
	case <-time.After(2 * time.Second):
		t.Error("signal not received")
	}
}

func TestConfWatcherUnrelatedFile(t *testing.T) {
	dir := t.TempDir()
	confPath := filepath.Join(dir, "ndi-router.yml")

	err := os.WriteFile(confPath, []byte("videoOutputs: 8\n"), 0o644)
	require.NoError(t, err)

	w, err := New(confPath)
	require.NoError(t, err)
	defer w.Close()

	err = os.WriteFile(filepath.Join(dir, "other.yml"), []byte("foo\n"), 0o644)
	require.NoError(t, err)

	select {
	case <-w.Watch():
		t.Error("unexpected signal")
	case <-time.After(500 * time.Millisecond):
	}
}
