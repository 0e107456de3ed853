// HookClaw - Telegram webhook gateway
// License: MIT

package main

import (
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildInfo(t *testing.T) {
	tests := []struct {
		name    string
		info    buildInfo
		want    string
		details []string
	}{
		{"bare", buildInfo{Version: "dev"}, "dev", nil},
		{"with commit", buildInfo{Version: "1.2.0", Commit: "abc123"}, "1.2.0 (git: abc123)", nil},
		{
			"full",
			buildInfo{Version: "1.2.0", Commit: "abc123", Built: "2026-10-01T10:00:00Z", Go: "go1.25.7"},
			"1.2.0 (git: abc123)",
			[]string{"Build: 2026-10-01T10:00:00Z", "Go: go1.25.7"},
		},
		{"go only", buildInfo{Version: "dev", Go: "go1.25.7"}, "dev", []string{"Go: go1.25.7"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.info.String())
			assert.Equal(t, tt.details, tt.info.details())
		})
	}
}

func TestCurrentBuildFallsBackToRuntime(t *testing.T) {
	saved := goVersion
	t.Cleanup(func() { goVersion = saved })

	goVersion = ""
	assert.Equal(t, runtime.Version(), currentBuild().Go)

	goVersion = "go1.0"
	assert.Equal(t, "go1.0", currentBuild().Go)
}

func TestCountSnapshots(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"context_1.json", "context_-5.json", "notes.json", "context_2.json.tmp"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("{}"), 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "context_3.json"), 0o755))

	n, err := countSnapshots(dir)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestCountSnapshotsMissingDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "never-made")

	n, err := countSnapshots(dir)
	assert.ErrorIs(t, err, fs.ErrNotExist)
	assert.Zero(t, n)

	_, statErr := os.Stat(dir)
	assert.ErrorIs(t, statErr, fs.ErrNotExist, "status must not create the storage directory")
}
