package command

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecRunner_ZeroExit(t *testing.T) {
	var out bytes.Buffer
	r := &ExecRunner{Stdout: &out, Stderr: &out}

	code, err := r.Run(context.Background(), t.TempDir(), "echo hello", time.Second*5)
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Equal(t, "hello\n", out.String())
}

func TestExecRunner_NonZeroExitIsNotAnError(t *testing.T) {
	r := &ExecRunner{Stdout: &bytes.Buffer{}, Stderr: &bytes.Buffer{}}

	code, err := r.Run(context.Background(), t.TempDir(), "exit 3", 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 3, code)
}

func TestExecRunner_RunsInDir(t *testing.T) {
	dir := t.TempDir()
	var out bytes.Buffer
	r := &ExecRunner{Stdout: &out, Stderr: &bytes.Buffer{}}

	_, err := r.Run(context.Background(), dir, "touch marker && ls", 5*time.Second)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "marker")
}

func TestExecRunner_MissingProgram(t *testing.T) {
	r := &ExecRunner{Stdout: &bytes.Buffer{}, Stderr: &bytes.Buffer{}}

	code, err := r.Run(context.Background(), t.TempDir(), "definitely-not-a-real-program-xyz", 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, ExitNotFound, code)
	assert.True(t, Unavailable(code))
}

func TestExecRunner_Timeout(t *testing.T) {
	r := &ExecRunner{Stdout: &bytes.Buffer{}, Stderr: &bytes.Buffer{}}

	start := time.Now()
	code, err := r.Run(context.Background(), t.TempDir(), "sleep 10", 100*time.Millisecond)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTimeout), "expected ErrTimeout, got %v", err)
	assert.Equal(t, -1, code)
	assert.Less(t, time.Since(start), 8*time.Second)
}

func TestExecRunner_TimeoutKillsWholeProcessGroup(t *testing.T) {
	dir := t.TempDir()
	r := &ExecRunner{Stdout: &bytes.Buffer{}, Stderr: &bytes.Buffer{}}

	_, err := r.Run(context.Background(), dir, "sh -c 'sleep 1; touch late-write'; true", 200*time.Millisecond)
	require.True(t, errors.Is(err, ErrTimeout), "expected ErrTimeout, got %v", err)

	time.Sleep(2 * time.Second)
	assert.NoFileExists(t, filepath.Join(dir, "late-write"))
}

func TestExecRunner_CancelKillsBackgroundChildren(t *testing.T) {
	dir := t.TempDir()
	r := &ExecRunner{Stdout: &bytes.Buffer{}, Stderr: &bytes.Buffer{}}
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(200*time.Millisecond, cancel)

	_, err := r.Run(ctx, dir, "(sleep 1; touch late-write) & wait", 5*time.Second)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled), "expected context.Canceled, got %v", err)

	time.Sleep(2 * time.Second)
	assert.NoFileExists(t, filepath.Join(dir, "late-write"))
}

func TestExecRunner_NoStdin(t *testing.T) {
	r := &ExecRunner{Stdout: &bytes.Buffer{}, Stderr: &bytes.Buffer{}}

	code, err := r.Run(context.Background(), t.TempDir(), "cat", 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 0, code)
}

func TestExecRunner_BadDirIsStartFailure(t *testing.T) {
	r := &ExecRunner{Stdout: &bytes.Buffer{}, Stderr: &bytes.Buffer{}}

	_, err := r.Run(context.Background(), "/does/not/exist/anywhere", "true", 5*time.Second)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrTimeout))
}

func TestUnavailable(t *testing.T) {
	assert.True(t, Unavailable(126))
	assert.True(t, Unavailable(127))
	assert.False(t, Unavailable(0))
	assert.False(t, Unavailable(1))
}

func TestResolvable(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "bin"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bin", "check"), []byte("#!/bin/sh\nexit 0\n"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	tests := []struct {
		line string
		want bool
	}{
		{"sh -c 'exit 127'", true},
		{"true && selfheal-no-such-tool", true},
		{"test -f fixed", true},
		{"PATH=$PWD/bin:$PATH mylint", true},
		{"$HOME/bin/tool", true},
		{"./bin/check --strict", true},
		{"bin/check", true},
		{"./notes.txt", false},
		{"./bin/missing", false},
		{"selfheal-no-such-tool --flag", false},
		{"", true},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			assert.Equal(t, tt.want, Resolvable(dir, tt.line))
		})
	}
}
