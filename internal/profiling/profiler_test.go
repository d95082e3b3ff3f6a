package profiling

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	yerrors "github.com/Aman-CERP/ygrep/internal/errors"
)

func busyWork() int {
	sum := 0
	for i := 0; i < 1_000_000; i++ {
		sum += i % 7
	}
	return sum
}

func TestSession_WritesEveryProfile(t *testing.T) {
	// Given: all three outputs requested
	dir := t.TempDir()
	opts := Options{
		CPU:   filepath.Join(dir, "cpu.prof"),
		Heap:  filepath.Join(dir, "heap.prof"),
		Trace: filepath.Join(dir, "trace.out"),
	}
	require.True(t, opts.Enabled())

	// When: profiling some work
	s, err := Start(opts)
	require.NoError(t, err)
	_ = busyWork()
	require.NoError(t, s.Stop())

	// Then: every file has content, and a second Stop is a no-op
	for _, p := range []string{opts.CPU, opts.Heap, opts.Trace} {
		info, err := os.Stat(p)
		require.NoError(t, err, p)
		assert.Positive(t, info.Size(), p)
	}
	require.NoError(t, s.Stop())
}

func TestSession_HeapOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "heap.prof")

	s, err := Start(Options{Heap: path})
	require.NoError(t, err)
	require.NoError(t, s.Stop())

	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestStart_UnwritablePath(t *testing.T) {
	_, err := Start(Options{CPU: filepath.Join(t.TempDir(), "missing", "cpu.prof")})

	assert.Equal(t, yerrors.ErrCodeIOFailure, yerrors.GetCode(err))
}

func TestOptions_Enabled(t *testing.T) {
	assert.False(t, Options{}.Enabled())
	assert.True(t, Options{Trace: "t.out"}.Enabled())
}
