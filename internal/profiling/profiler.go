// Package profiling writes CPU, heap and execution-trace profiles for one
// CLI invocation, for inspecting slow builds and queries with go tool.
package profiling

import (
	"errors"
	"os"
	"runtime"
	"runtime/pprof"
	"runtime/trace"

	yerrors "github.com/Aman-CERP/ygrep/internal/errors"
)

// Options names the profile outputs. Empty paths are skipped.
type Options struct {
	CPU   string
	Heap  string
	Trace string
}

// Enabled reports whether any profile was requested.
func (o Options) Enabled() bool {
	return o.CPU != "" || o.Heap != "" || o.Trace != ""
}

// Session is a running set of profiles.
type Session struct {
	opts      Options
	cpuFile   *os.File
	traceFile *os.File
}

// Start begins CPU profiling and tracing as requested. The heap profile is
// written by Stop.
func Start(opts Options) (*Session, error) {
	s := &Session{opts: opts}

	if opts.CPU != "" {
		f, err := os.Create(opts.CPU)
		if err != nil {
			return nil, yerrors.IOFailure(opts.CPU, err)
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			_ = f.Close()
			return nil, yerrors.InternalError("start CPU profile", err)
		}
		s.cpuFile = f
	}

	if opts.Trace != "" {
		f, err := os.Create(opts.Trace)
		if err != nil {
			s.stopCPU()
			return nil, yerrors.IOFailure(opts.Trace, err)
		}
		if err := trace.Start(f); err != nil {
			_ = f.Close()
			s.stopCPU()
			return nil, yerrors.InternalError("start trace", err)
		}
		s.traceFile = f
	}
	return s, nil
}

func (s *Session) stopCPU() {
	if s.cpuFile == nil {
		return
	}
	pprof.StopCPUProfile()
	_ = s.cpuFile.Close()
	s.cpuFile = nil
}

// Stop flushes the CPU profile and trace and writes the heap profile.
// It is safe to call more than once.
func (s *Session) Stop() error {
	s.stopCPU()
	if s.traceFile != nil {
		trace.Stop()
		_ = s.traceFile.Close()
		s.traceFile = nil
	}

	if s.opts.Heap == "" {
		return nil
	}
	path := s.opts.Heap
	s.opts.Heap = ""
	return writeHeap(path)
}

func writeHeap(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return yerrors.IOFailure(path, err)
	}
	runtime.GC()
	err = pprof.WriteHeapProfile(f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return yerrors.IOFailure(path, errors.Join(errors.New("write heap profile"), err))
	}
	return nil
}
