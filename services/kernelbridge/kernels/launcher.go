// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package kernels

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/time/rate"
)

// =============================================================================
// Kernel Launcher
// =============================================================================

// connectionFilePlaceholder in a kernelspec argv is replaced with the
// session's connection file path.
const connectionFilePlaceholder = "{connection_file}"

// Default output throttle: kernels that spray stdout cannot grow log files
// faster than this. Applied as backpressure on the output pipe.
const (
	defaultOutputRate  rate.Limit = 1 << 20 // 1 MiB/s
	defaultOutputBurst            = 64 << 10
)

// Launcher spawns kernel processes and captures their combined
// stdout/stderr to a per-session log file.
//
// The last line of every log file is exactly "Process exit code N"; a
// downstream parser depends on that trailing line format.
type Launcher struct {
	pm     ProcessManager
	logDir string
	logger *slog.Logger

	// OutputRate and OutputBurst throttle kernel output capture.
	// Zero OutputRate disables throttling.
	OutputRate  rate.Limit
	OutputBurst int
}

// NewLauncher creates a launcher writing logs under logDir.
func NewLauncher(pm ProcessManager, logDir string, logger *slog.Logger) *Launcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Launcher{
		pm:          pm,
		logDir:      logDir,
		logger:      logger,
		OutputRate:  defaultOutputRate,
		OutputBurst: defaultOutputBurst,
	}
}

// KernelProcess is a launched kernel with its log capture.
//
// Exited fires only after the log file has been finalized with the
// trailing exit-code line, so a consumer that reacts to the exit can
// immediately parse the complete log.
type KernelProcess struct {
	proc    Process
	LogPath string
	exited  chan int
}

// Pid returns the kernel's OS process id.
func (k *KernelProcess) Pid() int { return k.proc.Pid() }

// Signal delivers a signal to the kernel process.
func (k *KernelProcess) Signal(sig os.Signal) error { return k.proc.Signal(sig) }

// Exited receives the exit code once, after log finalization.
func (k *KernelProcess) Exited() <-chan int { return k.exited }

// Launch starts the kernel described by spec for the given session.
//
// The {connection_file} placeholder in argv is substituted, spec env is
// appended to the bridge environment, and output is captured to
// <logDir>/kernel_<sessionID>.log.
func (l *Launcher) Launch(ctx context.Context, spec KernelSpec, sessionID,
	connectionFile string) (*KernelProcess, error) {

	if err := os.MkdirAll(l.logDir, 0o750); err != nil {
		return nil, fmt.Errorf("kernels: create log dir: %w", err)
	}
	logPath := filepath.Join(l.logDir, "kernel_"+sessionID+".log")
	logFile, err := os.Create(logPath)
	if err != nil {
		return nil, fmt.Errorf("kernels: create log file: %w", err)
	}

	argv := make([]string, len(spec.Argv))
	for i, arg := range spec.Argv {
		argv[i] = strings.ReplaceAll(arg, connectionFilePlaceholder, connectionFile)
	}
	env := make([]string, 0, len(spec.Env))
	for k, v := range spec.Env {
		env = append(env, k+"="+v)
	}

	sink := newLogSink(logFile, l.OutputRate, l.OutputBurst)
	proc, err := l.pm.Start(ctx, argv, env, sink)
	if err != nil {
		logFile.Close()
		os.Remove(logPath)
		return nil, err
	}
	l.logger.Info("kernel launched",
		"session_id", sessionID, "kernel", spec.Name, "pid", proc.Pid(), "log", logPath)

	kp := &KernelProcess{proc: proc, LogPath: logPath, exited: make(chan int, 1)}
	go func() {
		code := <-proc.Exited()
		sink.finalize(code)
		logFile.Close()
		l.logger.Info("kernel exited",
			"session_id", sessionID, "kernel", spec.Name, "exit_code", code)
		kp.exited <- code
		close(kp.exited)
	}()
	return kp, nil
}

// =============================================================================
// Log Sink
// =============================================================================

// logSink writes kernel output to the log file with optional rate
// limiting, and appends the exit-code trailer on finalize. It tracks the
// last byte written so the trailer always starts on its own line.
type logSink struct {
	mu       sync.Mutex
	dst      io.Writer
	limiter  *rate.Limiter
	lastByte byte
	final    bool
}

func newLogSink(dst io.Writer, limit rate.Limit, burst int) *logSink {
	s := &logSink{dst: dst, lastByte: '\n'}
	if limit > 0 {
		if burst <= 0 {
			burst = defaultOutputBurst
		}
		s.limiter = rate.NewLimiter(limit, burst)
	}
	return s
}

// Write implements io.Writer with backpressure against the limiter.
func (s *logSink) Write(p []byte) (int, error) {
	written := 0
	for len(p) > 0 {
		chunk := p
		if s.limiter != nil {
			if burst := s.limiter.Burst(); len(chunk) > burst {
				chunk = chunk[:burst]
			}
			if err := s.limiter.WaitN(context.Background(), len(chunk)); err != nil {
				return written, err
			}
		}
		s.mu.Lock()
		if s.final {
			s.mu.Unlock()
			// Output raced the exit trailer; drop it rather than
			// breaking the trailing-line contract.
			return written + len(p), nil
		}
		n, err := s.dst.Write(chunk)
		if n > 0 {
			s.lastByte = chunk[n-1]
		}
		s.mu.Unlock()
		written += n
		if err != nil {
			return written, err
		}
		p = p[n:]
	}
	return written, nil
}

// finalize appends the "Process exit code N" trailer as the last line.
func (s *logSink) finalize(code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.final {
		return
	}
	s.final = true
	if s.lastByte != '\n' {
		io.WriteString(s.dst, "\n")
	}
	fmt.Fprintf(s.dst, "Process exit code %d\n", code)
}
