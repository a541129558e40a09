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
	"os"
	"os/exec"
	"sync"
)

// =============================================================================
// Process Management
// =============================================================================

// Process is a handle to a running kernel process.
type Process interface {
	// Pid returns the OS process id.
	Pid() int

	// Signal delivers a signal to the process.
	Signal(sig os.Signal) error

	// Exited is closed-after-send with the exit code once the process
	// terminates. Receives at most one value.
	Exited() <-chan int
}

// ProcessManager abstracts process creation so the registry can be unit
// tested without spawning real kernels. All exec.Command use goes through
// this interface.
type ProcessManager interface {
	// Start launches a process with combined stdout/stderr directed at
	// output. env entries are KEY=VALUE and extend the bridge's own
	// environment.
	Start(ctx context.Context, argv []string, env []string, output io.Writer) (Process, error)
}

// DefaultProcessManager launches real OS processes.
type DefaultProcessManager struct{}

// NewDefaultProcessManager returns the production process manager.
func NewDefaultProcessManager() *DefaultProcessManager {
	return &DefaultProcessManager{}
}

// Start implements ProcessManager using os/exec.
func (m *DefaultProcessManager) Start(ctx context.Context, argv []string,
	env []string, output io.Writer) (Process, error) {

	if len(argv) == 0 {
		return nil, fmt.Errorf("kernels: empty argv")
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Env = append(os.Environ(), env...)
	cmd.Stdout = output
	cmd.Stderr = output
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("kernels: start %s: %w", argv[0], err)
	}

	p := &osProcess{cmd: cmd, exited: make(chan int, 1)}
	go func() {
		err := cmd.Wait()
		code := 0
		if err != nil {
			if exitErr, ok := err.(*exec.ExitError); ok {
				code = exitErr.ExitCode()
			} else {
				code = -1
			}
		}
		p.exited <- code
		close(p.exited)
	}()
	return p, nil
}

type osProcess struct {
	cmd    *exec.Cmd
	exited chan int
}

func (p *osProcess) Pid() int { return p.cmd.Process.Pid }

func (p *osProcess) Signal(sig os.Signal) error { return p.cmd.Process.Signal(sig) }

func (p *osProcess) Exited() <-chan int { return p.exited }

// =============================================================================
// Test Double
// =============================================================================

// MockProcessManager records launches and lets tests drive process exits.
type MockProcessManager struct {
	// StartFunc overrides Start entirely when set.
	StartFunc func(ctx context.Context, argv []string, env []string, output io.Writer) (Process, error)

	mu       sync.Mutex
	launched [][]string
}

// Start implements ProcessManager.
func (m *MockProcessManager) Start(ctx context.Context, argv []string,
	env []string, output io.Writer) (Process, error) {

	m.mu.Lock()
	m.launched = append(m.launched, argv)
	m.mu.Unlock()
	if m.StartFunc != nil {
		return m.StartFunc(ctx, argv, env, output)
	}
	return NewMockProcess(1234), nil
}

// Launched returns the argv of every recorded launch.
func (m *MockProcessManager) Launched() [][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]string, len(m.launched))
	copy(out, m.launched)
	return out
}

// MockProcess is a Process whose exit is controlled by the test.
type MockProcess struct {
	pid    int
	exited chan int
	once   sync.Once

	mu      sync.Mutex
	signals []os.Signal
}

// NewMockProcess returns a mock process with the given pid.
func NewMockProcess(pid int) *MockProcess {
	return &MockProcess{pid: pid, exited: make(chan int, 1)}
}

func (p *MockProcess) Pid() int { return p.pid }

func (p *MockProcess) Signal(sig os.Signal) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.signals = append(p.signals, sig)
	return nil
}

func (p *MockProcess) Exited() <-chan int { return p.exited }

// Exit simulates process termination with the given code. Idempotent.
func (p *MockProcess) Exit(code int) {
	p.once.Do(func() {
		p.exited <- code
		close(p.exited)
	})
}

// Signals returns the signals delivered so far.
func (p *MockProcess) Signals() []os.Signal {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]os.Signal, len(p.signals))
	copy(out, p.signals)
	return out
}
