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
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"testing"
	"time"
)

func launchMock(t *testing.T, spec KernelSpec) (*KernelProcess, *MockProcess, *MockProcessManager, io.Writer) {
	t.Helper()
	proc := NewMockProcess(4321)
	var sink io.Writer
	pm := &MockProcessManager{
		StartFunc: func(ctx context.Context, argv, env []string, output io.Writer) (Process, error) {
			sink = output
			return proc, nil
		},
	}
	launcher := NewLauncher(pm, t.TempDir(), nil)
	kp, err := launcher.Launch(context.Background(), spec, "sess1", "/tmp/conn.json")
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	return kp, proc, pm, sink
}

func TestLaunchSubstitutesConnectionFile(t *testing.T) {
	spec := KernelSpec{
		Name: "python3",
		Argv: []string{"python3", "-f", "{connection_file}"},
	}
	_, proc, pm, _ := launchMock(t, spec)
	defer proc.Exit(0)

	launched := pm.Launched()
	if len(launched) != 1 {
		t.Fatalf("launch count = %d, want 1", len(launched))
	}
	want := []string{"python3", "-f", "/tmp/conn.json"}
	for i, arg := range want {
		if launched[0][i] != arg {
			t.Errorf("argv[%d] = %s, want %s", i, launched[0][i], arg)
		}
	}
}

func TestLogEndsWithExitCodeLine(t *testing.T) {
	tests := []struct {
		name   string
		output string
		code   int
	}{
		{name: "trailing newline", output: "starting up\nready\n", code: 0},
		{name: "no trailing newline", output: "partial line without newline", code: 9},
		{name: "empty output", output: "", code: 137},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			kp, proc, _, sink := launchMock(t, KernelSpec{Name: "k", Argv: []string{"k"}})
			if tc.output != "" {
				if _, err := sink.Write([]byte(tc.output)); err != nil {
					t.Fatalf("write output: %v", err)
				}
			}
			proc.Exit(tc.code)
			select {
			case got := <-kp.Exited():
				if got != tc.code {
					t.Errorf("exit code = %d, want %d", got, tc.code)
				}
			case <-time.After(2 * time.Second):
				t.Fatal("Exited never fired")
			}

			// Exited fires only after finalization, so the log is complete.
			raw, err := os.ReadFile(kp.LogPath)
			if err != nil {
				t.Fatalf("read log: %v", err)
			}
			lines := strings.Split(strings.TrimRight(string(raw), "\n"), "\n")
			last := lines[len(lines)-1]
			want := fmt.Sprintf("Process exit code %d", tc.code)
			if last != want {
				t.Errorf("last log line = %q, want %q", last, want)
			}
			if tc.output != "" && !strings.HasPrefix(string(raw), tc.output) {
				t.Errorf("kernel output missing from log: %q", raw)
			}
		})
	}
}

func TestOutputAfterExitIsDropped(t *testing.T) {
	kp, proc, _, sink := launchMock(t, KernelSpec{Name: "k", Argv: []string{"k"}})
	sink.Write([]byte("before exit\n"))
	proc.Exit(3)
	<-kp.Exited()

	// A straggling pipe flush must not break the trailing-line contract.
	sink.Write([]byte("after exit\n"))

	raw, err := os.ReadFile(kp.LogPath)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.HasSuffix(string(raw), "Process exit code 3\n") {
		t.Errorf("log does not end with the exit trailer: %q", raw)
	}
	if bytes.Contains(raw, []byte("after exit")) {
		t.Errorf("post-exit output leaked into the log: %q", raw)
	}
}

func TestLaunchSpecEnvIsPassed(t *testing.T) {
	var gotEnv []string
	pm := &MockProcessManager{
		StartFunc: func(ctx context.Context, argv, env []string, output io.Writer) (Process, error) {
			gotEnv = env
			return NewMockProcess(1), nil
		},
	}
	launcher := NewLauncher(pm, t.TempDir(), nil)
	spec := KernelSpec{Name: "k", Argv: []string{"k"}, Env: map[string]string{"RUST_LOG": "info"}}
	if _, err := launcher.Launch(context.Background(), spec, "s", "c"); err != nil {
		t.Fatalf("Launch: %v", err)
	}
	found := false
	for _, kv := range gotEnv {
		if kv == "RUST_LOG=info" {
			found = true
		}
	}
	if !found {
		t.Errorf("spec env not passed: %v", gotEnv)
	}
}
