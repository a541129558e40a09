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
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"testing"
)

func TestNewConnectionInfo(t *testing.T) {
	info, err := NewConnectionInfo()
	if err != nil {
		t.Fatalf("NewConnectionInfo: %v", err)
	}
	if info.Transport != "ws" {
		t.Errorf("transport = %s, want ws", info.Transport)
	}
	if info.SignatureAlgo != "hmac-sha256" {
		t.Errorf("signature_scheme = %s, want hmac-sha256", info.SignatureAlgo)
	}
	if info.Port == 0 {
		t.Error("no port allocated")
	}

	key, err := info.KeyBytes()
	if err != nil {
		t.Fatalf("KeyBytes: %v", err)
	}
	if len(key) != 32 {
		t.Errorf("key length = %d, want 32", len(key))
	}

	want := fmt.Sprintf("ws://127.0.0.1:%d/channels", info.Port)
	if info.URL() != want {
		t.Errorf("URL() = %s, want %s", info.URL(), want)
	}
}

func TestWriteConnectionFile(t *testing.T) {
	info, err := NewConnectionInfo()
	if err != nil {
		t.Fatalf("NewConnectionInfo: %v", err)
	}
	path, err := WriteConnectionFile(t.TempDir(), "sess1", info)
	if err != nil {
		t.Fatalf("WriteConnectionFile: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read connection file: %v", err)
	}
	var got ConnectionInfo
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("parse connection file: %v", err)
	}
	if got != info {
		t.Errorf("round trip mismatch: %+v vs %+v", got, info)
	}

	if runtime.GOOS != "windows" {
		stat, err := os.Stat(path)
		if err != nil {
			t.Fatalf("stat: %v", err)
		}
		if perm := stat.Mode().Perm(); perm != 0o600 {
			t.Errorf("connection file mode = %o, want 600", perm)
		}
	}
}

func TestKeyBytesEmptyKey(t *testing.T) {
	key, err := ConnectionInfo{}.KeyBytes()
	if err != nil {
		t.Fatalf("KeyBytes: %v", err)
	}
	if key != nil {
		t.Errorf("empty key should decode to nil, got %v", key)
	}
}
