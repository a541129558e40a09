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
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
)

// =============================================================================
// Connection Files
// =============================================================================

// connectionKeyBytes is the length of the generated HMAC signing key.
const connectionKeyBytes = 32

// ConnectionInfo is the contents of a session's connection file. The
// kernel reads it to know where to serve its message endpoint and which
// key to sign messages with.
type ConnectionInfo struct {
	Transport     string `json:"transport"` // always "ws"
	IP            string `json:"ip"`
	Port          int    `json:"port"`
	Key           string `json:"key"` // hex HMAC-SHA256 key
	SignatureAlgo string `json:"signature_scheme"`
}

// URL returns the WebSocket endpoint the bridge dials.
func (ci ConnectionInfo) URL() string {
	return fmt.Sprintf("ws://%s:%d/channels", ci.IP, ci.Port)
}

// KeyBytes decodes the signing key. The caller owns (and should wipe) the
// returned slice.
func (ci ConnectionInfo) KeyBytes() ([]byte, error) {
	if ci.Key == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(ci.Key)
	if err != nil {
		return nil, fmt.Errorf("kernels: decode connection key: %w", err)
	}
	return key, nil
}

// NewConnectionInfo allocates a loopback port and a fresh signing key.
//
// The port is reserved by binding and releasing it; as with Jupyter
// connection files, the kernel is expected to bind it promptly.
func NewConnectionInfo() (ConnectionInfo, error) {
	port, err := pickFreePort()
	if err != nil {
		return ConnectionInfo{}, err
	}
	key := make([]byte, connectionKeyBytes)
	if _, err := rand.Read(key); err != nil {
		return ConnectionInfo{}, fmt.Errorf("kernels: generate connection key: %w", err)
	}
	return ConnectionInfo{
		Transport:     "ws",
		IP:            "127.0.0.1",
		Port:          port,
		Key:           hex.EncodeToString(key),
		SignatureAlgo: "hmac-sha256",
	}, nil
}

// WriteConnectionFile persists the connection info for a session under
// dir and returns its path. Mode 0600: the file carries the signing key.
func WriteConnectionFile(dir, sessionID string, ci ConnectionInfo) (string, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("kernels: create connection dir: %w", err)
	}
	raw, err := json.MarshalIndent(ci, "", "  ")
	if err != nil {
		return "", fmt.Errorf("kernels: marshal connection info: %w", err)
	}
	path := filepath.Join(dir, "connection_"+sessionID+".json")
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return "", fmt.Errorf("kernels: write connection file: %w", err)
	}
	return path, nil
}

func pickFreePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("kernels: allocate port: %w", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
