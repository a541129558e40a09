// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package transport

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/awnumar/memguard"
)

// =============================================================================
// Message Signing
// =============================================================================

// Signer computes and verifies HMAC-SHA256 signatures over serialized
// envelopes, using the shared key from the kernel connection file.
//
// # Description
//
// The key is held in a memguard enclave so it is encrypted at rest in
// process memory and only decrypted for the duration of a signing
// operation. NewSigner wipes the caller's key slice.
//
// # Thread Safety
//
// Safe for concurrent use.
type Signer struct {
	key *memguard.Enclave
}

// ErrBadSignature is returned by Verify when the signature does not match.
var ErrBadSignature = errors.New("transport: message signature mismatch")

// NewSigner creates a signer from the connection-file key. The input slice
// is wiped. An empty key returns nil, which callers treat as unsigned mode.
func NewSigner(key []byte) *Signer {
	if len(key) == 0 {
		return nil
	}
	// NewEnclave wipes the source buffer.
	return &Signer{key: memguard.NewEnclave(key)}
}

// Sign returns the hex HMAC-SHA256 of payload.
func (s *Signer) Sign(payload []byte) (string, error) {
	buf, err := s.key.Open()
	if err != nil {
		return "", fmt.Errorf("transport: open signing key: %w", err)
	}
	defer buf.Destroy()
	mac := hmac.New(sha256.New, buf.Bytes())
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Verify checks a hex signature against payload in constant time.
func (s *Signer) Verify(payload []byte, signature string) error {
	want, err := s.Sign(payload)
	if err != nil {
		return err
	}
	if !hmac.Equal([]byte(want), []byte(signature)) {
		return ErrBadSignature
	}
	return nil
}
