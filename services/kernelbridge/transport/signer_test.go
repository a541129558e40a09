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
	"bytes"
	"errors"
	"testing"
)

func testKey() []byte {
	return bytes.Repeat([]byte{0x42}, 32)
}

func TestSignerRoundTrip(t *testing.T) {
	signer := NewSigner(testKey())
	payload := []byte(`{"msg_type":"comm_open","comm_id":"abc"}`)

	sig, err := signer.Sign(payload)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if sig == "" {
		t.Fatal("empty signature")
	}
	if err := signer.Verify(payload, sig); err != nil {
		t.Errorf("Verify rejected a valid signature: %v", err)
	}
}

func TestSignerIsDeterministic(t *testing.T) {
	signer := NewSigner(testKey())
	payload := []byte("payload")
	first, _ := signer.Sign(payload)
	second, _ := signer.Sign(payload)
	if first != second {
		t.Errorf("signatures differ: %s vs %s", first, second)
	}
}

func TestVerifyRejectsTamperedPayload(t *testing.T) {
	signer := NewSigner(testKey())
	sig, err := signer.Sign([]byte("original"))
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if err := signer.Verify([]byte("tampered"), sig); !errors.Is(err, ErrBadSignature) {
		t.Errorf("Verify = %v, want ErrBadSignature", err)
	}
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	payload := []byte("payload")
	sig, err := NewSigner(testKey()).Sign(payload)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	other := NewSigner(bytes.Repeat([]byte{0x17}, 32))
	if err := other.Verify(payload, sig); !errors.Is(err, ErrBadSignature) {
		t.Errorf("Verify with wrong key = %v, want ErrBadSignature", err)
	}
}

func TestNewSignerEmptyKeyMeansUnsigned(t *testing.T) {
	if NewSigner(nil) != nil {
		t.Error("NewSigner(nil) should return nil (unsigned mode)")
	}
	if NewSigner([]byte{}) != nil {
		t.Error("NewSigner(empty) should return nil (unsigned mode)")
	}
}

func TestNewSignerWipesKeySlice(t *testing.T) {
	key := testKey()
	NewSigner(key)
	for _, b := range key {
		if b != 0 {
			t.Fatal("caller's key slice was not wiped")
		}
	}
}
