// Copyright 2026 The Matrixmail Authors
// SPDX-License-Identifier: Apache-2.0

package netutil

import (
	"strings"
	"testing"
)

func TestReadResponse(t *testing.T) {
	data, err := ReadResponse(strings.NewReader(`{"ok":true}`))
	if err != nil {
		t.Fatalf("ReadResponse failed: %v", err)
	}
	if string(data) != `{"ok":true}` {
		t.Errorf("unexpected body: %s", data)
	}
}

func TestDecodeResponse(t *testing.T) {
	var decoded struct {
		NextBatch string `json:"next_batch"`
	}
	if err := DecodeResponse(strings.NewReader(`{"next_batch":"s1"}`), &decoded); err != nil {
		t.Fatalf("DecodeResponse failed: %v", err)
	}
	if decoded.NextBatch != "s1" {
		t.Errorf("next_batch = %q, want %q", decoded.NextBatch, "s1")
	}
}

func TestDecodeResponseMalformed(t *testing.T) {
	var decoded map[string]any
	if err := DecodeResponse(strings.NewReader(`{not json`), &decoded); err == nil {
		t.Fatal("expected error for malformed JSON")
	}
}
