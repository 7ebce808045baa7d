package idempotency

import (
	"errors"
	"strings"
	"testing"
)

func TestParseKey(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Key
		wantErr bool
	}{
		{"simple", "abc-123", "abc-123", false},
		{"trimmed", "  abc  ", "abc", false},
		{"exactly max length", strings.Repeat("k", MaxKeyLength), Key(strings.Repeat("k", MaxKeyLength)), false},
		{"multibyte at max length", strings.Repeat("é", MaxKeyLength), Key(strings.Repeat("é", MaxKeyLength)), false},
		{"empty", "", "", true},
		{"whitespace only", " \t\n", "", true},
		{"too long", strings.Repeat("k", MaxKeyLength+1), "", true},
		{"nul byte", "abc\x00def", "", true},
		{"invalid utf-8", "\xff\xfe", "", true},
		{"invalid utf-8 after valid prefix", "key-\xc3", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseKey(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidKey) {
					t.Fatalf("expected ErrInvalidKey, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("ParseKey(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestHeaderCodec_PreservesOrderAndBytes(t *testing.T) {
	in := []HeaderPair{
		{Name: "Location", Value: []byte("/admin/newsletters")},
		{Name: "Set-Cookie", Value: []byte("a=1")},
		{Name: "Set-Cookie", Value: []byte("b=2")},
		{Name: "X-Binary", Value: []byte{0x00, 0xff, 0x10}},
	}

	raw, err := encodeHeaders(in)
	if err != nil {
		t.Fatalf("encodeHeaders: %v", err)
	}
	out, err := decodeHeaders(raw)
	if err != nil {
		t.Fatalf("decodeHeaders: %v", err)
	}

	if len(out) != len(in) {
		t.Fatalf("expected %d headers, got %d", len(in), len(out))
	}
	for i := range in {
		if out[i].Name != in[i].Name || string(out[i].Value) != string(in[i].Value) {
			t.Errorf("header %d: got %s=%q, want %s=%q", i, out[i].Name, out[i].Value, in[i].Name, in[i].Value)
		}
	}
}

func TestDecodeHeaders_EmptyInput(t *testing.T) {
	out, err := decodeHeaders(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out == nil || len(out) != 0 {
		t.Errorf("expected empty non-nil slice, got %#v", out)
	}
}
