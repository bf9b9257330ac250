package auth

import (
	"strings"
	"testing"
)

func TestIsValidAcceptsOwnSignature(t *testing.T) {
	bodies := []string{
		"",
		"{}",
		`{"ref":"refs/heads/main","commits":[]}`,
		strings.Repeat("x", 4096),
		"ünïcödé ✓",
	}
	for _, body := range bodies {
		a := New("s3cr3t")
		if !a.IsValid(Sign("s3cr3t", body), body) {
			t.Errorf("expected signature to validate for body %q", body)
		}
	}
}

func TestIsValidRejectsAlteredBody(t *testing.T) {
	body := `{"ref":"refs/heads/main"}`
	header := Sign("secret", body)
	a := New("secret")

	for i := 0; i < len(body); i++ {
		altered := []byte(body)
		altered[i] ^= 0x01
		if a.IsValid(header, string(altered)) {
			t.Fatalf("altered body at byte %d still validated", i)
		}
	}
}

func TestIsValidRejectsAlteredHeader(t *testing.T) {
	body := `{"ref":"refs/heads/main"}`
	header := Sign("secret", body)
	a := New("secret")

	for i := 0; i < len(header); i++ {
		altered := []byte(header)
		altered[i] ^= 0x01
		if a.IsValid(string(altered), body) {
			t.Fatalf("altered header at byte %d still validated", i)
		}
	}
}

func TestIsValidRejectsMalformedHeaders(t *testing.T) {
	body := "payload"
	valid := Sign("secret", body)
	a := New("secret")

	tests := []struct {
		name   string
		header string
	}{
		{"empty", ""},
		{"no prefix", strings.TrimPrefix(valid, SignaturePrefix)},
		{"sha1 prefix", "sha1=" + strings.TrimPrefix(valid, SignaturePrefix)},
		{"truncated", valid[:len(valid)-1]},
		{"extended", valid + "0"},
		{"prefix only", SignaturePrefix},
		{"uppercase hex", SignaturePrefix + strings.ToUpper(strings.TrimPrefix(valid, SignaturePrefix))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if a.IsValid(tt.header, body) {
				t.Errorf("expected %q to be rejected", tt.header)
			}
		})
	}
}

func TestIsValidRejectsWrongSecret(t *testing.T) {
	body := "payload"
	if New("one").IsValid(Sign("two", body), body) {
		t.Error("expected signature made with another secret to be rejected")
	}
}

func TestSignFormat(t *testing.T) {
	sig := Sign("secret", "body")
	if !strings.HasPrefix(sig, SignaturePrefix) {
		t.Fatalf("expected %q prefix, got %q", SignaturePrefix, sig)
	}
	if got := len(sig) - len(SignaturePrefix); got != 64 {
		t.Errorf("expected 64 hex characters, got %d", got)
	}
}
