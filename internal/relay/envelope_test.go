package relay

import (
	"errors"
	"testing"
)

func TestDecodeEnvelope(t *testing.T) {
	data := `{
		"X-GitHub-Event": "push",
		"x-hub-signature-256": "sha256=abc",
		"timestamp": 1700000000,
		"query": {},
		"body": {"ref": "refs/heads/main", "after": "abc", "commits": [ {"id": "1"} ]}
	}`

	headers, body, err := DecodeEnvelope([]byte(data))
	if err != nil {
		t.Fatalf("DecodeEnvelope failed: %v", err)
	}

	wantBody := `{"ref":"refs/heads/main","after":"abc","commits":[{"id":"1"}]}`
	if body != wantBody {
		t.Errorf("body = %s, want %s", body, wantBody)
	}

	tests := map[string]string{
		"x-github-event":      "push",
		"x-hub-signature-256": "sha256=abc",
		"timestamp":           "1700000000",
		"query":               "{}",
		"content-length":      "62",
	}
	for key, want := range tests {
		if got := headers[key]; got != want {
			t.Errorf("headers[%q] = %q, want %q", key, got, want)
		}
	}
	if _, ok := headers["body"]; ok {
		t.Error("body must not appear as a header")
	}
}

func TestDecodeEnvelopeKeepsKeyOrder(t *testing.T) {
	_, body, err := DecodeEnvelope([]byte(`{"body":{"z":1,"a":2,"m":{"y":true,"b":null}}}`))
	if err != nil {
		t.Fatalf("DecodeEnvelope failed: %v", err)
	}
	if body != `{"z":1,"a":2,"m":{"y":true,"b":null}}` {
		t.Errorf("key order not preserved: %s", body)
	}
}

func TestDecodeEnvelopeErrors(t *testing.T) {
	if _, _, err := DecodeEnvelope([]byte(`{"x-github-event":"push"}`)); !errors.Is(err, ErrMissingBody) {
		t.Errorf("expected ErrMissingBody, got %v", err)
	}
	for _, data := range []string{"", "not json", "[1,2]"} {
		if _, _, err := DecodeEnvelope([]byte(data)); err == nil {
			t.Errorf("expected error for %q", data)
		}
	}
}
