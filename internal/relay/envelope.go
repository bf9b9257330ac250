package relay

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

// ErrMissingBody is returned for envelopes without a body field
var ErrMissingBody = errors.New("envelope has no body")

// DecodeEnvelope splits a relay envelope into protocol headers and the raw
// webhook body. Every top-level field except body becomes a lower-cased
// header; body is re-serialised compactly with its key order preserved, so
// the bytes match what the webhook sender signed.
func DecodeEnvelope(data []byte) (map[string]string, string, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, "", fmt.Errorf("malformed envelope: %w", err)
	}

	rawBody, ok := fields["body"]
	if !ok {
		return nil, "", ErrMissingBody
	}
	var body bytes.Buffer
	if err := json.Compact(&body, rawBody); err != nil {
		return nil, "", fmt.Errorf("malformed body: %w", err)
	}

	headers := make(map[string]string, len(fields))
	for key, raw := range fields {
		if key == "body" {
			continue
		}
		headers[strings.ToLower(key)] = headerValue(raw)
	}
	headers["content-length"] = strconv.Itoa(body.Len())

	return headers, body.String(), nil
}

func headerValue(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, raw); err != nil {
		return string(raw)
	}
	return compact.String()
}
