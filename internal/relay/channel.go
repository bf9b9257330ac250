package relay

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// DefaultChannelBase is the public relay used when no base is given
const DefaultChannelBase = "https://smee.io"

// NewChannel asks the relay at base for a fresh channel and returns its
// address. The relay answers the request with a redirect to the channel.
func NewChannel(ctx context.Context, base string) (string, error) {
	if base == "" {
		base = DefaultChannelBase
	}
	if err := ValidateAddress(base); err != nil {
		return "", err
	}
	baseURL, err := url.Parse(strings.TrimRight(base, "/") + "/")
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, baseURL.JoinPath("new").String(), nil)
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}

	client := &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to create channel: %w", err)
	}
	resp.Body.Close()

	location := resp.Header.Get("Location")
	if location == "" {
		return "", errors.New("relay did not return a channel location (status " + resp.Status + ")")
	}
	loc, err := url.Parse(location)
	if err != nil {
		return "", fmt.Errorf("invalid channel location %q: %w", location, err)
	}
	return baseURL.ResolveReference(loc).String(), nil
}
