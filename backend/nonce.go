package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/buger/jsonparser"
)

// NonceSource provides the nonce sent in the X-WP-Nonce header of requests.
type NonceSource interface {
	// Nonce returns the nonce to use. When stale is true the backend
	// rejected the last nonce and a fresh one must be obtained. hc is the
	// client of the backend, sharing its cookies.
	Nonce(ctx context.Context, hc *http.Client, stale bool) (string, error)
}

// StaticNonce is a nonce that never rotates.
type StaticNonce string

func (n StaticNonce) Nonce(_ context.Context, _ *http.Client, stale bool) (string, error) {
	if stale {
		return "", errors.New("static nonce cannot be refreshed")
	}
	return string(n), nil
}

// EndpointNonce is a nonce that is refreshed by fetching URL. The endpoint
// may reply with the plain nonce, a JSON string or an object with a "nonce"
// field.
type EndpointNonce struct {
	URL string

	mtx     sync.Mutex
	current string
}

// NewEndpointNonce returns a nonce source that starts with initial and
// refreshes from url.
func NewEndpointNonce(url, initial string) *EndpointNonce {
	return &EndpointNonce{URL: url, current: initial}
}

func (n *EndpointNonce) Nonce(ctx context.Context, hc *http.Client, stale bool) (string, error) {
	n.mtx.Lock()
	defer n.mtx.Unlock()
	if !stale && n.current != "" {
		return n.current, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.URL, nil)
	if err != nil {
		return "", fmt.Errorf("unable to create nonce request: %w", err)
	}
	res, err := hc.Do(req)
	if err != nil {
		return "", fmt.Errorf("unable to fetch nonce: %w", err)
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, 4096))
	if err != nil {
		return "", fmt.Errorf("unable to read nonce: %w", err)
	}
	if res.StatusCode/100 != 2 {
		return "", newStatusError(res.StatusCode, body)
	}

	nonce, err := parseNonce(body)
	if err != nil {
		return "", err
	}
	n.current = nonce
	return nonce, nil
}

func parseNonce(body []byte) (string, error) {
	v, typ, _, err := jsonparser.Get(body)
	if err == nil {
		switch typ {
		case jsonparser.String:
			s, err := jsonparser.ParseString(v)
			if err == nil && s != "" {
				return s, nil
			}
		case jsonparser.Object:
			s, err := jsonparser.GetString(v, "nonce")
			if err == nil && s != "" {
				return s, nil
			}
		}
	}
	s := strings.TrimSpace(string(body))
	if s == "" || strings.ContainsAny(s, " \t\r\n{}[]\"") {
		return "", errors.New("nonce endpoint returned an invalid nonce")
	}
	return s, nil
}
