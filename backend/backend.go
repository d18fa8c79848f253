// Package backend fetches session resources from the coaching backend.
package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"

	"github.com/buger/jsonparser"
	"github.com/companyzero/coachmedia/transcript"
	"github.com/decred/slog"
	"golang.org/x/net/publicsuffix"
)

const (
	// NonceHeader carries the authentication nonce of requests.
	NonceHeader = "X-WP-Nonce"

	// codeInvalidNonce is the backend error code of a rejected nonce.
	codeInvalidNonce = "rest_cookie_invalid_nonce"

	// DefaultMaxAudioSize is the max size of a fetched audio resource.
	DefaultMaxAudioSize = 256 << 20

	maxErrorBodySize  = 64 << 10
	maxTranscriptSize = 16 << 20
)

// Default paths of the session resources, relative to the base URL. %s is
// replaced with the session reference.
const (
	DefaultAudioPath      = "/wp-json/coach/v1/sessions/%s/audio"
	DefaultTranscriptPath = "/wp-json/coach/v1/sessions/%s/transcript"
)

// StatusError is returned for non-2xx replies.
type StatusError struct {
	StatusCode int

	// Code and Message are filled from the json error body of the
	// backend, when present.
	Code    string
	Message string
}

func (err *StatusError) Error() string {
	s := fmt.Sprintf("backend returned status %d (%s)", err.StatusCode,
		http.StatusText(err.StatusCode))
	if err.Code != "" {
		s += ": " + err.Code
	}
	if err.Message != "" {
		s += ": " + err.Message
	}
	return s
}

func newStatusError(code int, body []byte) *StatusError {
	err := &StatusError{StatusCode: code}
	err.Code, _ = jsonparser.GetString(body, "code")
	err.Message, _ = jsonparser.GetString(body, "message")
	return err
}

// ErrTooLarge is returned when a resource exceeds the configured size limit.
var ErrTooLarge = errors.New("resource too large")

// Config is the configuration of a Client.
type Config struct {
	// BaseURL is the origin of the backend (e.g.
	// https://coach.example.com).
	BaseURL string

	Nonce NonceSource

	AudioPath      string
	TranscriptPath string
	MaxAudioSize   int64

	// Transport is the http transport. Defaults to
	// http.DefaultTransport.
	Transport http.RoundTripper

	Log slog.Logger
}

// Client is an authenticated client of the backend. Cookies are kept in a
// jar and only sent to the backend origin.
type Client struct {
	cfg  Config
	base *url.URL
	hc   *http.Client
	log  slog.Logger
}

// New creates a new backend client.
func New(cfg Config) (*Client, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid backend url: %w", err)
	}
	if (base.Scheme != "http" && base.Scheme != "https") || base.Host == "" {
		return nil, fmt.Errorf("invalid backend url %q", cfg.BaseURL)
	}
	if cfg.Nonce == nil {
		return nil, errors.New("nonce source is required")
	}
	if cfg.AudioPath == "" {
		cfg.AudioPath = DefaultAudioPath
	}
	if cfg.TranscriptPath == "" {
		cfg.TranscriptPath = DefaultTranscriptPath
	}
	if cfg.MaxAudioSize <= 0 {
		cfg.MaxAudioSize = DefaultMaxAudioSize
	}
	if cfg.Log == nil {
		cfg.Log = slog.Disabled
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, err
	}
	c := &Client{cfg: cfg, base: base, log: cfg.Log}
	c.hc = &http.Client{
		Transport:     cfg.Transport,
		Jar:           jar,
		CheckRedirect: c.checkRedirect,
	}
	return c, nil
}

// sameOrigin returns true if u is in the origin of the backend.
func (c *Client) sameOrigin(u *url.URL) bool {
	return u.Scheme == c.base.Scheme && strings.EqualFold(u.Host, c.base.Host)
}

// checkRedirect drops the nonce from redirects that leave the backend origin.
func (c *Client) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= 10 {
		return errors.New("stopped after 10 redirects")
	}
	if !c.sameOrigin(req.URL) {
		c.log.Debugf("Dropping nonce from cross-origin redirect to %s", req.URL.Host)
		req.Header.Del(NonceHeader)
	}
	return nil
}

// resourceURL returns the url of the resource of session ref in path.
func (c *Client) resourceURL(path, ref string) string {
	u := *c.base
	u.RawQuery, u.Fragment = "", ""
	return strings.TrimSuffix(u.String(), "/") + fmt.Sprintf(path, url.PathEscape(ref))
}

// do fetches target, reading at most maxSize bytes of the reply. A reply
// rejecting the nonce causes one nonce refresh and one retry.
func (c *Client) do(ctx context.Context, target string, maxSize int64) ([]byte, error) {
	stale := false
	for {
		nonce, err := c.cfg.Nonce.Nonce(ctx, c.hc, stale)
		if err != nil {
			return nil, fmt.Errorf("unable to obtain nonce: %w", err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set(NonceHeader, nonce)

		res, err := c.hc.Do(req)
		if err != nil {
			return nil, err
		}
		body, err := readBody(res, maxSize)
		if err != nil {
			return nil, err
		}
		if res.StatusCode/100 == 2 {
			return body, nil
		}

		statusErr := newStatusError(res.StatusCode, body)
		if res.StatusCode == http.StatusForbidden && statusErr.Code == codeInvalidNonce && !stale {
			c.log.Infof("Backend rejected nonce, refreshing it")
			stale = true
			continue
		}
		return nil, statusErr
	}
}

func readBody(res *http.Response, maxSize int64) ([]byte, error) {
	defer res.Body.Close()
	if res.StatusCode/100 != 2 {
		maxSize = maxErrorBodySize
	}
	body, err := io.ReadAll(io.LimitReader(res.Body, maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("unable to read reply: %w", err)
	}
	if int64(len(body)) > maxSize {
		if res.StatusCode/100 != 2 {
			return body[:maxSize], nil
		}
		return nil, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, maxSize)
	}
	return body, nil
}

// FetchAudio fetches the audio resource of a session.
func (c *Client) FetchAudio(ctx context.Context, ref string) ([]byte, error) {
	target := c.resourceURL(c.cfg.AudioPath, ref)
	c.log.Debugf("Fetching audio of session %s", ref)
	data, err := c.do(ctx, target, c.cfg.MaxAudioSize)
	if err != nil {
		return nil, fmt.Errorf("unable to fetch audio of session %s: %w", ref, err)
	}
	c.log.Debugf("Fetched %d bytes of audio of session %s", len(data), ref)
	return data, nil
}

// FetchTranscript fetches and decodes the transcript of a session.
func (c *Client) FetchTranscript(ctx context.Context, ref string) ([]transcript.Entry, error) {
	target := c.resourceURL(c.cfg.TranscriptPath, ref)
	data, err := c.do(ctx, target, maxTranscriptSize)
	if err != nil {
		return nil, fmt.Errorf("unable to fetch transcript of session %s: %w", ref, err)
	}
	entries, err := transcript.Decode(data, c.log)
	if err != nil {
		return nil, fmt.Errorf("unable to decode transcript of session %s: %w", ref, err)
	}
	return entries, nil
}
