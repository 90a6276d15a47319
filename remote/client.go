// Package remote talks to the tracker's REST API: per-collection CRUD used by
// the sync engine and the health endpoint behind the availability probe.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/unkn0wn-root/tabkeep"
)

const (
	DefaultRequestTimeout = 10 * time.Second
	maxErrorBody          = 512
)

// StatusError is a non-2xx response.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("remote: %s %s: %d %s", e.Method, e.Path, e.Code, http.StatusText(e.Code))
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// IsStatus reports whether err is a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == code
}

type Config struct {
	BaseURL   string
	Token     string        // optional bearer token
	Timeout   time.Duration // per request; 0 => DefaultRequestTimeout
	Transport http.RoundTripper
	Logger    tabkeep.Logger
}

type Client struct {
	base *url.URL
	hc   *http.Client
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("remote: base URL is required")
	}
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("remote: parse base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("remote: unsupported scheme %q", u.Scheme)
	}

	var rt http.RoundTripper = http.DefaultTransport
	if cfg.Transport != nil {
		rt = cfg.Transport
	}
	if cfg.Token != "" {
		rt = &bearer{base: rt, token: cfg.Token}
	}
	if cfg.Logger != nil {
		rt = &logged{base: rt, log: cfg.Logger}
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &Client{base: u, hc: &http.Client{Transport: rt, Timeout: timeout}}, nil
}

func (c *Client) endpoint(q url.Values, segs ...string) *url.URL {
	u := c.base.JoinPath(segs...)
	if len(q) > 0 {
		u.RawQuery = q.Encode()
	}
	return u
}

// do sends in as JSON (when non-nil) and decodes a 2xx body into out (when non-nil).
func (c *Client) do(ctx context.Context, method string, u *url.URL, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("remote: encode %s %s: %w", method, u.Path, err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("remote: %s %s: %w", method, u.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Method: method, Path: u.Path, Code: resp.StatusCode, Body: string(bytes.TrimSpace(snippet))}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("remote: decode %s %s: %w", method, u.Path, err)
	}
	return nil
}

type bearer struct {
	base  http.RoundTripper
	token string
}

func (b *bearer) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	r.Header.Set("Authorization", "Bearer "+b.token)
	return b.base.RoundTrip(r)
}

type logged struct {
	base http.RoundTripper
	log  tabkeep.Logger
}

func (l *logged) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := l.base.RoundTrip(req)
	f := tabkeep.Fields{
		"method":  req.Method,
		"path":    req.URL.Path,
		"elapsed": time.Since(start).String(),
	}
	if err != nil {
		f["err"] = err
		l.log.Debug("remote request failed", f)
		return nil, err
	}
	f["status"] = resp.StatusCode
	l.log.Debug("remote request", f)
	return resp, nil
}
