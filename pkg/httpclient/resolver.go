// Package httpclient implements Component C: a bounded-parallelism HTTP
// client core sitting on top of a pluggable Resolver strategy (direct vs.
// anti-bot proxy), funnelled through a single resizable concurrency gate.
//
// Grounded on original_source/src/core/http.rs's fetch/fetch_async pair
// (the blocking path never touches the semaphore, the async path always
// does — see pkg/gate and DESIGN.md's resolved open question #4) and on
// pkg/plugins/hostapi_http.go's net/http request-building style (header
// construction, redirect policy, status-code failure reporting).
package httpclient

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"

	"github.com/pkg/errors"

	"github.com/mxscrape/mx-scraper/pkg/cookies"
	"github.com/mxscrape/mx-scraper/pkg/fetchcontext"
)

// StatusError is returned by a Resolver when the underlying request
// completes but reports a non-success status, matching spec.md §4.C's
// "{status, url}" failure shape.
type StatusError struct {
	Status int
	URL    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%d: %s", e.Status, e.URL)
}

// Resolver is the polymorphic capability every request strategy
// implements: get(url, context) -> bytes. Both the Direct and anti-bot
// proxy variants share this single method; there is no separate
// blocking/non-blocking method split in Go since context.Context already
// carries cancellation, and the gate (not the resolver) is what
// distinguishes the sync and async call paths (see Client below).
type Resolver interface {
	Get(ctx context.Context, rawURL string, fc fetchcontext.FetchContext) ([]byte, error)
}

// applyFetchContext applies a FetchContext's user-agent, headers, cookies, and
// auth to req the same way for every resolver that talks plain HTTP.
func applyFetchContext(req *http.Request, fc fetchcontext.FetchContext) error {
	if fc.UserAgent != "" {
		req.Header.Set("User-Agent", fc.UserAgent)
	}
	for _, h := range fc.Headers {
		req.Header.Set(h.Name, h.Value)
	}

	if len(fc.Cookies) > 0 {
		list := make(cookies.List, len(fc.Cookies))
		for i, c := range fc.Cookies {
			list[i] = cookies.Record{Name: c.Name, Value: c.Value}
		}
		req.Header.Set("Cookie", list.Render())
	}

	if fc.Auth != nil {
		switch {
		case fc.Auth.Basic != nil:
			req.SetBasicAuth(fc.Auth.Basic.User, fc.Auth.Basic.Password)
		case fc.Auth.Bearer != nil:
			req.Header.Set("Authorization", "Bearer "+fc.Auth.Bearer.Token)
		}
	}
	return nil
}

// DirectResolver issues a plain HTTP GET, following up to 5 redirects.
type DirectResolver struct {
	// Client may be overridden (tests, custom transport); a zero value
	// builds a redirect-limited client lazily on first use.
	Client *http.Client
}

const maxRedirects = 5

// NewDirectResolver returns a DirectResolver using a fresh client capped
// at maxRedirects redirects, matching the source's Policy::limited(5).
func NewDirectResolver() *DirectResolver {
	return &DirectResolver{Client: newRedirectLimitedClient()}
}

func newRedirectLimitedClient() *http.Client {
	return &http.Client{
		CheckRedirect: func(_ *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			return nil
		},
	}
}

func (d *DirectResolver) client() *http.Client {
	if d.Client != nil {
		return d.Client
	}
	return newRedirectLimitedClient()
}

// Get implements Resolver.
func (d *DirectResolver) Get(ctx context.Context, rawURL string, fc fetchcontext.FetchContext) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "httpclient: building request")
	}
	if err := applyFetchContext(req, fc); err != nil {
		return nil, err
	}

	resp, err := d.client().Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "httpclient: direct GET")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Status: resp.StatusCode, URL: rawURL}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "httpclient: reading response body")
	}
	return body, nil
}

// AntiBotConfig configures an AntiBotResolver's target endpoint and
// optional per-request tuning knobs.
type AntiBotConfig struct {
	Endpoint           string
	MaxTimeout         *int
	SessionTTLMinutes  *int
}

// antiBotRequestEnvelope is the outbound POST body. The "cmd" field name
// and overall shape follow the FlareSolverr-style anti-bot proxy wire
// protocol, the de-facto convention this resolver variant is modeled on.
type antiBotRequestEnvelope struct {
	Cmd               string            `json:"cmd"`
	URL               string            `json:"url"`
	MaxTimeout        *int              `json:"maxTimeout,omitempty"`
	SessionTTLMinutes *int              `json:"session_ttl_minutes,omitempty"`
	Headers           map[string]string `json:"headers,omitempty"`
	Cookies           map[string]string `json:"cookies,omitempty"`
}

// antiBotResponseEnvelope is the outer JSON reply; Solution carries the
// actual proxied response.
type antiBotResponseEnvelope struct {
	Status   string              `json:"status"`
	Message  string              `json:"message"`
	Solution antiBotSolution     `json:"solution"`
}

type antiBotSolution struct {
	URL      string `json:"url"`
	Status   int    `json:"status"`
	Response string `json:"response"`
	// ResponseIsBase64 lets a proxy return binary payloads (images, etc.)
	// without corrupting them through JSON string escaping.
	ResponseIsBase64 bool `json:"responseIsBase64,omitempty"`
}

// AntiBotResolver proxies requests through a configured anti-bot solving
// endpoint. Grounded on spec.md §4.C / S4: POSTs {cmd:"request.get", ...},
// fails the request if the inner (solution) status is not 200.
type AntiBotResolver struct {
	Config AntiBotConfig
	Client *http.Client
}

// NewAntiBotResolver returns an AntiBotResolver for the given endpoint
// config using a plain (non redirect-limited, the endpoint itself
// performs the real fetch) HTTP client.
func NewAntiBotResolver(cfg AntiBotConfig) *AntiBotResolver {
	return &AntiBotResolver{Config: cfg, Client: &http.Client{}}
}

func (a *AntiBotResolver) client() *http.Client {
	if a.Client != nil {
		return a.Client
	}
	return &http.Client{}
}

// Get implements Resolver.
func (a *AntiBotResolver) Get(ctx context.Context, rawURL string, fc fetchcontext.FetchContext) ([]byte, error) {
	envelope := antiBotRequestEnvelope{
		Cmd:               "request.get",
		URL:               rawURL,
		MaxTimeout:        a.Config.MaxTimeout,
		SessionTTLMinutes: a.Config.SessionTTLMinutes,
	}
	if fc.UserAgent != "" || len(fc.Headers) > 0 {
		envelope.Headers = map[string]string{}
		if fc.UserAgent != "" {
			envelope.Headers["User-Agent"] = fc.UserAgent
		}
		for _, h := range fc.Headers {
			envelope.Headers[h.Name] = h.Value
		}
	}
	if len(fc.Cookies) > 0 {
		envelope.Cookies = map[string]string{}
		for _, c := range fc.Cookies {
			envelope.Cookies[c.Name] = c.Value
		}
	}

	body, err := encodeJSON(envelope)
	if err != nil {
		return nil, errors.Wrap(err, "httpclient: encoding anti-bot request envelope")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.Config.Endpoint, body)
	if err != nil {
		return nil, errors.Wrap(err, "httpclient: building anti-bot proxy request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client().Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "httpclient: anti-bot proxy POST")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Status: resp.StatusCode, URL: a.Config.Endpoint}
	}

	var envResp antiBotResponseEnvelope
	if err := decodeJSON(resp.Body, &envResp); err != nil {
		return nil, errors.Wrap(err, "httpclient: decoding anti-bot response envelope")
	}

	if envResp.Solution.Status != http.StatusOK {
		return nil, &StatusError{Status: envResp.Solution.Status, URL: rawURL}
	}

	if envResp.Solution.ResponseIsBase64 {
		decoded, err := base64.StdEncoding.DecodeString(envResp.Solution.Response)
		if err != nil {
			return nil, errors.Wrap(err, "httpclient: decoding base64 anti-bot response body")
		}
		return decoded, nil
	}
	return []byte(envResp.Solution.Response), nil
}
