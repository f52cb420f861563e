package httpclient

import (
	"context"

	"github.com/mxscrape/mx-scraper/pkg/fetchcontext"
	"github.com/mxscrape/mx-scraper/pkg/gate"
)

// Client wraps exactly one configured Resolver and funnels every async
// call through a shared concurrency Gate, plus a dedicated Direct
// resolver used only by the download path (images and chapter downloads
// bypass anti-bot proxies even when one is configured for plugin
// resolution, per spec.md §4.C).
type Client struct {
	resolver Resolver
	direct   *DirectResolver
	gate     *gate.Gate
}

// New builds a Client around resolver, sharing g for bounding concurrent
// async requests.
func New(resolver Resolver, g *gate.Gate) *Client {
	return &Client{resolver: resolver, direct: NewDirectResolver(), gate: g}
}

// Fetch performs an async GET through the configured resolver, acquiring
// a gate permit first. The `request` subcommand uses this path; page
// downloads and lazy-link evaluation go through Download instead.
func (c *Client) Fetch(ctx context.Context, rawURL string, fc fetchcontext.FetchContext) ([]byte, error) {
	release, err := c.gate.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	return c.resolver.Get(ctx, rawURL, fc)
}

// FetchBlocking performs a GET through the configured resolver without
// taking a gate permit, mirroring the source's synchronous fetch/
// fetch_with_context: the blocking entry point was never rate-limited by
// the semaphore, only the async one was. Preserved as a resolved open
// question (see DESIGN.md) rather than "fixed", since nothing in the
// source treats it as a bug.
func (c *Client) FetchBlocking(ctx context.Context, rawURL string, fc fetchcontext.FetchContext) ([]byte, error) {
	return c.resolver.Get(ctx, rawURL, fc)
}

// Download always uses the Direct resolver regardless of the client's
// configured resolver, and still goes through the gate since it is an
// async call like any other (only its resolver choice is pinned).
func (c *Client) Download(ctx context.Context, rawURL string, fc fetchcontext.FetchContext) ([]byte, error) {
	release, err := c.gate.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	return c.direct.Get(ctx, rawURL, fc)
}
