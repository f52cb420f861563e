// Package fetchcontext implements Component B: composing a per-request
// FetchContext (user-agent, headers, cookies, auth) from a shared "_all"
// baseline profile and an optional per-plugin overlay.
//
// Grounded on original_source/src/schemas/config.rs's gen_fetch_context.
// That function's cookie half is additive with no ambiguity; its header
// half, in the one snapshot captured under _examples/original_source/,
// uses Rust's HashMap::extend (overlay-wins), which conflicts with
// spec.md's explicit, repeatedly-stated "baseline value kept on collision"
// policy. This package follows spec.md — see DESIGN.md for why.
package fetchcontext

// Auth is the process-wide outbound credential attached to every composed
// FetchContext, regardless of which plugin is focused.
type Auth struct {
	Basic  *BasicAuth
	Bearer *BearerAuth
}

type BasicAuth struct {
	User     string
	Password string
}

type BearerAuth struct {
	Token string
}

// HeaderPair is one entry of an ordered header list. Headers are kept as
// an ordered slice rather than a map so composition and rendering have a
// deterministic, documented order instead of relying on Go's unspecified
// map iteration order.
type HeaderPair struct {
	Name  string
	Value string
}

// Headers is an insertion-ordered list of header pairs with at most one
// entry per name (case-sensitive — names are expected to already be in
// canonical form by the time they reach here).
type Headers []HeaderPair

// Get returns the value for name and whether it was present.
func (h Headers) Get(name string) (string, bool) {
	for _, p := range h {
		if p.Name == name {
			return p.Value, true
		}
	}
	return "", false
}

// Set appends name=value if name is not already present, and otherwise
// leaves the existing entry untouched — the first-insertion-wins policy
// used throughout Component B composition.
func (h Headers) Set(name, value string) Headers {
	if _, ok := h.Get(name); ok {
		return h
	}
	return append(h, HeaderPair{Name: name, Value: value})
}

// Overlay returns a new Headers containing every pair of h, followed by
// every pair of overlay whose name is not already present in h. This is
// the "headers union with baseline, baseline value kept on collision"
// rule from spec.md §4.B.
func (h Headers) Overlay(overlay Headers) Headers {
	out := make(Headers, len(h))
	copy(out, h)
	for _, p := range overlay {
		out = out.Set(p.Name, p.Value)
	}
	return out
}

// Cookie mirrors cookies.Record's name/value shape without importing the
// cookies package's richer optional attributes — FetchContext only ever
// needs name/value for header rendering, and keeping this package
// dependency-free of pkg/cookies keeps the composition rule easy to unit
// test in isolation. Rendering through pkg/cookies is done by the caller
// (pkg/httpclient) once a FetchContext reaches the wire.
type Cookie struct {
	Name  string
	Value string
}

// FetchContext is the fully composed set of HTTP decoration applied to a
// single request.
type FetchContext struct {
	UserAgent string
	Headers   Headers
	Cookies   []Cookie
	Auth      *Auth
}

// Profile is one entry of Config's `_all`-plus-per-plugin request map:
// the raw, not-yet-composed per-scope overrides a user can configure.
type Profile struct {
	UserAgent string
	Headers   Headers
	Cookies   []Cookie
}

// Compose builds the final FetchContext for a request, given the shared
// baseline profile, an optional focused-plugin overlay profile, and the
// process-wide auth override. Compose is pure: no I/O, no clock, no
// randomness, matching spec.md §4.B's explicit contract.
func Compose(baseline Profile, overlay *Profile, auth *Auth) FetchContext {
	ctx := FetchContext{
		UserAgent: baseline.UserAgent,
		Headers:   baseline.Headers,
		Cookies:   append([]Cookie{}, baseline.Cookies...),
		Auth:      auth,
	}

	if overlay == nil {
		return ctx
	}

	if overlay.UserAgent != "" {
		ctx.UserAgent = overlay.UserAgent
	}
	ctx.Headers = baseline.Headers.Overlay(overlay.Headers)
	ctx.Cookies = append(append([]Cookie{}, baseline.Cookies...), overlay.Cookies...)
	// Auth is always the process-wide override, never read from a
	// per-plugin profile — per-plugin Profile has no auth field at all.
	ctx.Auth = auth

	return ctx
}
