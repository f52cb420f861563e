package fetchcontext

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComposeNoOverlay(t *testing.T) {
	baseline := Profile{
		UserAgent: "mx-scraper/test",
		Headers:   Headers{{Name: "Accept", Value: "*/*"}},
		Cookies:   []Cookie{{Name: "a", Value: "1"}},
	}
	ctx := Compose(baseline, nil, nil)

	assert.Equal(t, "mx-scraper/test", ctx.UserAgent)
	assert.Equal(t, baseline.Headers, ctx.Headers)
	assert.Equal(t, baseline.Cookies, ctx.Cookies)
	assert.Nil(t, ctx.Auth)
}

func TestComposeUserAgentOverlayWinsWhenSet(t *testing.T) {
	baseline := Profile{UserAgent: "baseline-ua"}
	overlay := Profile{UserAgent: "overlay-ua"}
	ctx := Compose(baseline, &overlay, nil)
	assert.Equal(t, "overlay-ua", ctx.UserAgent)
}

func TestComposeUserAgentFallsBackToBaselineWhenOverlayEmpty(t *testing.T) {
	baseline := Profile{UserAgent: "baseline-ua"}
	overlay := Profile{}
	ctx := Compose(baseline, &overlay, nil)
	assert.Equal(t, "baseline-ua", ctx.UserAgent)
}

func TestComposeHeadersBaselineWinsOnCollision(t *testing.T) {
	baseline := Profile{Headers: Headers{{Name: "X-Foo", Value: "baseline"}}}
	overlay := Profile{Headers: Headers{{Name: "X-Foo", Value: "overlay"}, {Name: "X-Bar", Value: "overlay-only"}}}

	ctx := Compose(baseline, &overlay, nil)

	v, ok := ctx.Headers.Get("X-Foo")
	assert.True(t, ok)
	assert.Equal(t, "baseline", v, "baseline value must win on header key collision")

	v2, ok2 := ctx.Headers.Get("X-Bar")
	assert.True(t, ok2)
	assert.Equal(t, "overlay-only", v2)
}

func TestComposeEveryBaselineAndOverlayHeaderKeySurvives(t *testing.T) {
	baseline := Profile{Headers: Headers{{Name: "A", Value: "1"}, {Name: "B", Value: "2"}}}
	overlay := Profile{Headers: Headers{{Name: "B", Value: "overridden"}, {Name: "C", Value: "3"}}}

	ctx := Compose(baseline, &overlay, nil)

	for _, name := range []string{"A", "B", "C"} {
		_, ok := ctx.Headers.Get(name)
		assert.True(t, ok, "expected header %s to survive composition", name)
	}
}

func TestComposeCookiesAreAdditive(t *testing.T) {
	baseline := Profile{Cookies: []Cookie{{Name: "session", Value: "base"}}}
	overlay := Profile{Cookies: []Cookie{{Name: "extra", Value: "overlay"}}}

	ctx := Compose(baseline, &overlay, nil)

	assert.Equal(t, []Cookie{{Name: "session", Value: "base"}, {Name: "extra", Value: "overlay"}}, ctx.Cookies)
}

func TestComposeAuthIsAlwaysProcessWide(t *testing.T) {
	auth := &Auth{Bearer: &BearerAuth{Token: "tok"}}
	baseline := Profile{}
	overlay := Profile{}

	withOverlay := Compose(baseline, &overlay, auth)
	withoutOverlay := Compose(baseline, nil, auth)

	assert.Same(t, auth, withOverlay.Auth)
	assert.Same(t, auth, withoutOverlay.Auth)
}

func TestHeadersSetFirstInsertionWins(t *testing.T) {
	h := Headers{}
	h = h.Set("X", "1")
	h = h.Set("X", "2")
	v, ok := h.Get("X")
	assert.True(t, ok)
	assert.Equal(t, "1", v)
}
