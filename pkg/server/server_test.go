package server

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/robinjoseph08/golib/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubInstaller struct {
	cookiesJSON []byte
	userAgent   string
	err         error
	calls       int
}

func (s *stubInstaller) InstallCookieOverride(cookiesJSON []byte, userAgent string) error {
	s.calls++
	s.cookiesJSON = cookiesJSON
	s.userAgent = userAgent
	return s.err
}

func TestCallbackCookiesJSONBodyInstallsOverride(t *testing.T) {
	installer := &stubInstaller{}
	srv := New(installer, logger.New())

	body := `{"cookies":"{\"session\":\"abc\"}","user_agent":"  custom-agent  "}`
	req := httptest.NewRequest(http.MethodPost, "/callback/cookies", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNoContent, rr.Code)
	require.Equal(t, 1, installer.calls)
	assert.Equal(t, `{"session":"abc"}`, string(installer.cookiesJSON))
	assert.Equal(t, "custom-agent", installer.userAgent, "mold trim must strip surrounding whitespace")
}

func TestCallbackCookiesQueryStringInstallsOverride(t *testing.T) {
	installer := &stubInstaller{}
	srv := New(installer, logger.New())

	q := url.Values{"cookies": {`{"session":"abc"}`}, "user_agent": {"extension/1.0"}}
	req := httptest.NewRequest(http.MethodPost, "/callback/cookies?"+q.Encode(), nil)
	rr := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "extension/1.0", installer.userAgent)
}

func TestCallbackCookiesMissingCookiesFieldRejected(t *testing.T) {
	installer := &stubInstaller{}
	srv := New(installer, logger.New())

	req := httptest.NewRequest(http.MethodPost, "/callback/cookies", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Zero(t, installer.calls)
}

func TestCallbackCookiesInstallerErrorSurfacesAsUnprocessable(t *testing.T) {
	installer := &stubInstaller{err: assertErr("boom")}
	srv := New(installer, logger.New())

	body := `{"cookies":"{\"session\":\"abc\"}"}`
	req := httptest.NewRequest(http.MethodPost, "/callback/cookies", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rr, req)

	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
}

func TestGraphQLStubReturnsNotImplementedError(t *testing.T) {
	installer := &stubInstaller{}
	srv := New(installer, logger.New())

	req := httptest.NewRequest(http.MethodPost, "/graphql", strings.NewReader(`{"query":"{ books { title } }"}`))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "not implemented")
}

type assertErr string

func (e assertErr) Error() string { return string(e) }

func TestListenOnceForCookiesReturnsAfterOnePost(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	const port = 37699
	resultCh := make(chan struct {
		cookies []byte
		ua      string
		err     error
	}, 1)
	go func() {
		cookies, ua, err := ListenOnceForCookies(ctx, port, logger.New())
		resultCh <- struct {
			cookies []byte
			ua      string
			err     error
		}{cookies, ua, err}
	}()

	require.Eventually(t, func() bool {
		resp, err := http.Post(
			fmt.Sprintf("http://127.0.0.1:%d/callback/cookies", port),
			"application/json",
			strings.NewReader(`{"cookies":"{\"session\":\"abc\"}","user_agent":"ext/1.0"}`),
		)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusNoContent
	}, time.Second, 20*time.Millisecond, "listener never came up")

	result := <-resultCh
	require.NoError(t, result.err)
	assert.Equal(t, `{"session":"abc"}`, string(result.cookies))
	assert.Equal(t, "ext/1.0", result.ua)
}
