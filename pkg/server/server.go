// Package server implements the `mx server` subcommand's HTTP surface:
// a minimal GraphQL-shaped stub endpoint and the cookie-callback
// listener an external caller (a browser extension) posts a captured
// FetchContext to.
//
// Grounded on the teacher's server.go echo.New()/middleware/http.Server
// shape and binder.go's decode-then-conform-then-validate sequence: a
// JSON body decodes straight into the target struct, a query string
// (the path a simple browser-extension fetch() with no body takes)
// decodes via gorilla/schema, then every payload is trimmed through a
// go-playground/mold transformer before validator.Struct runs.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/mold/v4"
	"github.com/go-playground/mold/v4/modifiers"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/schema"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/echo/v4/middleware/logger"
	"github.com/robinjoseph08/golib/echo/v4/middleware/recovery"
	golibLogger "github.com/robinjoseph08/golib/logger"
)

// ConfigInstaller is the subset of dispatcher.Dispatcher the server
// needs: installing a cookie/user-agent override onto the live Config.
type ConfigInstaller interface {
	InstallCookieOverride(cookiesJSON []byte, userAgent string) error
}

// Server wraps an echo.Echo and the http.Server it is bound to.
type Server struct {
	echo *echo.Echo
	http *http.Server
}

// cookieCallbackPayload is the cookie-callback listener's body: a raw
// JSON string holding a flat cookie map (or array, or single-record
// object — the same three shapes Component D's FromJSON already
// accepts), plus an optional user-agent override. Cookies is a string
// rather than json.RawMessage so the same struct also decodes out of a
// query string (?cookies=...&user_agent=...).
type cookieCallbackPayload struct {
	Cookies   string `json:"cookies" schema:"cookies" validate:"required"`
	UserAgent string `json:"user_agent" schema:"user_agent" mod:"trim"`
}

// graphqlRequest is the GraphQL stub's request envelope. The stub never
// executes a real schema; it exists so a frontend can point its GraphQL
// client at a live endpoint during development, per SPEC_FULL.md's
// "GraphQL-shaped" framing — full resolver wiring is out of scope.
type graphqlRequest struct {
	Query     string         `json:"query" validate:"required"`
	Variables map[string]any `json:"variables"`
}

// New builds a Server wired to installer for the cookie-callback
// endpoint.
func New(installer ConfigInstaller, log golibLogger.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(logger.Middleware())
	e.Use(recovery.Middleware())
	e.Use(middleware.CORS())

	queryDecoder := schema.NewDecoder()
	queryDecoder.IgnoreUnknownKeys(true)
	conform := modifiers.New()
	validate := validator.New()

	e.POST("/graphql", func(c echo.Context) error {
		var req graphqlRequest
		if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, errors.Wrap(err, "decoding request body").Error())
		}
		if err := validate.Struct(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return c.JSON(http.StatusOK, echo.Map{
			"data":   nil,
			"errors": []echo.Map{{"message": "graphql execution is not implemented"}},
		})
	})

	e.POST("/callback/cookies", func(c echo.Context) error {
		payload, err := decodeCookieCallback(c, queryDecoder, conform, validate)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		if err := installer.InstallCookieOverride([]byte(payload.Cookies), payload.UserAgent); err != nil {
			log.Err(err).Error("server: installing cookie override")
			return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
		}
		return c.NoContent(http.StatusNoContent)
	})

	return &Server{echo: e}
}

// decodeCookieCallback picks the JSON-body path when the request carries
// a body, the query-string path otherwise, then conforms and validates
// the result — mirroring binder.go's content-length-gated dispatch.
func decodeCookieCallback(c echo.Context, queryDecoder *schema.Decoder, conform *mold.Transformer, validate *validator.Validate) (*cookieCallbackPayload, error) {
	var payload cookieCallbackPayload

	req := c.Request()
	if req.ContentLength > 0 {
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			return nil, errors.Wrap(err, "decoding request body")
		}
	} else {
		if err := req.ParseForm(); err != nil {
			return nil, errors.Wrap(err, "parsing query string")
		}
		if err := queryDecoder.Decode(&payload, req.Form); err != nil {
			return nil, errors.Wrap(err, "decoding query string")
		}
	}

	if err := conform.Struct(c.Request().Context(), &payload); err != nil {
		return nil, errors.Wrap(err, "conforming payload")
	}
	if err := validate.Struct(&payload); err != nil {
		return nil, errors.Wrap(err, "validating payload")
	}
	return &payload, nil
}

// Handler exposes the underlying echo router for tests that want to
// drive requests through httptest without binding a real port.
func (s *Server) Handler() http.Handler { return s.echo }

// ListenAndServe binds to port and blocks until the server stops.
func (s *Server) ListenAndServe(port int) error {
	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.echo,
		ReadHeaderTimeout: 3 * time.Second,
	}
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// recordingInstaller captures one InstallCookieOverride call instead of
// applying it, so ListenOnceForCookies can hand the caller the raw
// payload rather than mutating config from inside the HTTP handler.
type recordingInstaller struct {
	done chan struct{}

	cookiesJSON []byte
	userAgent   string
}

func (r *recordingInstaller) InstallCookieOverride(cookiesJSON []byte, userAgent string) error {
	r.cookiesJSON = cookiesJSON
	r.userAgent = userAgent
	close(r.done)
	return nil
}

// ListenOnceForCookies binds port, waits for exactly one POST to
// /callback/cookies, and returns its payload — the `--listen-cookies`
// flag's one-shot listener, distinct from the long-running `server`
// subcommand's Server. ctx cancellation stops waiting and returns its
// error.
func ListenOnceForCookies(ctx context.Context, port int, log golibLogger.Logger) (cookiesJSON []byte, userAgent string, err error) {
	rec := &recordingInstaller{done: make(chan struct{})}
	srv := New(rec, log)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe(port) }()

	select {
	case <-rec.done:
	case <-ctx.Done():
		_ = srv.Shutdown(context.Background())
		return nil, "", ctx.Err()
	case err := <-errCh:
		return nil, "", err
	}

	_ = srv.Shutdown(context.Background())
	return rec.cookiesJSON, rec.userAgent, nil
}
