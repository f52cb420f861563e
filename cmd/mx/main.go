// Command mx is mx-scraper's CLI entrypoint: fetch, fetch-files, request,
// infos, and server subcommands wired onto the Dispatcher.
//
// Grounded on cmd/migrations/main.go's urfave/cli/v2 &cli.App{Commands:
// []*cli.Command{...}} shape and cmd/api/main.go's
// logger.New()/signals.Setup()/<-graceful startup sequence for the
// server subcommand.
package main

import (
	"bufio"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/robinjoseph08/golib/signals"
	"github.com/urfave/cli/v2"

	"github.com/mxscrape/mx-scraper/pkg/config"
	"github.com/mxscrape/mx-scraper/pkg/dispatcher"
	"github.com/mxscrape/mx-scraper/pkg/fetchcontext"
	"github.com/mxscrape/mx-scraper/pkg/plugins"
	"github.com/mxscrape/mx-scraper/pkg/resolver"
	"github.com/mxscrape/mx-scraper/pkg/server"
	"github.com/mxscrape/mx-scraper/pkg/version"
)

var sharedFetchFlags = []cli.Flag{
	&cli.BoolFlag{Name: "meta-only"},
	&cli.IntFlag{Name: "batch-size", Value: 5},
	&cli.IntFlag{Name: "mini-batch-size", Value: 5},
	&cli.IntFlag{Name: "max-size-init-crawl-batch", Value: 10},
	&cli.IntFlag{Name: "max-parallel-fetch", Value: 4},
	&cli.BoolFlag{Name: "verbose"},
	&cli.BoolFlag{Name: "no-cache"},
	&cli.BoolFlag{Name: "rand"},
	&cli.BoolFlag{Name: "asc"},
	&cli.BoolFlag{Name: "reflect"},
	&cli.StringFlag{Name: "plugin"},
	&cli.StringFlag{Name: "cookies"},
	&cli.BoolFlag{Name: "custom-downloader"},
	&cli.StringFlag{Name: "user"},
	&cli.StringFlag{Name: "password"},
	&cli.StringFlag{Name: "bearer"},
	&cli.BoolFlag{Name: "listen-cookies"},
}

func main() {
	log := logger.New()

	app := &cli.App{
		Name:        "mx",
		Usage:       "scriptable book crawler and downloader",
		Description: "resolve terms through plugins, download the results, or issue a single raw fetch",
		Commands: []*cli.Command{
			{
				Name:      "fetch",
				Usage:     "resolve and download one or more terms",
				ArgsUsage: "<terms...>",
				Flags:     sharedFetchFlags,
				Action: func(c *cli.Context) error {
					terms := c.Args().Slice()
					if len(terms) == 0 {
						return errors.New("fetch: at least one term is required")
					}
					return runFetch(c, log, terms)
				},
			},
			{
				Name:      "fetch-files",
				Usage:     "resolve and download every term listed in one or more files",
				ArgsUsage: "<files...>",
				Flags:     sharedFetchFlags,
				Action: func(c *cli.Context) error {
					paths := c.Args().Slice()
					if len(paths) == 0 {
						return errors.New("fetch-files: at least one file is required")
					}
					terms, err := readTermFiles(paths)
					if err != nil {
						return err
					}
					return runFetch(c, log, terms)
				},
			},
			{
				Name:      "request",
				Usage:     "issue a single raw GET request",
				ArgsUsage: "<url>",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "print"},
					&cli.StringFlag{Name: "dest"},
				},
				Action: func(c *cli.Context) error {
					url := c.Args().First()
					if url == "" {
						return errors.New("request: a url is required")
					}
					return runRequest(c, log, url)
				},
			},
			{
				Name:  "infos",
				Usage: "list installed plugins or dump the effective config",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "plugins"},
					&cli.BoolFlag{Name: "config"},
				},
				Action: func(c *cli.Context) error {
					return runInfos(c, log)
				},
			},
			{
				Name:  "server",
				Usage: "start the GraphQL endpoint and cookie-callback listener",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "port", Value: 8080},
				},
				Action: func(c *cli.Context) error {
					return runServer(c, log)
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Err(err).Fatal("mx: run error")
	}
}

// listenCookiesPort is the fixed port the `--listen-cookies` one-shot
// listener binds while it waits for a single browser-extension
// callback; a browser extension posting to localhost needs a port it
// can hard-code rather than one picked at random per run.
const listenCookiesPort = 37643

func loadDispatcher(c *cli.Context, log logger.Logger) (*dispatcher.Dispatcher, error) {
	cfg, err := config.New()
	if err != nil {
		return nil, errors.Wrap(err, "mx: loading config")
	}
	cfg.Version = version.Version

	if err := applyFetchFlags(c, cfg); err != nil {
		return nil, err
	}

	if c.Bool("listen-cookies") {
		log.Info("mx: waiting for cookie callback")
		cookiesJSON, userAgent, err := server.ListenOnceForCookies(c.Context, listenCookiesPort, log)
		if err != nil {
			return nil, errors.Wrap(err, "mx: listening for cookie callback")
		}
		if err := cfg.IngestCookieFile(cookiesJSON); err != nil {
			return nil, err
		}
		if userAgent != "" {
			all := cfg.Requests[config.AllProfile]
			all.UserAgent = userAgent
			cfg.Requests[config.AllProfile] = all
		}
	}

	d, err := dispatcher.New(cfg, log)
	if err != nil {
		return nil, err
	}
	if err := d.Init(c.Context); err != nil {
		return nil, errors.Wrap(err, "mx: initializing plugins")
	}
	return d, nil
}

// applyFetchFlags mutates cfg in place per §8's flag-to-field table.
func applyFetchFlags(c *cli.Context, cfg *config.Config) error {
	if c.Bool("no-cache") {
		cfg.Cache.Enable = false
	}
	if c.Bool("meta-only") {
		cfg.Runtime.MetaOnly = true
	}
	cfg.Runtime.Verbose = c.Bool("verbose")
	cfg.Runtime.CustomDownloader = c.Bool("custom-downloader")
	cfg.Runtime.FocusedPlugin = c.String("plugin")

	if ms := c.Int("max-size-init-crawl-batch"); ms > 0 {
		cfg.Batch.InitCrawl = ms
	}
	if ms := c.Int("mini-batch-size"); ms > 0 {
		cfg.Batch.PageMiniBatch = ms
	}
	if mp := c.Int("max-parallel-fetch"); mp > 0 {
		cfg.MaxParallelFetch = mp
	}

	if path := c.String("cookies"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return errors.Wrapf(err, "mx: reading --cookies file %s", path)
		}
		if err := cfg.IngestCookieFile(data); err != nil {
			return err
		}
	}

	user, bearer := c.String("user"), c.String("bearer")
	if user != "" && bearer != "" {
		return errors.New("mx: --user and --bearer are mutually exclusive")
	}
	switch {
	case user != "":
		cfg.Runtime.Auth = &fetchcontext.Auth{Basic: &fetchcontext.BasicAuth{User: user, Password: c.String("password")}}
	case bearer != "":
		cfg.Runtime.Auth = &fetchcontext.Auth{Bearer: &fetchcontext.BearerAuth{Token: bearer}}
	}

	return nil
}

func runFetch(c *cli.Context, log logger.Logger, terms []string) error {
	d, err := loadDispatcher(c, log)
	if err != nil {
		return err
	}
	defer d.Destroy(c.Context)

	cfg := d.Config()
	opts := resolver.Options{BatchSize: cfg.Batch.InitCrawl, Plugin: cfg.Runtime.FocusedPlugin}
	order, entries, err := d.Resolve(c.Context, terms, opts)
	if err != nil {
		return errors.Wrap(err, "mx: resolving terms")
	}

	order = reorder(order, entries, c.Bool("asc"), c.Bool("rand"))

	var failures int
	var results []plugins.FetchResult
	for _, term := range order {
		entry := entries[term]
		if entry.Err != nil {
			log.Err(entry.Err).Error("mx: term failed", logger.Data{"term": term})
			failures++
			continue
		}
		if entry.Result != nil {
			results = append(results, *entry.Result)
		}
	}

	if c.Bool("reflect") {
		for _, r := range results {
			fmt.Printf("%s\t%s\n", r.QueryTerm, r.Book.Title)
		}
		return nil
	}

	outcomes, err := d.Download(c.Context, results, c.Int("batch-size"))
	if err != nil {
		return errors.Wrap(err, "mx: downloading books")
	}
	for _, o := range outcomes {
		if o.Err != nil {
			log.Err(o.Err).Error("mx: download failed", logger.Data{"term": o.QueryTerm})
			failures++
		}
	}

	if failures > 0 {
		return errors.Errorf("mx: %d term(s) failed", failures)
	}
	return nil
}

// reorder applies the CLI-layer-only ordering policies documented in
// §8: Component G itself preserves deduplicated input order; --asc and
// --rand only change the view the CLI iterates, never the resolver's
// internal result map. --asc sorts ascending by each term's resolved page
// count (spec.md: "pre-sort terms ascending by eventual page count
// (requires resolution first, then re-sort)"), which is why reorder runs
// after Resolve rather than on the raw input terms; a term that failed to
// resolve (or has no book) has no known page count and sorts last.
func reorder(order []string, entries map[string]resolver.Entry, asc, rnd bool) []string {
	out := make([]string, len(order))
	copy(out, order)
	switch {
	case asc:
		sort.SliceStable(out, func(i, j int) bool {
			pi, oki := pageCount(entries[out[i]])
			pj, okj := pageCount(entries[out[j]])
			if oki != okj {
				return oki
			}
			return pi < pj
		})
	case rnd:
		rand.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	}
	return out
}

// pageCount returns a term's resolved book's total page count and whether
// one is known at all; a failed or book-less entry reports (0, false) so
// reorder can sort it after every entry with a known count.
func pageCount(entry resolver.Entry) (int, bool) {
	if entry.Err != nil || entry.Result == nil || entry.Result.Book == nil {
		return 0, false
	}
	return entry.Result.Book.CountPages(), true
}

func runRequest(c *cli.Context, log logger.Logger, url string) error {
	d, err := loadDispatcher(c, log)
	if err != nil {
		return err
	}
	defer d.Destroy(c.Context)

	fc, err := d.Config().FetchContext("")
	if err != nil {
		return err
	}
	body, err := d.Client().Fetch(c.Context, url, fc)
	if err != nil {
		return errors.Wrap(err, "mx: request failed")
	}

	if dest := c.String("dest"); dest != "" {
		return os.WriteFile(dest, body, 0o644)
	}
	_, err = os.Stdout.Write(body)
	return err
}

func runInfos(c *cli.Context, log logger.Logger) error {
	d, err := loadDispatcher(c, log)
	if err != nil {
		return err
	}
	defer d.Destroy(c.Context)

	if c.Bool("plugins") {
		for _, name := range d.Manager().List() {
			fmt.Println(name)
		}
		return nil
	}

	data, err := d.Config().ToYAML()
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(data)
	return err
}

func runServer(c *cli.Context, log logger.Logger) error {
	d, err := loadDispatcher(c, log)
	if err != nil {
		return err
	}

	srv := server.New(d, log)
	graceful := signals.Setup()

	go func() {
		if err := srv.ListenAndServe(c.Int("port")); err != nil {
			log.Err(err).Error("mx: server stopped")
		}
	}()
	log.Info("mx: server started", logger.Data{"port": c.Int("port")})

	<-graceful
	log.Info("mx: shutting down")

	if err := srv.Shutdown(c.Context); err != nil {
		log.Err(err).Error("mx: server shutdown error")
	}
	return d.Destroy(c.Context)
}

// readTermFiles reads every path's lines, skipping blank lines and
// `#`-prefixed comments, splitting each remaining line on whitespace
// into terms, per §6's files-of-terms format.
func readTermFiles(paths []string) ([]string, error) {
	var terms []string
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			return nil, errors.Wrapf(err, "mx: opening %s", path)
		}
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			terms = append(terms, strings.Fields(line)...)
		}
		err = scanner.Err()
		f.Close()
		if err != nil {
			return nil, errors.Wrapf(err, "mx: reading %s", path)
		}
	}
	return terms, nil
}
