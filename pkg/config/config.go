// Package config implements mx-scraper's file-backed configuration: a
// single mx-config.yaml (or, as a fallback, mx-config.json) in the
// current directory, loaded over struct-tag defaults and validated
// before use.
//
// Grounded on the teacher's config.go koanf.New(".") -> k.Load(file.
// Provider(path), parser) -> k.Unmarshal("", cfg) shape, replacing its
// env-driven DB/server schema with mx-scraper's download/cache/batch/
// request-profile schema, and its hand-written defaults() function with
// creasty/defaults struct tags.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/iancoleman/strcase"
	koanfjson "github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/pkg/errors"

	"github.com/mxscrape/mx-scraper/pkg/cookies"
	"github.com/mxscrape/mx-scraper/pkg/fetchcontext"
	"github.com/mxscrape/mx-scraper/pkg/httpclient"
)

const (
	yamlFileName = "mx-config.yaml"
	jsonFileName = "mx-config.json"

	// AllProfile is the key of the shared baseline request profile every
	// per-plugin profile overlays on top of.
	AllProfile = "_all"
)

// Config is the full on-disk schema plus a Runtime overlay populated by
// the CLI after loading.
type Config struct {
	DownloadRoot string `koanf:"download_root" json:"download_root" default:"downloads" validate:"required"`
	TempRoot     string `koanf:"temp_root" json:"temp_root" default:"temp" validate:"required"`
	MetadataRoot string `koanf:"metadata_root" json:"metadata_root" default:"metadata" validate:"required"`

	Cache CacheConfig `koanf:"cache" json:"cache"`
	Delay DelayConfig `koanf:"delay" json:"delay"`
	Batch BatchConfig `koanf:"batch" json:"batch"`

	MaxParallelFetch int    `koanf:"max_parallel_fetch" json:"max_parallel_fetch" default:"4" validate:"min=1"`
	PluginsLocation  string `koanf:"plugins_location" json:"plugins_location" default:"plugins"`

	Requests map[string]RequestProfile `koanf:"requests" json:"requests"`

	Resolver ResolverConfig `koanf:"resolver" json:"resolver"`

	// Runtime is never read from or written to the config file; it is
	// populated by cmd/mx from CLI flags and GraphQL/cookie-callback
	// overrides after Load returns.
	Runtime Runtime `koanf:"-" json:"-"`

	// Version is computed from pkg/version after Load returns, never
	// read from or written to the config file. Mirrors the original's
	// env!("CARGO_PKG_VERSION")-derived default user-agent.
	Version string `koanf:"-" json:"-"`
}

// ResolverConfig picks Component C's resolver variant. Kind "direct" (the
// default) issues plain HTTP GETs; "anti_bot" proxies every request
// through AntiBot's configured endpoint.
type ResolverConfig struct {
	Kind    string        `koanf:"kind" json:"kind" default:"direct" validate:"oneof=direct anti_bot"`
	AntiBot AntiBotConfig `koanf:"anti_bot" json:"anti_bot"`
}

// AntiBotConfig mirrors httpclient.AntiBotConfig's on-disk shape.
type AntiBotConfig struct {
	Endpoint          string `koanf:"endpoint" json:"endpoint"`
	MaxTimeoutMillis  *int   `koanf:"max_timeout_millis" json:"max_timeout_millis"`
	SessionTTLMinutes *int   `koanf:"session_ttl_minutes" json:"session_ttl_minutes"`
}

// CacheConfig is Component E's on/off switch and storage folder.
type CacheConfig struct {
	Enable bool   `koanf:"enable" json:"enable" default:"true"`
	Folder string `koanf:"folder" json:"folder" default:"cache"`
}

// DelayConfig holds the two per-request delays, in milliseconds.
type DelayConfig struct {
	FetchMillis    int `koanf:"fetch" json:"fetch" default:"0" validate:"min=0"`
	DownloadMillis int `koanf:"download" json:"download" default:"0" validate:"min=0"`
}

// BatchConfig holds the three batch sizes named in spec.md §3: the term
// resolver's chunk size, the book-download batch size, and the
// per-chapter page mini-batch size.
type BatchConfig struct {
	InitCrawl     int `koanf:"init_crawl" json:"init_crawl" default:"10" validate:"min=1"`
	Book          int `koanf:"book" json:"book" default:"5" validate:"min=1"`
	PageMiniBatch int `koanf:"page_mini_batch" json:"page_mini_batch" default:"5" validate:"min=1"`
}

// RequestProfile is one entry of the `_all`-plus-plugin-name request map,
// in the plain-map shape YAML/JSON naturally decode into. Cookies is
// left untyped since Component D accepts several shapes (flat name/value
// object, array of rich records, single rich record) — it is re-encoded
// to JSON and handed to cookies.FromJSON rather than given its own
// strict schema here.
type RequestProfile struct {
	UserAgent   string            `koanf:"user_agent" json:"user_agent"`
	Headers     map[string]string `koanf:"headers" json:"headers"`
	Cookies     any               `koanf:"cookies" json:"cookies"`
	ExtraConfig map[string]string `koanf:"extra_config" json:"extra_config"`
}

// Runtime holds the CLI-flag and cookie-callback overrides layered on
// top of the file-backed Config at process startup (spec.md §6's shared
// fetch flags and §4.K's cookie-callback listener).
type Runtime struct {
	NoCache          bool
	MetaOnly         bool
	Verbose          bool
	CustomDownloader bool
	FocusedPlugin    string
	Auth             *fetchcontext.Auth
}

// New loads Config from the current directory, writing a fresh
// mx-config.yaml with defaults if neither config file exists yet.
func New() (*Config, error) {
	return Load(".")
}

// Load loads Config from dir, trying mx-config.yaml first and
// mx-config.json second. Load order (later overrides earlier): struct
// defaults, then whichever file is found.
func Load(dir string) (*Config, error) {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, errors.Wrap(err, "config: applying defaults")
	}

	yamlPath := filepath.Join(dir, yamlFileName)
	jsonPath := filepath.Join(dir, jsonFileName)

	switch {
	case fileExists(yamlPath):
		if err := loadFile(cfg, yamlPath, yaml.Parser()); err != nil {
			return nil, err
		}
	case fileExists(jsonPath):
		if err := loadFile(cfg, jsonPath, koanfjson.Parser()); err != nil {
			return nil, err
		}
	default:
		if err := writeDefaults(cfg, yamlPath); err != nil {
			return nil, err
		}
	}

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(cfg *Config, path string, parser koanf.Parser) error {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), parser); err != nil {
		return errors.Wrapf(err, "config: loading %s", path)
	}
	if err := k.Unmarshal("", cfg); err != nil {
		return errors.Wrapf(err, "config: unmarshaling %s", path)
	}
	return nil
}

// writeDefaults serializes cfg (already populated with struct defaults)
// as YAML and writes it to path, so a first run leaves behind an
// editable config file instead of silently running on in-memory
// defaults only.
func writeDefaults(cfg *Config, path string) error {
	asMap, err := toMap(cfg)
	if err != nil {
		return err
	}
	data, err := yaml.Parser().Marshal(asMap)
	if err != nil {
		return errors.Wrap(err, "config: serializing defaults")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrapf(err, "config: writing %s", path)
	}
	return nil
}

// toMap round-trips cfg through JSON to get a plain map[string]any,
// since koanf parsers marshal maps, not arbitrary structs.
func toMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "config: encoding defaults")
	}
	var asMap map[string]any
	if err := json.Unmarshal(data, &asMap); err != nil {
		return nil, errors.Wrap(err, "config: decoding defaults")
	}
	return asMap, nil
}

// ToYAML renders the effective, already-loaded Config back to YAML, for
// `mx infos --config`.
func (c *Config) ToYAML() ([]byte, error) {
	asMap, err := toMap(c)
	if err != nil {
		return nil, err
	}
	data, err := yaml.Parser().Marshal(asMap)
	if err != nil {
		return nil, errors.Wrap(err, "config: rendering yaml")
	}
	return data, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Profile resolves the fetchcontext.Profile for name (AllProfile or a
// plugin name). A name with no configured profile resolves to a zero
// Profile, not an error.
func (c *Config) Profile(name string) (fetchcontext.Profile, error) {
	rp, ok := c.Requests[name]
	if !ok {
		return fetchcontext.Profile{}, nil
	}
	return rp.toFetchProfile()
}

// FetchContext composes the final fetchcontext.FetchContext for a
// request against plugin, per spec.md §4.B: the `_all` baseline
// overlaid with plugin's own profile (if any), with Runtime.Auth as the
// process-wide credential.
func (c *Config) FetchContext(plugin string) (fetchcontext.FetchContext, error) {
	baseline, err := c.Profile(AllProfile)
	if err != nil {
		return fetchcontext.FetchContext{}, err
	}
	if plugin == "" || plugin == AllProfile {
		return fetchcontext.Compose(baseline, nil, c.Runtime.Auth), nil
	}
	if _, ok := c.Requests[plugin]; !ok {
		return fetchcontext.Compose(baseline, nil, c.Runtime.Auth), nil
	}
	overlay, err := c.Profile(plugin)
	if err != nil {
		return fetchcontext.FetchContext{}, err
	}
	return fetchcontext.Compose(baseline, &overlay, c.Runtime.Auth), nil
}

// NewResolver builds the Component C Resolver named by Resolver.Kind.
func (c *Config) NewResolver() (httpclient.Resolver, error) {
	switch c.Resolver.Kind {
	case "", "direct":
		return httpclient.NewDirectResolver(), nil
	case "anti_bot":
		return httpclient.NewAntiBotResolver(httpclient.AntiBotConfig{
			Endpoint:          c.Resolver.AntiBot.Endpoint,
			MaxTimeout:        c.Resolver.AntiBot.MaxTimeoutMillis,
			SessionTTLMinutes: c.Resolver.AntiBot.SessionTTLMinutes,
		}), nil
	default:
		return nil, errors.Errorf("config: unknown resolver.kind %q", c.Resolver.Kind)
	}
}

// PluginSettings returns the ExtraConfig map for a discovered script
// plugin directory name, in the shape pkg/plugins.Manager.Init's
// settingsFor callback expects.
func (c *Config) PluginSettings(name string) map[string]string {
	if rp, ok := c.Requests[name]; ok {
		return rp.ExtraConfig
	}
	return nil
}

// toFetchProfile converts the plain-map on-disk shape into Component B's
// ordered Profile. Header order is not preserved from the file (YAML and
// JSON objects decode into Go maps, which have no order) — keys are
// sorted for determinism instead. Cookies retain whatever order their
// own encoding preserves (an array is ordered; a flat object is not).
func (rp RequestProfile) toFetchProfile() (fetchcontext.Profile, error) {
	profile := fetchcontext.Profile{UserAgent: rp.UserAgent}

	keys := make([]string, 0, len(rp.Headers))
	for k := range rp.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		profile.Headers = profile.Headers.Set(k, rp.Headers[k])
	}

	if rp.Cookies == nil {
		return profile, nil
	}
	data, err := json.Marshal(rp.Cookies)
	if err != nil {
		return profile, errors.Wrap(err, "config: re-encoding cookies")
	}
	list, err := cookies.FromJSON(data)
	if err != nil {
		return profile, errors.Wrap(err, "config: parsing cookies")
	}
	for _, rec := range list {
		profile.Cookies = append(profile.Cookies, fetchcontext.Cookie{Name: rec.Name, Value: rec.Value})
	}
	return profile, nil
}

// IngestCookieFile parses a cookie file's raw bytes (any of Component
// D's supported formats) and installs it as the `_all` profile's cookie
// list, overwriting whatever `_all.cookies` the config file set. This is
// the `--cookies FILE` CLI flag's landing point.
func (c *Config) IngestCookieFile(data []byte) error {
	list, err := cookies.FromJSON(data)
	if err != nil {
		return errors.Wrap(err, "config: parsing --cookies file")
	}
	raw := make([]map[string]string, len(list))
	for i, rec := range list {
		raw[i] = map[string]string{"name": rec.Name, "value": rec.Value}
	}

	if c.Requests == nil {
		c.Requests = map[string]RequestProfile{}
	}
	all := c.Requests[AllProfile]
	all.Cookies = raw
	c.Requests[AllProfile] = all
	return nil
}

// validateConfig runs struct validation and turns field-level failures
// into a readable, multi-error message.
func validateConfig(cfg *Config) error {
	validate := validator.New()
	err := validate.Struct(cfg)
	if err == nil {
		return nil
	}

	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		return errors.Wrap(err, "config validation failed")
	}

	var msgs []string
	for _, e := range validationErrors {
		field := strcase.ToSnake(e.StructField())
		msgs = append(msgs, errors.Errorf("invalid config %s: failed %s", field, e.Tag()).Error())
	}
	return errors.New("configuration validation failed:\n\n" + joinLines(msgs))
}

func joinLines(lines []string) string {
	out := ""
	for i, l := range lines {
		if i > 0 {
			out += "\n"
		}
		out += l
	}
	return out
}
