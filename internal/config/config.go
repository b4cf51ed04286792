// Package config provides configuration management for acerestreamer using
// Viper. Configuration lives as config.json inside the instance directory and
// can be overlaid with environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultServerPort        = 8078
	defaultServerTimeout     = 30 * time.Second
	defaultShutdownTimeout   = 10 * time.Second
	defaultEngineAddress     = "http://127.0.0.1:6878/"
	defaultEngineTimeout     = 10 * time.Second
	defaultPoolMaxSize       = 4
	defaultLockInTime        = 5 * time.Minute
	defaultLockInResetMax    = 15 * time.Minute
	defaultKeepaliveInterval = 10 * time.Second
	defaultScrapeInterval    = time.Hour
	defaultScrapeCacheTTL    = 2 * time.Hour
	defaultHTMLCacheTTL      = time.Hour
	defaultEPGUpdateInterval = 6 * time.Hour
	defaultRemoteInterval    = 24 * time.Hour
	defaultLogoTimeout       = 5 * time.Second
	defaultMaxOpenConns      = 25
	defaultMaxIdleConns      = 10
	defaultConnMaxIdleTime   = 30 * time.Minute
)

// AppConfig holds all configuration for the application.
type AppConfig struct {
	Server   ServerConfig         `mapstructure:"server" json:"server"`
	Logging  LoggingConfig        `mapstructure:"logging" json:"logging"`
	Database DatabaseConfig       `mapstructure:"database" json:"database"`
	Instance InstanceConfig       `mapstructure:"instance" json:"instance"`
	Engine   EngineConfig         `mapstructure:"engine" json:"engine"`
	Pool     PoolConfig           `mapstructure:"pool" json:"pool"`
	Scraper  ScraperConfig        `mapstructure:"scraper" json:"scraper"`
	EPGs     []EPGSourceConfig    `mapstructure:"epgs" json:"epgs"`
	Remote   RemoteSettingsConfig `mapstructure:"remote_settings" json:"remote_settings"`
	Auth     AuthConfig           `mapstructure:"auth" json:"auth"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host" json:"host"`
	Port            int           `mapstructure:"port" json:"port"`
	ExternalURL     string        `mapstructure:"external_url" json:"external_url"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" json:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" json:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" json:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins" json:"cors_origins"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level" json:"level"`   // debug, info, warn, error
	Format     string `mapstructure:"format" json:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source" json:"add_source"`
	TimeFormat string `mapstructure:"time_format" json:"time_format"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver" json:"driver"` // sqlite, postgres, mysql
	DSN             string        `mapstructure:"dsn" json:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" json:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time" json:"conn_max_idle_time"`
	LogLevel        string        `mapstructure:"log_level" json:"log_level"` // silent, error, warn, info
}

// InstanceConfig holds the on-disk instance layout.
type InstanceConfig struct {
	Dir string `mapstructure:"dir" json:"dir"`
}

// EngineConfig holds the upstream media engine connection configuration.
type EngineConfig struct {
	Address        string        `mapstructure:"address" json:"address"`
	TranscodeAudio bool          `mapstructure:"transcode_audio" json:"transcode_audio"`
	Timeout        time.Duration `mapstructure:"timeout" json:"timeout"`
}

// PoolConfig holds session pool tuning.
type PoolConfig struct {
	MaxSize           int           `mapstructure:"max_size" json:"max_size"`
	LockInTime        time.Duration `mapstructure:"lock_in_time" json:"lock_in_time"`
	LockInResetMax    time.Duration `mapstructure:"lock_in_reset_max" json:"lock_in_reset_max"`
	KeepaliveInterval time.Duration `mapstructure:"keepalive_interval" json:"keepalive_interval"`
	TouchOnPathProbe  *bool         `mapstructure:"touch_on_path_probe" json:"touch_on_path_probe"`
}

// TouchOnPathProbeEnabled reports whether a multistream-path lookup refreshes
// the entry's last-used time. Defaults to true.
func (c PoolConfig) TouchOnPathProbeEnabled() bool {
	return c.TouchOnPathProbe == nil || *c.TouchOnPathProbe
}

// TitleFilterConfig selects which scraped titles become catalog entries.
// Rules are evaluated in struct order; the first that fires wins.
type TitleFilterConfig struct {
	AlwaysExcludeWords  []string `mapstructure:"always_exclude_words" json:"always_exclude_words"`
	AlwaysIncludeWords  []string `mapstructure:"always_include_words" json:"always_include_words"`
	ExcludeWords        []string `mapstructure:"exclude_words" json:"exclude_words"`
	IncludeWords        []string `mapstructure:"include_words" json:"include_words"`
	RegexPostprocessing []string `mapstructure:"regex_postprocessing" json:"regex_postprocessing"`
}

// HTMLSourceConfig describes an HTML page scrape source.
type HTMLSourceConfig struct {
	Name         string            `mapstructure:"name" json:"name"`
	URL          string            `mapstructure:"url" json:"url"`
	TargetClass  string            `mapstructure:"target_class" json:"target_class"`
	CheckSibling bool              `mapstructure:"check_sibling" json:"check_sibling"`
	TitleFilter  TitleFilterConfig `mapstructure:"title_filter" json:"title_filter"`
}

// IPTVSourceConfig describes an IPTV M3U scrape source.
type IPTVSourceConfig struct {
	Name        string            `mapstructure:"name" json:"name"`
	URL         string            `mapstructure:"url" json:"url"`
	TitleFilter TitleFilterConfig `mapstructure:"title_filter" json:"title_filter"`
}

// APISourceConfig describes a JSON API scrape source.
type APISourceConfig struct {
	Name        string            `mapstructure:"name" json:"name"`
	URL         string            `mapstructure:"url" json:"url"`
	TitleFilter TitleFilterConfig `mapstructure:"title_filter" json:"title_filter"`
}

// ScraperConfig holds catalog scrape configuration.
type ScraperConfig struct {
	Interval     time.Duration      `mapstructure:"interval" json:"interval"`
	CacheTTL     time.Duration      `mapstructure:"cache_ttl" json:"cache_ttl"`
	HTMLCacheTTL time.Duration      `mapstructure:"html_cache_ttl" json:"html_cache_ttl"`
	HTMLSources  []HTMLSourceConfig `mapstructure:"html_sources" json:"html_sources"`
	IPTVSources  []IPTVSourceConfig `mapstructure:"iptv_sources" json:"iptv_sources"`
	APISources   []APISourceConfig  `mapstructure:"api_sources" json:"api_sources"`
	// TvgLogoExternalURL is an optional logo mirror consulted before source
	// supplied logo URLs.
	TvgLogoExternalURL string `mapstructure:"tvg_logo_external_url" json:"tvg_logo_external_url"`
	// NameOverrides maps content-ids to display titles that replace whatever
	// the sources scraped.
	NameOverrides map[string]string `mapstructure:"name_overrides" json:"name_overrides"`
}

// EPGSourceConfig describes one XMLTV guide source.
type EPGSourceConfig struct {
	URL            string            `mapstructure:"url" json:"url"`
	Format         string            `mapstructure:"format" json:"format"` // xml, xml.gz
	TvgIDOverrides map[string]string `mapstructure:"tvg_id_overrides" json:"tvg_id_overrides"`
}

// RemoteSettingsConfig holds the periodic remote configuration fetch.
type RemoteSettingsConfig struct {
	URL      string        `mapstructure:"url" json:"url"`
	Interval time.Duration `mapstructure:"interval" json:"interval"`
}

// UserConfig is one gateway user. The stream token doubles as the XC password.
type UserConfig struct {
	Username    string `mapstructure:"username" json:"username"`
	StreamToken string `mapstructure:"stream_token" json:"stream_token"`
}

// AuthConfig holds gateway authentication.
type AuthConfig struct {
	AdminPassword string       `mapstructure:"admin_password" json:"admin_password"`
	Users         []UserConfig `mapstructure:"users" json:"users"`
}

// Load reads configuration from the given config file and environment
// variables. Environment variables take precedence over file configuration
// and are prefixed with ACERESTREAMER_, using underscores for nesting.
func Load(configPath string) (*AppConfig, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("json")
		v.AddConfigPath(".")
		v.AddConfigPath("./instance")
	}

	v.SetEnvPrefix("ACERESTREAMER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Normalise()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Defaults returns a configuration carrying only the default values, the
// same ones Load starts from before overlaying file and environment.
func Defaults() *AppConfig {
	v := viper.New()
	SetDefaults(v)

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		// The defaults always unmarshal into their own struct.
		panic(fmt.Sprintf("config defaults: %v", err))
	}
	cfg.Normalise()
	return &cfg
}

// SetDefaults configures default values for all configuration options.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.external_url", fmt.Sprintf("http://localhost:%d/", defaultServerPort))
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", defaultServerTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)
	v.SetDefault("server.cors_origins", []string{"*"})

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", defaultMaxOpenConns)
	v.SetDefault("database.max_idle_conns", defaultMaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", defaultConnMaxIdleTime)
	v.SetDefault("database.log_level", "warn")

	v.SetDefault("instance.dir", "./instance")

	v.SetDefault("engine.address", defaultEngineAddress)
	v.SetDefault("engine.transcode_audio", false)
	v.SetDefault("engine.timeout", defaultEngineTimeout)

	v.SetDefault("pool.max_size", defaultPoolMaxSize)
	v.SetDefault("pool.lock_in_time", defaultLockInTime)
	v.SetDefault("pool.lock_in_reset_max", defaultLockInResetMax)
	v.SetDefault("pool.keepalive_interval", defaultKeepaliveInterval)

	v.SetDefault("scraper.interval", defaultScrapeInterval)
	v.SetDefault("scraper.cache_ttl", defaultScrapeCacheTTL)
	v.SetDefault("scraper.html_cache_ttl", defaultHTMLCacheTTL)

	v.SetDefault("remote_settings.interval", defaultRemoteInterval)
}

// trailingSlash ensures a URL ends with exactly one "/".
func trailingSlash(u string) string {
	if u == "" {
		return u
	}
	return strings.TrimRight(u, "/") + "/"
}

// Normalise applies field-level coercions: URL trailing-slash normalisation
// and slug-derived source names for sources declared without one.
func (c *AppConfig) Normalise() {
	c.Engine.Address = trailingSlash(c.Engine.Address)
	c.Server.ExternalURL = trailingSlash(c.Server.ExternalURL)

	for i := range c.Scraper.HTMLSources {
		if c.Scraper.HTMLSources[i].Name == "" {
			c.Scraper.HTMLSources[i].Name = slugFromURL(c.Scraper.HTMLSources[i].URL)
		}
	}
	for i := range c.Scraper.IPTVSources {
		if c.Scraper.IPTVSources[i].Name == "" {
			c.Scraper.IPTVSources[i].Name = slugFromURL(c.Scraper.IPTVSources[i].URL)
		}
	}
	for i := range c.Scraper.APISources {
		if c.Scraper.APISources[i].Name == "" {
			c.Scraper.APISources[i].Name = slugFromURL(c.Scraper.APISources[i].URL)
		}
	}

	for i := range c.EPGs {
		if c.EPGs[i].Format == "" {
			if strings.HasSuffix(c.EPGs[i].URL, ".gz") {
				c.EPGs[i].Format = "xml.gz"
			} else {
				c.EPGs[i].Format = "xml"
			}
		}
	}
}

var slugStrip = regexp.MustCompile(`[^a-z0-9-]+`)

// slugFromURL derives a stable slug-shaped source name from a URL.
func slugFromURL(raw string) string {
	s := strings.ToLower(raw)
	s = strings.TrimPrefix(s, "https://")
	s = strings.TrimPrefix(s, "http://")
	s = slugStrip.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

// ValidationError carries per-item validation messages so HTTP mutations can
// report every failing field at once.
type ValidationError struct {
	Items []string
}

func (e *ValidationError) Error() string {
	return "invalid configuration: " + strings.Join(e.Items, "; ")
}

// Validate checks the configuration for errors. On failure it returns a
// *ValidationError listing every problem found.
func (c *AppConfig) Validate() error {
	var items []string

	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		items = append(items, fmt.Sprintf("server.port must be between 1 and %d", maxPort))
	}
	if _, err := url.Parse(c.Server.ExternalURL); c.Server.ExternalURL == "" || err != nil {
		items = append(items, "server.external_url must be a valid URL")
	}

	validDrivers := map[string]bool{"sqlite": true, "postgres": true, "mysql": true}
	if !validDrivers[c.Database.Driver] {
		items = append(items, "database.driver must be one of: sqlite, postgres, mysql")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		items = append(items, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		items = append(items, "logging.format must be one of: json, text")
	}

	if c.Instance.Dir == "" {
		items = append(items, "instance.dir is required")
	}

	if u, err := url.Parse(c.Engine.Address); err != nil || u.Scheme == "" || u.Host == "" {
		items = append(items, "engine.address must be an absolute URL")
	}

	if c.Pool.MaxSize < 1 {
		items = append(items, "pool.max_size must be at least 1")
	}
	if c.Pool.LockInTime <= 0 || c.Pool.LockInResetMax <= 0 {
		items = append(items, "pool.lock_in_time and pool.lock_in_reset_max must be positive")
	}

	if c.Scraper.Interval < time.Minute {
		items = append(items, "scraper.interval must be at least 1m")
	}

	seen := map[string]bool{}
	checkSource := func(kind, name, rawURL string) {
		if rawURL == "" {
			items = append(items, fmt.Sprintf("scraper.%s source %q has no url", kind, name))
		}
		if seen[name] {
			items = append(items, fmt.Sprintf("scraper source name %q is not unique", name))
		}
		seen[name] = true
	}
	for _, s := range c.Scraper.HTMLSources {
		checkSource("html", s.Name, s.URL)
	}
	for _, s := range c.Scraper.IPTVSources {
		checkSource("iptv", s.Name, s.URL)
	}
	for _, s := range c.Scraper.APISources {
		checkSource("api", s.Name, s.URL)
	}

	for _, f := range allTitleFilters(c) {
		for _, expr := range f.RegexPostprocessing {
			if _, err := regexp.Compile(expr); err != nil {
				items = append(items, fmt.Sprintf("invalid title filter regex %q: %v", expr, err))
			}
		}
	}

	for i, e := range c.EPGs {
		if e.URL == "" {
			items = append(items, fmt.Sprintf("epgs[%d].url is required", i))
		}
		if e.Format != "xml" && e.Format != "xml.gz" {
			items = append(items, fmt.Sprintf("epgs[%d].format must be xml or xml.gz", i))
		}
	}

	for i, u := range c.Auth.Users {
		if u.Username == "" || u.StreamToken == "" {
			items = append(items, fmt.Sprintf("auth.users[%d] needs both username and stream_token", i))
		}
	}

	if len(items) > 0 {
		return &ValidationError{Items: items}
	}
	return nil
}

func allTitleFilters(c *AppConfig) []TitleFilterConfig {
	var filters []TitleFilterConfig
	for _, s := range c.Scraper.HTMLSources {
		filters = append(filters, s.TitleFilter)
	}
	for _, s := range c.Scraper.IPTVSources {
		filters = append(filters, s.TitleFilter)
	}
	for _, s := range c.Scraper.APISources {
		filters = append(filters, s.TitleFilter)
	}
	return filters
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Instance directory layout. File creates inside these are idempotent;
// concurrent writers never collide because file names derive from unique
// source URLs or titles.

// ConfigPath returns the path of the persisted configuration file.
func (c *InstanceConfig) ConfigPath() string { return filepath.Join(c.Dir, "config.json") }

// BackupDir returns the directory holding timestamped config backups.
func (c *InstanceConfig) BackupDir() string { return filepath.Join(c.Dir, "config_backups") }

// DatabasePath returns the SQLite database path.
func (c *InstanceConfig) DatabasePath() string { return filepath.Join(c.Dir, "acerestreamer.db") }

// ScraperCacheDir returns the raw source body cache directory.
func (c *InstanceConfig) ScraperCacheDir() string { return filepath.Join(c.Dir, "scraper_cache") }

// TvgLogoDir returns the downloaded channel logo directory.
func (c *InstanceConfig) TvgLogoDir() string { return filepath.Join(c.Dir, "tvg_logos") }

// EPGDataDir returns the saved guide document directory.
func (c *InstanceConfig) EPGDataDir() string { return filepath.Join(c.Dir, "epg_data") }

// PlaylistDir returns the adhoc generated playlist directory.
func (c *InstanceConfig) PlaylistDir() string { return filepath.Join(c.Dir, "playlists") }

// LockFilePath returns the single-instance lock file path.
func (c *InstanceConfig) LockFilePath() string { return filepath.Join(c.Dir, "acerestreamer.lock") }
