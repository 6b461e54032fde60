// Package config loads service settings from the environment and an optional
// config file. Every key can be set as KEPLER_<SECTION>_<KEY>, for example
// KEPLER_SERVER_ADDR or KEPLER_CATALOG_CACHE_DIR. A file named by
// KEPLER_CONFIG (YAML, TOML or JSON) is read first; environment variables
// override it. Invalid values are logged and replaced by their defaults.
package config

import (
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/cast"
	"github.com/spf13/viper"

	"github.com/star/keplertrack/internal/orbit"
	"github.com/star/keplertrack/internal/passes"
	"github.com/star/keplertrack/internal/propagation"
	"github.com/star/keplertrack/internal/stream"
	"github.com/star/keplertrack/internal/tle"
	"github.com/star/keplertrack/internal/transform"
)

// EnvPrefix is prepended to every environment variable.
const EnvPrefix = "KEPLER"

// Config is the complete service configuration.
type Config struct {
	Server      ServerConfig
	Catalog     CatalogConfig
	Propagation propagation.Config
	Passes      PassConfig
	Stream      StreamConfig
}

// ServerConfig covers the HTTP listener and logging.
type ServerConfig struct {
	Addr            string
	LogLevel        slog.Level
	ShutdownTimeout time.Duration
	AuthToken       string // bearer token for catalog refresh; empty leaves it open
	TrustProxy      bool   // take client addresses from X-Forwarded-For
}

// CatalogConfig covers fetching and caching element sets.
type CatalogConfig struct {
	EnableFetch      bool
	SourceURL        string
	ExtraSourceURLs  []string
	CacheDir         string
	MaxFiles         int
	RefreshInterval  time.Duration // 0 disables periodic refresh
	MinFetchInterval time.Duration
}

// PassConfig holds request defaults and limits for pass prediction.
type PassConfig struct {
	Defaults  passes.Options
	MaxWindow time.Duration
}

// StreamConfig enables and limits the SSE tracking stream. TrustProxy is
// taken from ServerConfig.
type StreamConfig struct {
	Enabled bool
	Limits  stream.Config
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.shutdown_timeout", "5s")
	v.SetDefault("server.auth_token", "")
	v.SetDefault("server.trust_proxy", false)

	v.SetDefault("catalog.enable_fetch", true)
	v.SetDefault("catalog.source_url", tle.DefaultSourceURL)
	v.SetDefault("catalog.extra_urls", "")
	v.SetDefault("catalog.cache_dir", "/tmp/keplertrack/tle")
	v.SetDefault("catalog.max_files", 5)
	v.SetDefault("catalog.refresh_interval", "6h")
	v.SetDefault("catalog.min_fetch_interval", tle.DefaultMinInterval.String())

	v.SetDefault("propagation.workers", runtime.NumCPU())
	v.SetDefault("propagation.tolerance", orbit.DefaultSolverConfig().Tolerance)
	v.SetDefault("propagation.max_iterations", orbit.DefaultSolverConfig().MaxIterations)
	v.SetDefault("propagation.stale_after", propagation.DefaultStaleAfter.String())
	v.SetDefault("propagation.max_track_points", 10000)

	d := passes.DefaultOptions()
	v.SetDefault("passes.min_elevation", d.MinElevation)
	v.SetDefault("passes.step", d.Step.String())
	v.SetDefault("passes.tolerance", d.Tolerance.String())
	v.SetDefault("passes.refraction", false)
	v.SetDefault("passes.refraction_threshold", transform.DefaultRefractionThresholdDeg)
	v.SetDefault("passes.max_window", "240h")

	v.SetDefault("stream.enabled", true)
	v.SetDefault("stream.max_per_ip", stream.DefaultMaxPerIP)
	v.SetDefault("stream.max_total", stream.DefaultMaxTotal)
	v.SetDefault("stream.keepalive", stream.DefaultKeepaliveInterval.String())
}

// Load reads the configuration. The only error is an unreadable config file
// named by KEPLER_CONFIG.
func Load(logger *slog.Logger) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.BindEnv("config"); err != nil {
		return Config{}, err
	}
	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		logger.Info("config file loaded", "path", path)
	}

	r := reader{v: v, logger: logger}
	cfg := Config{
		Server:      r.server(),
		Catalog:     r.catalog(),
		Propagation: r.propagation(),
		Passes:      r.passes(),
		Stream:      r.stream(),
	}
	cfg.Stream.Limits.TrustProxy = cfg.Server.TrustProxy

	logger.Info("configuration loaded",
		"addr", cfg.Server.Addr,
		"log_level", cfg.Server.LogLevel.String(),
		"auth_enabled", cfg.Server.AuthToken != "",
		"fetch_enabled", cfg.Catalog.EnableFetch,
		"source_url", cfg.Catalog.SourceURL,
		"extra_urls", cfg.Catalog.ExtraSourceURLs,
		"cache_dir", cfg.Catalog.CacheDir,
		"refresh_interval_seconds", cfg.Catalog.RefreshInterval.Seconds(),
		"workers", cfg.Propagation.Workers,
		"stale_after_hours", cfg.Propagation.StaleAfter.Hours(),
		"stream_enabled", cfg.Stream.Enabled,
	)
	return cfg, nil
}

// reader wraps viper lookups with validation. A value that fails to parse
// or falls outside its range is logged and replaced by the default.
type reader struct {
	v      *viper.Viper
	logger *slog.Logger
}

func (r reader) envName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

func (r reader) warn(key string, value any, def any) {
	r.logger.Warn("invalid "+r.envName(key)+" value, using default", "value", value, "default", def)
}

func (r reader) defaultValue(key string) any {
	d := viper.New()
	setDefaults(d)
	return d.Get(key)
}

func (r reader) getInt(key string, min int) int {
	def := cast.ToInt(r.defaultValue(key))
	raw := r.v.Get(key)
	n, err := cast.ToIntE(raw)
	if err != nil || n < min {
		r.warn(key, raw, def)
		return def
	}
	return n
}

func (r reader) getFloat(key string, min, max float64) float64 {
	def := cast.ToFloat64(r.defaultValue(key))
	raw := r.v.Get(key)
	f, err := cast.ToFloat64E(raw)
	if err != nil || f < min || f > max {
		r.warn(key, raw, def)
		return def
	}
	return f
}

func (r reader) getBool(key string) bool {
	def := cast.ToBool(r.defaultValue(key))
	raw := r.v.Get(key)
	b, err := cast.ToBoolE(raw)
	if err != nil {
		r.warn(key, raw, def)
		return def
	}
	return b
}

// getDuration accepts Go duration strings ("30s", "6h"). Bare numbers are
// rejected so that "30" is never read as 30ns.
func (r reader) getDuration(key string, min time.Duration) time.Duration {
	def, _ := time.ParseDuration(cast.ToString(r.defaultValue(key)))
	raw := r.v.Get(key)
	if d, ok := raw.(time.Duration); ok && d >= min {
		return d
	}
	s, err := cast.ToStringE(raw)
	if err != nil {
		r.warn(key, raw, def)
		return def
	}
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil || d < min {
		r.warn(key, raw, def)
		return def
	}
	return d
}

func (r reader) getList(key string) []string {
	raw := r.v.Get(key)
	var parts []string
	switch val := raw.(type) {
	case []any, []string:
		parts = cast.ToStringSlice(val)
	default:
		parts = strings.Split(cast.ToString(val), ",")
	}
	var out []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (r reader) server() ServerConfig {
	cfg := ServerConfig{
		Addr:            r.v.GetString("server.addr"),
		ShutdownTimeout: r.getDuration("server.shutdown_timeout", time.Second),
		AuthToken:       r.v.GetString("server.auth_token"),
		TrustProxy:      r.getBool("server.trust_proxy"),
	}
	level := r.v.GetString("server.log_level")
	if err := cfg.LogLevel.UnmarshalText([]byte(level)); err != nil {
		r.warn("server.log_level", level, "info")
		cfg.LogLevel = slog.LevelInfo
	}
	return cfg
}

func (r reader) catalog() CatalogConfig {
	return CatalogConfig{
		EnableFetch:      r.getBool("catalog.enable_fetch"),
		SourceURL:        r.v.GetString("catalog.source_url"),
		ExtraSourceURLs:  r.getList("catalog.extra_urls"),
		CacheDir:         r.v.GetString("catalog.cache_dir"),
		MaxFiles:         r.getInt("catalog.max_files", 1),
		RefreshInterval:  r.getDuration("catalog.refresh_interval", 0),
		MinFetchInterval: r.getDuration("catalog.min_fetch_interval", 0),
	}
}

func (r reader) propagation() propagation.Config {
	return propagation.Config{
		Workers: r.getInt("propagation.workers", 1),
		Solver: orbit.SolverConfig{
			Tolerance:     r.getFloat("propagation.tolerance", 1e-15, 1e-1),
			MaxIterations: r.getInt("propagation.max_iterations", 1),
		},
		StaleAfter:     r.getDuration("propagation.stale_after", time.Hour),
		MaxTrackPoints: r.getInt("propagation.max_track_points", 1),
	}
}

func (r reader) passes() PassConfig {
	opts := passes.Options{
		MinElevation: r.getFloat("passes.min_elevation", -90, 90),
		Step:         r.getDuration("passes.step", time.Second),
		Tolerance:    r.getDuration("passes.tolerance", time.Millisecond),
	}
	// Zero means "unset" to transform.Refraction, so the threshold must be
	// strictly positive.
	if r.getBool("passes.refraction") {
		opts.Refraction = transform.Refraction{
			Enabled:      true,
			ThresholdDeg: r.getFloat("passes.refraction_threshold", math.SmallestNonzeroFloat64, 90),
		}
	}
	return PassConfig{
		Defaults:  opts,
		MaxWindow: r.getDuration("passes.max_window", time.Hour),
	}
}

func (r reader) stream() StreamConfig {
	return StreamConfig{
		Enabled: r.getBool("stream.enabled"),
		Limits: stream.Config{
			MaxConcurrentPerIP: r.getInt("stream.max_per_ip", 1),
			MaxTotal:           r.getInt("stream.max_total", 1),
			KeepaliveInterval:  r.getDuration("stream.keepalive", time.Second),
		},
	}
}
