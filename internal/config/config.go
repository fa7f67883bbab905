// Package config loads marquee's settings. Values are layered: built-in
// defaults, then an optional YAML or JSONC file, then MARQUEE_* environment
// variables, then command-line flags.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/zsiec/marquee/internal/display"
	"github.com/zsiec/marquee/internal/distribution"
	"github.com/zsiec/marquee/internal/media"
)

// DefaultFrameInterval paces the display at 25 frames per second.
const DefaultFrameInterval = 40 * time.Millisecond

// Config is the complete runtime configuration.
type Config struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`

	// TextAddr is the TCP address for message submission.
	TextAddr string `yaml:"text_addr"`
	// UDPAddr is the UDP address for live frames.
	UDPAddr    string        `yaml:"udp_addr"`
	UDPTimeout time.Duration `yaml:"udp_timeout"`

	// Defaults is the path of the default lines file.
	Defaults string `yaml:"defaults"`

	Display DisplayConfig `yaml:"display"`
	API     APIConfig     `yaml:"api"`
	MDNS    MDNSConfig    `yaml:"mdns"`

	LogLevel string `yaml:"log_level"`
}

// DisplayConfig selects where frames go.
type DisplayConfig struct {
	Kind          string        `yaml:"kind"`
	Addr          string        `yaml:"addr"`
	FrameInterval time.Duration `yaml:"frame_interval"`
}

// APIConfig configures the HTTPS status API. An empty Addr disables it.
type APIConfig struct {
	Addr               string   `yaml:"addr"`
	H3                 bool     `yaml:"h3"`
	PreviewCompression string   `yaml:"preview_compression"`
	Hosts              []string `yaml:"hosts"`
}

// MDNSConfig configures LAN advertisement of the text port.
type MDNSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Instance string `yaml:"instance"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Width:      media.DefaultWidth,
		Height:     media.DefaultHeight,
		TextAddr:   ":1337",
		UDPAddr:    ":1337",
		UDPTimeout: 3 * time.Second,
		Defaults:   "default.lines",
		Display: DisplayConfig{
			Kind:          string(display.KindNone),
			FrameInterval: DefaultFrameInterval,
		},
		API: APIConfig{
			PreviewCompression: "lz4",
		},
		LogLevel: "info",
	}
}

// Load returns the defaults overlaid with the file at path. Files ending in
// .json or .jsonc may contain comments and trailing commas; anything else is
// read as YAML.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		// JSON is a subset of YAML, so one decoder handles durations
		// the same way for both formats.
		data = jsonc.ToJSON(data)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from MARQUEE_* variables found by lookup, which
// is usually os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}
	flag := func(key string, dst *bool) {
		if v, ok := lookup(key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}

	num("MARQUEE_WIDTH", &c.Width)
	num("MARQUEE_HEIGHT", &c.Height)
	str("MARQUEE_TEXT_ADDR", &c.TextAddr)
	str("MARQUEE_UDP_ADDR", &c.UDPAddr)
	dur("MARQUEE_UDP_TIMEOUT", &c.UDPTimeout)
	str("MARQUEE_DEFAULTS", &c.Defaults)
	str("MARQUEE_DISPLAY", &c.Display.Kind)
	str("MARQUEE_DISPLAY_ADDR", &c.Display.Addr)
	dur("MARQUEE_FRAME_INTERVAL", &c.Display.FrameInterval)
	str("MARQUEE_API_ADDR", &c.API.Addr)
	flag("MARQUEE_H3", &c.API.H3)
	flag("MARQUEE_MDNS", &c.MDNS.Enabled)
	str("MARQUEE_LOG_LEVEL", &c.LogLevel)

	return errors.Join(errs...)
}

// BindFlags registers a flag for every overridable field, defaulting to the
// current value, so parsing fs applies only the flags actually given.
func (c *Config) BindFlags(fs *pflag.FlagSet) {
	fs.IntVar(&c.Width, "width", c.Width, "display width in pixels")
	fs.IntVar(&c.Height, "height", c.Height, "display height in pixels")
	fs.StringVar(&c.TextAddr, "text-addr", c.TextAddr, "TCP address for text messages")
	fs.StringVar(&c.UDPAddr, "udp-addr", c.UDPAddr, "UDP address for live frames")
	fs.DurationVar(&c.UDPTimeout, "udp-timeout", c.UDPTimeout, "live sender ownership timeout")
	fs.StringVar(&c.Defaults, "defaults", c.Defaults, "path of the default lines file")
	fs.StringVar(&c.Display.Kind, "display", c.Display.Kind, "display backends, comma separated: none, udp, terminal")
	fs.StringVar(&c.Display.Addr, "display-addr", c.Display.Addr, "remote address for the udp display")
	fs.DurationVar(&c.Display.FrameInterval, "frame-interval", c.Display.FrameInterval, "minimum time between frames (0 disables pacing)")
	fs.StringVar(&c.API.Addr, "api-addr", c.API.Addr, "HTTPS API address (empty disables the API)")
	fs.BoolVar(&c.API.H3, "h3", c.API.H3, "also serve the API over HTTP/3")
	fs.BoolVar(&c.MDNS.Enabled, "mdns", c.MDNS.Enabled, "advertise the text port over mDNS")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log level: debug, info, warn or error")
}

// Geometry returns the configured display geometry.
func (c *Config) Geometry() media.Geometry {
	return media.Geometry{Width: c.Width, Height: c.Height}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if err := c.Geometry().Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.UDPTimeout <= 0 {
		errs = append(errs, fmt.Errorf("udp_timeout must be positive, got %v", c.UDPTimeout))
	}
	if c.Display.FrameInterval < 0 {
		errs = append(errs, fmt.Errorf("display.frame_interval must not be negative, got %v", c.Display.FrameInterval))
	}
	if c.Defaults == "" {
		errs = append(errs, errors.New("defaults is required"))
	}
	for name, addr := range map[string]string{"text_addr": c.TextAddr, "udp_addr": c.UDPAddr} {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	kinds, err := display.ParseKinds(c.Display.Kind)
	if err != nil {
		errs = append(errs, err)
	}
	if slices.Contains(kinds, display.KindUDP) && c.Display.Addr == "" {
		errs = append(errs, errors.New("display.addr is required for the udp display"))
	}

	if c.API.Addr != "" {
		if _, _, err := net.SplitHostPort(c.API.Addr); err != nil {
			errs = append(errs, fmt.Errorf("api.addr: %w", err))
		}
	}
	if _, err := distribution.ParseCompressionTag(c.API.PreviewCompression); err != nil {
		errs = append(errs, fmt.Errorf("api.preview_compression: %w", err))
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}
