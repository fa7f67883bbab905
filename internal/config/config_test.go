package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func env(vars map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := vars[key]
		return v, ok
	}
}

func TestDefaultIsValid(t *testing.T) {
	t.Parallel()

	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v", err)
	}
	if got := cfg.Geometry().FrameSize(); got != 1920 {
		t.Errorf("frame size = %d, want 1920", got)
	}
	if cfg.UDPTimeout != 3*time.Second {
		t.Errorf("UDPTimeout = %v, want 3s", cfg.UDPTimeout)
	}
}

func TestLoadEmptyPath(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.TextAddr != ":1337" {
		t.Errorf("TextAddr = %q, want %q", cfg.TextAddr, ":1337")
	}
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "marquee.yaml", `
width: 80
udp_timeout: 5s
display:
  kind: udp
  addr: 10.0.0.5:1337
  frame_interval: 20ms
api:
  addr: ":8443"
  h3: true
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Width != 80 || cfg.Height != 16 {
		t.Errorf("geometry = %v, want 80x16", cfg.Geometry())
	}
	if cfg.UDPTimeout != 5*time.Second {
		t.Errorf("UDPTimeout = %v, want 5s", cfg.UDPTimeout)
	}
	if cfg.Display.Kind != "udp" || cfg.Display.Addr != "10.0.0.5:1337" {
		t.Errorf("display = %+v", cfg.Display)
	}
	if cfg.Display.FrameInterval != 20*time.Millisecond {
		t.Errorf("FrameInterval = %v, want 20ms", cfg.Display.FrameInterval)
	}
	if !cfg.API.H3 || cfg.API.Addr != ":8443" {
		t.Errorf("api = %+v", cfg.API)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoadJSONC(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "marquee.jsonc", `{
  // a taller sign
  "height": 32,
  "udp_timeout": "1500ms",
  "mdns": {"enabled": true, "instance": "lobby"}, /* trailing comma next */
}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Height != 32 {
		t.Errorf("Height = %d, want 32", cfg.Height)
	}
	if cfg.UDPTimeout != 1500*time.Millisecond {
		t.Errorf("UDPTimeout = %v, want 1.5s", cfg.UDPTimeout)
	}
	if !cfg.MDNS.Enabled || cfg.MDNS.Instance != "lobby" {
		t.Errorf("mdns = %+v", cfg.MDNS)
	}
}

func TestLoadErrors(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load of a missing file succeeded")
	}
	bad := writeFile(t, "bad.yaml", "width: [1, 2\n")
	if _, err := Load(bad); err == nil {
		t.Error("Load of malformed YAML succeeded")
	}
}

func TestApplyEnv(t *testing.T) {
	t.Parallel()

	cfg := Default()
	err := cfg.ApplyEnv(env(map[string]string{
		"MARQUEE_WIDTH":       "64",
		"MARQUEE_UDP_TIMEOUT": "10s",
		"MARQUEE_DISPLAY":     "terminal",
		"MARQUEE_MDNS":        "true",
		"MARQUEE_API_ADDR":    "",
	}))
	if err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}
	if cfg.Width != 64 {
		t.Errorf("Width = %d, want 64", cfg.Width)
	}
	if cfg.UDPTimeout != 10*time.Second {
		t.Errorf("UDPTimeout = %v, want 10s", cfg.UDPTimeout)
	}
	if cfg.Display.Kind != "terminal" || !cfg.MDNS.Enabled {
		t.Errorf("display kind %q, mdns %v", cfg.Display.Kind, cfg.MDNS.Enabled)
	}
}

func TestApplyEnvInvalid(t *testing.T) {
	t.Parallel()

	cfg := Default()
	err := cfg.ApplyEnv(env(map[string]string{
		"MARQUEE_WIDTH":       "wide",
		"MARQUEE_UDP_TIMEOUT": "soon",
	}))
	if err == nil {
		t.Fatal("ApplyEnv accepted invalid values")
	}
	for _, key := range []string{"MARQUEE_WIDTH", "MARQUEE_UDP_TIMEOUT"} {
		if !strings.Contains(err.Error(), key) {
			t.Errorf("error %q does not mention %s", err, key)
		}
	}
}

func TestFlagsOverrideEnvAndFile(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "marquee.yaml", "width: 80\nheight: 8\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.ApplyEnv(env(map[string]string{"MARQUEE_WIDTH": "64"})); err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	cfg.BindFlags(fs)
	if err := fs.Parse([]string{"--width", "100", "--display", "terminal"}); err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if cfg.Width != 100 {
		t.Errorf("Width = %d, want 100 from the flag", cfg.Width)
	}
	if cfg.Height != 8 {
		t.Errorf("Height = %d, want 8 from the file", cfg.Height)
	}
	if cfg.Display.Kind != "terminal" {
		t.Errorf("Display.Kind = %q, want terminal", cfg.Display.Kind)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"zero width", func(c *Config) { c.Width = 0 }, "geometry"},
		{"zero timeout", func(c *Config) { c.UDPTimeout = 0 }, "udp_timeout"},
		{"negative interval", func(c *Config) { c.Display.FrameInterval = -time.Second }, "frame_interval"},
		{"bad text addr", func(c *Config) { c.TextAddr = "1337" }, "text_addr"},
		{"unknown display", func(c *Config) { c.Display.Kind = "usb" }, "unknown kind"},
		{"udp without addr", func(c *Config) { c.Display.Kind = "udp" }, "display.addr"},
		{"udp in list without addr", func(c *Config) { c.Display.Kind = "terminal,udp" }, "display.addr"},
		{"none combined", func(c *Config) { c.Display.Kind = "none,terminal" }, "cannot be combined"},
		{"bad api addr", func(c *Config) { c.API.Addr = "localhost" }, "api.addr"},
		{"bad compression", func(c *Config) { c.API.PreviewCompression = "gzip" }, "preview_compression"},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, "log level"},
		{"no defaults", func(c *Config) { c.Defaults = "" }, "defaults"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate succeeded, want error")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("error %q does not contain %q", err, tc.wantErr)
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
	}
	for _, tc := range tests {
		got, err := ParseLevel(tc.in)
		if err != nil {
			t.Errorf("ParseLevel(%q): %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}
