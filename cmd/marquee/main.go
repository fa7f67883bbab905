package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/zsiec/marquee/internal/animation"
	"github.com/zsiec/marquee/internal/arbiter"
	"github.com/zsiec/marquee/internal/certs"
	"github.com/zsiec/marquee/internal/config"
	"github.com/zsiec/marquee/internal/discovery"
	"github.com/zsiec/marquee/internal/display"
	"github.com/zsiec/marquee/internal/distribution"
	"github.com/zsiec/marquee/internal/glyph"
	textingest "github.com/zsiec/marquee/internal/ingest/text"
	"github.com/zsiec/marquee/internal/live"
	"github.com/zsiec/marquee/internal/queue"
)

var version = "dev"

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	configPath  string
	showVersion bool
}

func newFlagSet(cfg *config.Config, opts *options) *pflag.FlagSet {
	fs := pflag.NewFlagSet("marquee", pflag.ContinueOnError)
	fs.StringVar(&opts.configPath, "config", "", "path of a YAML or JSONC config file")
	fs.BoolVar(&opts.showVersion, "version", false, "print the version and exit")
	cfg.BindFlags(fs)
	return fs
}

// loadConfig layers defaults, the config file, MARQUEE_* variables and flags.
// Flags are parsed twice: once to find --config, then again on top of the
// loaded file so they take precedence.
func loadConfig(args []string) (*config.Config, options, error) {
	var opts options
	if err := newFlagSet(config.Default(), &opts).Parse(args); err != nil {
		return nil, opts, err
	}
	if opts.showVersion {
		return nil, opts, nil
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, opts, err
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, opts, err
	}
	if err := newFlagSet(cfg, &opts).Parse(args); err != nil {
		return nil, opts, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, opts, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, opts, nil
}

// newLogger writes human-readable logs to a terminal and JSON otherwise.
// DEBUG in the environment forces debug level.
func newLogger(w *os.File, levelName string) (*slog.Logger, error) {
	level, err := config.ParseLevel(levelName)
	if err != nil {
		return nil, err
	}
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if display.IsTerminal(w) {
		return slog.New(slog.NewTextHandler(w, opts)), nil
	}
	return slog.New(slog.NewJSONHandler(w, opts)), nil
}

func run(args []string) error {
	cfg, opts, err := loadConfig(args)
	if err != nil {
		return err
	}
	if opts.showVersion {
		fmt.Println("marquee", version)
		return nil
	}

	log, err := newLogger(os.Stderr, cfg.LogLevel)
	if err != nil {
		return err
	}
	slog.SetDefault(log)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx, cfg, os.Stdout, log)
	if err != nil {
		return err
	}
	defer a.closeSink()
	return a.serve(ctx)
}

// app holds every component. newApp builds it without starting anything, so
// a setup failure never leaves a listener or loop running.
type app struct {
	cfg   *config.Config
	log   *slog.Logger
	lines int

	textSrv *textingest.Server
	liveSrc *live.Source
	arb     *arbiter.Arbiter
	apiSrv  *distribution.Server
	advert  *discovery.Config

	closeSink func()
}

func newApp(ctx context.Context, cfg *config.Config, out *os.File, log *slog.Logger) (_ *app, err error) {
	geometry := cfg.Geometry()
	renderer := glyph.NewBitmap(geometry)

	lines, err := animation.LoadLines(cfg.Defaults)
	if err != nil {
		return nil, err
	}
	cycle, err := animation.NewCycle(renderer, lines, nil, log)
	if err != nil {
		return nil, err
	}

	q := queue.New(renderer, log)
	liveSrc := live.New(geometry, cfg.UDPTimeout, log)
	textSrv := textingest.NewServer(cfg.TextAddr, q, log)

	sink, closeSink, err := openSink(ctx, cfg, out, log)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			closeSink()
		}
	}()

	compression, err := distribution.ParseCompressionTag(cfg.API.PreviewCompression)
	if err != nil {
		return nil, err
	}
	relay := distribution.NewRelay(sink, compression, log)

	arb, err := arbiter.New(arbiter.Config{
		Queue:       q,
		Live:        liveSrc,
		Fallback:    cycle,
		Display:     display.NewPaced(relay, cfg.Display.FrameInterval),
		LiveTimeout: cfg.UDPTimeout,
		Log:         log,
	})
	if err != nil {
		return nil, err
	}

	var apiSrv *distribution.Server
	if cfg.API.Addr != "" {
		cert, err := certs.Generate(certs.DefaultValidity, cfg.API.Hosts...)
		if err != nil {
			return nil, fmt.Errorf("generate certificate: %w", err)
		}
		log.Info("certificate generated",
			"fingerprint", cert.FingerprintHex(),
			"expires", cert.NotAfter.Format(time.RFC3339),
		)

		apiSrv, err = distribution.NewServer(distribution.ServerConfig{
			Addr:     cfg.API.Addr,
			Cert:     cert,
			Geometry: geometry,
			Version:  version,
			H3:       cfg.API.H3,
			Relay:    relay,
			Queue:    q,
			Arbiter:  arb,
			Live:     liveSrc,
			Ingest:   textSrv,
			Log:      log,
		})
		if err != nil {
			return nil, err
		}
	}

	var advert *discovery.Config
	if cfg.MDNS.Enabled {
		port, err := portOf(cfg.TextAddr)
		if err != nil {
			return nil, err
		}
		livePort, err := portOf(cfg.UDPAddr)
		if err != nil {
			return nil, err
		}
		advert = &discovery.Config{
			Instance: cfg.MDNS.Instance,
			Port:     port,
			TXT: []string{
				"geometry=" + geometry.String(),
				discovery.TXTLivePort + "=" + strconv.Itoa(livePort),
				"version=" + version,
			},
		}
	}

	return &app{
		cfg:       cfg,
		log:       log,
		lines:     len(lines),
		textSrv:   textSrv,
		liveSrc:   liveSrc,
		arb:       arb,
		apiSrv:    apiSrv,
		advert:    advert,
		closeSink: closeSink,
	}, nil
}

// serve runs every component until ctx is cancelled or one of them fails.
func (a *app) serve(ctx context.Context) error {
	cfg := a.cfg
	a.log.Info("marquee starting",
		"version", version,
		"geometry", cfg.Geometry(),
		"text", cfg.TextAddr,
		"udp", cfg.UDPAddr,
		"api", cfg.API.Addr,
		"display", cfg.Display.Kind,
		"defaults", a.lines,
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.textSrv.Start(ctx) })
	g.Go(func() error { return a.liveSrc.Start(ctx, cfg.UDPAddr) })
	g.Go(func() error { return a.arb.Run(ctx) })

	if a.apiSrv != nil {
		g.Go(func() error { return a.apiSrv.Start(ctx) })
		if cfg.API.H3 {
			g.Go(func() error { return a.apiSrv.StartH3(ctx) })
		}
	}
	if a.advert != nil {
		g.Go(func() error { return discovery.Run(ctx, *a.advert, a.log) })
	}

	err := g.Wait()
	a.log.Info("marquee stopped")
	return err
}

// openSink builds the physical displays named by the configuration. Several
// kinds are combined with display.Multi. The returned func closes them all.
func openSink(ctx context.Context, cfg *config.Config, out *os.File, log *slog.Logger) (display.Display, func(), error) {
	kinds, err := display.ParseKinds(cfg.Display.Kind)
	if err != nil {
		return nil, nil, err
	}

	var (
		sinks   display.Multi
		closers []func()
	)
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	for _, kind := range kinds {
		switch kind {
		case display.KindUDP:
			sink, err := display.DialUDP(ctx, cfg.Display.Addr, log)
			if err != nil {
				closeAll()
				return nil, nil, err
			}
			sinks = append(sinks, sink)
			closers = append(closers, func() { _ = sink.Close() })
		case display.KindTerminal:
			if !display.IsTerminal(out) {
				log.Warn("output is not a terminal, preview drawn without colour")
			}
			term := display.NewTerminal(out, display.Profile(out))
			term.Clear()
			sinks = append(sinks, term)
			closers = append(closers, term.Restore)
		}
	}

	switch len(sinks) {
	case 0:
		return display.Discard{}, closeAll, nil
	case 1:
		return sinks[0], closeAll, nil
	default:
		return sinks, closeAll, nil
	}
}

func portOf(addr string) (int, error) {
	_, p, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, fmt.Errorf("address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(p)
	if err != nil || port <= 0 {
		return 0, fmt.Errorf("address %q: mDNS needs a fixed port", addr)
	}
	return port, nil
}
