// Package discovery advertises the text ingestion port over mDNS so clients
// on the local network can find the sign without configuration.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"io"
	stdlog "log"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/mdns"
)

// ServiceType is the DNS-SD service type of the text ingestion boundary.
const ServiceType = "_marquee._tcp"

// Config describes the advertised service.
type Config struct {
	// Instance defaults to the OS hostname.
	Instance string
	Port     int
	// TXT records, e.g. "geometry=40x16".
	TXT []string

	// HostName and IPs override detection. HostName must be fully qualified.
	HostName string
	IPs      []net.IP
}

// Advertiser answers mDNS queries for one service until shut down.
type Advertiser struct {
	log    *slog.Logger
	server *mdns.Server
}

func newService(cfg Config) (*mdns.MDNSService, error) {
	if cfg.Port <= 0 {
		return nil, errors.New("discovery: port is required")
	}
	instance := cfg.Instance
	if instance == "" {
		host, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("discovery: hostname: %w", err)
		}
		instance = host
	}
	service, err := mdns.NewMDNSService(instance, ServiceType, "", cfg.HostName, cfg.Port, cfg.IPs, cfg.TXT)
	if err != nil {
		return nil, fmt.Errorf("discovery: create mDNS service: %w", err)
	}
	return service, nil
}

// Advertise starts answering mDNS queries for cfg.
func Advertise(cfg Config, log *slog.Logger) (*Advertiser, error) {
	if log == nil {
		log = slog.Default()
	}
	service, err := newService(cfg)
	if err != nil {
		return nil, err
	}
	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return nil, fmt.Errorf("discovery: start mDNS server: %w", err)
	}
	log = log.With("component", "mdns")
	log.Info("advertising", "service", ServiceType, "instance", service.Instance, "port", cfg.Port)
	return &Advertiser{log: log, server: server}, nil
}

// Shutdown stops answering queries.
func (a *Advertiser) Shutdown() error {
	a.log.Info("mdns advertisement stopped")
	return a.server.Shutdown()
}

// Run advertises cfg until ctx is cancelled.
func Run(ctx context.Context, cfg Config, log *slog.Logger) error {
	a, err := Advertise(cfg, log)
	if err != nil {
		return err
	}
	<-ctx.Done()
	return a.Shutdown()
}

// Instance is one marquee sign that answered a browse.
type Instance struct {
	Name string
	Host string
	// TextPort is the advertised service port.
	TextPort int
	TXT      map[string]string
}

// TextAddr returns the host:port of the text ingestion boundary.
func (i Instance) TextAddr() string {
	return net.JoinHostPort(i.Host, strconv.Itoa(i.TextPort))
}

// LiveAddr returns the host:port of the live frame boundary, taken from the
// "udp" TXT record.
func (i Instance) LiveAddr() (string, bool) {
	port, err := strconv.Atoi(i.TXT[TXTLivePort])
	if err != nil || port <= 0 {
		return "", false
	}
	return net.JoinHostPort(i.Host, strconv.Itoa(port)), true
}

// TXTLivePort is the TXT key carrying the live UDP port.
const TXTLivePort = "udp"

func instanceFromEntry(e *mdns.ServiceEntry) (Instance, bool) {
	if e == nil || e.AddrV4 == nil || e.Port == 0 {
		return Instance{}, false
	}
	txt := make(map[string]string, len(e.InfoFields))
	for _, field := range e.InfoFields {
		k, v, _ := strings.Cut(field, "=")
		txt[k] = v
	}
	name, _, _ := strings.Cut(e.Name, "."+ServiceType+".")
	return Instance{
		Name:     strings.ReplaceAll(name, `\ `, " "),
		Host:     e.AddrV4.String(),
		TextPort: e.Port,
		TXT:      txt,
	}, true
}

// Browse queries the local network for marquee instances and calls found for
// each one that answers within timeout. It returns early if ctx is cancelled.
func Browse(ctx context.Context, timeout time.Duration, found func(Instance)) error {
	entries := make(chan *mdns.ServiceEntry, 8)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for e := range entries {
			if inst, ok := instanceFromEntry(e); ok {
				found(inst)
			}
		}
	}()
	err := mdns.QueryContext(ctx, &mdns.QueryParam{
		Service:     ServiceType,
		Domain:      "local",
		Timeout:     timeout,
		Entries:     entries,
		DisableIPv6: true,
		Logger:      stdlog.New(io.Discard, "", 0),
	})
	close(entries)
	<-done
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("discovery: browse: %w", err)
	}
	return nil
}
