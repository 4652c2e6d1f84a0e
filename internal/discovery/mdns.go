// Package discovery advertises a lifx-home hub over mDNS/DNS-SD and finds
// hubs on the local network.
package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"
)

const (
	// ServiceType is the DNS-SD service type hubs register under.
	ServiceType = "_lifx-home._tcp"

	// ServiceDomain is the mDNS domain.
	ServiceDomain = "local."

	// DefaultScanTimeout bounds Browse when the caller gives no timeout.
	DefaultScanTimeout = 3 * time.Second
)

// Hub is one hub found by Browse.
type Hub struct {
	Instance string            `json:"instance"`
	Host     string            `json:"host"`
	IP       string            `json:"ip"`
	Port     int               `json:"port"`
	Version  string            `json:"version,omitempty"`
	Device   string            `json:"device,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// URL is the base URL of the hub's web API.
func (h Hub) URL() string {
	return "http://" + net.JoinHostPort(h.IP, strconv.Itoa(h.Port))
}

// Advertisement describes what a hub announces about itself.
type Advertisement struct {
	Instance string
	Port     int
	Version  string
	Device   string // name of the controlled light
}

// TXT renders the advertisement's TXT records.
func (a Advertisement) TXT() []string {
	txt := []string{"path=/api"}
	if a.Version != "" {
		txt = append(txt, "version="+a.Version)
	}
	if a.Device != "" {
		txt = append(txt, "device="+a.Device)
	}
	return txt
}

// Advertiser keeps a hub registered until Shutdown.
type Advertiser struct {
	server *zeroconf.Server
	logger *slog.Logger
}

// Advertise registers the hub on all multicast interfaces.
func Advertise(ad Advertisement, logger *slog.Logger) (*Advertiser, error) {
	logger = logger.With("component", "discovery")
	if ad.Instance == "" {
		return nil, fmt.Errorf("discovery: instance name is required")
	}
	if ad.Port <= 0 || ad.Port > 65535 {
		return nil, fmt.Errorf("discovery: invalid port %d", ad.Port)
	}
	server, err := zeroconf.Register(ad.Instance, ServiceType, ServiceDomain, ad.Port, ad.TXT(), nil)
	if err != nil {
		return nil, fmt.Errorf("discovery: register %q: %w", ad.Instance, err)
	}
	logger.Info("advertising hub", "instance", ad.Instance, "service", ServiceType, "port", ad.Port)
	return &Advertiser{server: server, logger: logger}, nil
}

// Shutdown withdraws the registration.
func (a *Advertiser) Shutdown() {
	if a == nil {
		return
	}
	a.server.Shutdown()
	a.logger.Info("advertisement withdrawn")
}

// Browse collects hubs answering within timeout. Entries that resolve to no
// address are skipped.
func Browse(ctx context.Context, timeout time.Duration) ([]Hub, error) {
	if timeout <= 0 {
		timeout = DefaultScanTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("discovery: create resolver: %w", err)
	}
	entries := make(chan *zeroconf.ServiceEntry)
	if err := resolver.Browse(ctx, ServiceType, ServiceDomain, entries); err != nil {
		return nil, fmt.Errorf("discovery: browse: %w", err)
	}

	var hubs []Hub
	seen := make(map[string]bool)
	for {
		select {
		case <-ctx.Done():
			return hubs, nil
		case entry, ok := <-entries:
			if !ok {
				return hubs, nil
			}
			hub, ok := hubFromEntry(entry)
			if !ok || seen[hub.Instance] {
				continue
			}
			seen[hub.Instance] = true
			hubs = append(hubs, hub)
		}
	}
}

// hubFromEntry converts a resolved service entry, preferring IPv4.
func hubFromEntry(entry *zeroconf.ServiceEntry) (Hub, bool) {
	if entry == nil {
		return Hub{}, false
	}
	var ip string
	if len(entry.AddrIPv4) > 0 {
		ip = entry.AddrIPv4[0].String()
	} else if len(entry.AddrIPv6) > 0 {
		ip = entry.AddrIPv6[0].String()
	}
	if ip == "" || entry.Port <= 0 {
		return Hub{}, false
	}

	meta := parseTXT(entry.Text)
	return Hub{
		Instance: entry.Instance,
		Host:     strings.TrimSuffix(entry.HostName, "."),
		IP:       ip,
		Port:     entry.Port,
		Version:  meta["version"],
		Device:   meta["device"],
		Metadata: meta,
	}, true
}

// parseTXT splits key=value records. A bare key maps to "".
func parseTXT(records []string) map[string]string {
	meta := make(map[string]string, len(records))
	for _, txt := range records {
		if txt == "" {
			continue
		}
		k, v, _ := strings.Cut(txt, "=")
		meta[k] = v
	}
	return meta
}
