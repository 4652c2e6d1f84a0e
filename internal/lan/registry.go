package lan

import (
	"errors"
	"fmt"
	"net/netip"
	"sort"
)

// DefaultPort is the UDP port LIFX lights listen on.
const DefaultPort = 56700

// ErrUnknownDevice is returned by Lookup for names not in the registry.
var ErrUnknownDevice = errors.New("lan: unknown device")

// Device is a light reachable at a fixed IPv4 address.
type Device struct {
	Name string     `json:"name"`
	Host netip.Addr `json:"host"`
	Port uint16     `json:"port"`
}

// Addr returns host:port for dialing.
func (d Device) Addr() string {
	return netip.AddrPortFrom(d.Host, d.Port).String()
}

// DeviceConfig is the configured address of one device.
type DeviceConfig struct {
	Address string
	Port    int
}

// Registry is an immutable name -> device table built once at startup.
type Registry struct {
	devices map[string]Device
	names   []string
}

// NewRegistry validates cfg and builds the registry. Port 0 means DefaultPort.
func NewRegistry(cfg map[string]DeviceConfig) (*Registry, error) {
	r := &Registry{devices: make(map[string]Device, len(cfg))}
	for name, dc := range cfg {
		if name == "" {
			return nil, errors.New("lan: device with empty name")
		}
		host, err := netip.ParseAddr(dc.Address)
		if err != nil {
			return nil, fmt.Errorf("device %q: %w", name, err)
		}
		if !host.Is4() {
			return nil, fmt.Errorf("device %q: %s is not an IPv4 address", name, dc.Address)
		}
		port := dc.Port
		if port == 0 {
			port = DefaultPort
		}
		if port < 1 || port > 65535 {
			return nil, fmt.Errorf("device %q: invalid port %d", name, port)
		}
		r.devices[name] = Device{Name: name, Host: host, Port: uint16(port)}
		r.names = append(r.names, name)
	}
	sort.Strings(r.names)
	return r, nil
}

// Lookup returns the device registered under name.
func (r *Registry) Lookup(name string) (Device, error) {
	d, ok := r.devices[name]
	if !ok {
		return Device{}, fmt.Errorf("%w: %q", ErrUnknownDevice, name)
	}
	return d, nil
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// Devices returns every device, sorted by name.
func (r *Registry) Devices() []Device {
	out := make([]Device, 0, len(r.names))
	for _, n := range r.names {
		out = append(out, r.devices[n])
	}
	return out
}
