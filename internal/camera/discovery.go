package camera

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/uball/court-agent/internal/faults"
	"github.com/uball/court-agent/internal/logging"
)

var log = logging.L("camera")

// interfacePrefixes are the kernel names the GoPro USB-Ethernet gadget shows
// up under.
var interfacePrefixes = []string{"enx", "usb"}

// defaultProbeBudget bounds each candidate-address probe.
const defaultProbeBudget = 1 * time.Second

// Camera is one discovered device on a point-to-point link.
type Camera struct {
	Interface string `json:"interface"`
	Addr      string `json:"addr"`
	Name      string `json:"name"`
	Angle     string `json:"angle"`
	Recording bool   `json:"recording"`
}

// Adapter owns the camera-address cache and the discovery path. Writers are
// the discovery path; readers are every operation path. Readers tolerate a
// stale entry — PeerAddressFor re-probes before trusting it.
type Adapter struct {
	mu          sync.Mutex
	cache       map[string]*Camera
	mapper      *AngleMapper
	probeBudget time.Duration

	// listInterfaces is swappable in tests.
	listInterfaces func() ([]net.Interface, error)
	interfaceAddrs func(*net.Interface) ([]net.Addr, error)
}

// NewAdapter creates an Adapter using the operator angle dictionary.
func NewAdapter(mapper *AngleMapper) *Adapter {
	return &Adapter{
		cache:          make(map[string]*Camera),
		mapper:         mapper,
		probeBudget:    defaultProbeBudget,
		listInterfaces: net.Interfaces,
		interfaceAddrs: func(ifi *net.Interface) ([]net.Addr, error) { return ifi.Addrs() },
	}
}

// Discover enumerates camera interfaces, probes candidate peer addresses and
// refreshes the cache. Interfaces that disappeared are evicted.
func (a *Adapter) Discover(ctx context.Context) ([]Camera, error) {
	ifaces, err := a.listInterfaces()
	if err != nil {
		return nil, fmt.Errorf("list interfaces: %w", err)
	}

	seen := make(map[string]bool)
	var cameras []Camera

	for i := range ifaces {
		ifi := &ifaces[i]
		if !isCameraInterface(ifi.Name) {
			continue
		}
		seen[ifi.Name] = true

		ownIP := a.interfaceIPv4(ifi)
		if ownIP == nil {
			continue
		}

		cam, err := a.probeInterface(ctx, ifi.Name, ownIP)
		if err != nil {
			log.Warn("no camera answered on interface", "interface", ifi.Name, "error", err)
			continue
		}
		cameras = append(cameras, *cam)
	}

	a.mu.Lock()
	for name := range a.cache {
		if !seen[name] {
			log.Info("camera interface gone, evicting", "interface", name)
			delete(a.cache, name)
		}
	}
	a.mu.Unlock()

	return cameras, nil
}

// PeerAddressFor returns the camera address for an interface, re-probing a
// cached entry and re-discovering when it has gone stale.
func (a *Adapter) PeerAddressFor(ctx context.Context, ifaceName string) (string, error) {
	a.mu.Lock()
	cached, ok := a.cache[ifaceName]
	a.mu.Unlock()

	if ok && NewClient(cached.Addr).Probe(ctx, a.probeBudget) {
		return cached.Addr, nil
	}

	// Stale or missing: one re-discovery attempt before giving up.
	if _, err := a.Discover(ctx); err != nil {
		return "", err
	}

	a.mu.Lock()
	cached, ok = a.cache[ifaceName]
	a.mu.Unlock()
	if !ok {
		return "", faults.Newf(faults.CameraControl, "no camera reachable on interface %s", ifaceName)
	}
	return cached.Addr, nil
}

// ClientFor returns a control client for the camera behind an interface.
func (a *Adapter) ClientFor(ctx context.Context, ifaceName string) (*Client, error) {
	addr, err := a.PeerAddressFor(ctx, ifaceName)
	if err != nil {
		return nil, err
	}
	return NewClient(addr), nil
}

// ResolveAngle maps an advertised camera name to its angle code.
func (a *Adapter) ResolveAngle(ssid string) string {
	return a.mapper.Resolve(ssid)
}

// Cached returns the current cache contents (for status reporting).
func (a *Adapter) Cached() []Camera {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]Camera, 0, len(a.cache))
	for _, cam := range a.cache {
		out = append(out, *cam)
	}
	return out
}

func (a *Adapter) probeInterface(ctx context.Context, ifaceName string, ownIP net.IP) (*Camera, error) {
	for _, candidate := range candidatePeers(ownIP) {
		client := NewClient(candidate)
		if !client.Probe(ctx, a.probeBudget) {
			continue
		}

		state, err := client.GetState(ctx)
		if err != nil {
			return nil, err
		}

		cam := &Camera{
			Interface: ifaceName,
			Addr:      candidate,
			Name:      state.SSID,
			Angle:     a.mapper.Resolve(state.SSID),
			Recording: state.Recording,
		}

		a.mu.Lock()
		a.cache[ifaceName] = cam
		a.mu.Unlock()

		log.Info("camera discovered",
			"interface", ifaceName,
			"addr", candidate,
			"name", cam.Name,
			"angle", cam.Angle,
		)
		return cam, nil
	}

	return nil, fmt.Errorf("no candidate answered for %s (own %s)", ifaceName, ownIP)
}

func (a *Adapter) interfaceIPv4(ifi *net.Interface) net.IP {
	addrs, err := a.interfaceAddrs(ifi)
	if err != nil {
		return nil
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}
		ip := ipNet.IP.To4()
		if ip == nil {
			continue
		}
		// The device family hands out 172.x point-to-point addresses.
		if ip[0] == 172 {
			return ip
		}
	}
	return nil
}

// isCameraInterface reports whether a kernel interface name looks like a
// USB-Ethernet camera link.
func isCameraInterface(name string) bool {
	for _, prefix := range interfacePrefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

// candidateOctets derives the camera's likely last octet from our own. The
// gadget pairs .51 with .50 on newer firmware and uses .1 on older firmware.
func candidateOctets(own byte) []byte {
	switch own {
	case 50:
		return []byte{51, 1}
	case 51:
		return []byte{50, 1}
	default:
		out := make([]byte, 0, 3)
		for _, o := range []byte{51, 50, 1} {
			if o != own {
				out = append(out, o)
			}
		}
		return out
	}
}

// candidatePeers expands our IPv4 into the ordered candidate peer addresses.
func candidatePeers(ownIP net.IP) []string {
	ip4 := ownIP.To4()
	if ip4 == nil {
		return nil
	}

	octets := candidateOctets(ip4[3])
	peers := make([]string, 0, len(octets))
	for _, o := range octets {
		peers = append(peers, fmt.Sprintf("%d.%d.%d.%d", ip4[0], ip4[1], ip4[2], o))
	}
	return peers
}
