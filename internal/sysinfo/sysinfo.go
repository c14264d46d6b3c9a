// Package sysinfo reports build and host information for the health
// endpoints and the version command.
package sysinfo

import (
	"net"
	"os"
	"runtime"
	"sync"
	"time"
)

var (
	// Version is the relay version, set at build time via ldflags.
	// Example: go build -ldflags="-X github.com/postalsys/carelay/internal/sysinfo.Version=1.0.0"
	Version = "dev"

	startTime     time.Time
	startTimeOnce sync.Once
)

func init() {
	startTimeOnce.Do(func() {
		startTime = time.Now()
	})
}

// Info describes the running process and its host.
type Info struct {
	Hostname    string   `json:"hostname"`
	OS          string   `json:"os"`
	Arch        string   `json:"arch"`
	GoVersion   string   `json:"go_version"`
	Version     string   `json:"version"`
	StartTime   int64    `json:"start_time"`
	Broadcasts  []string `json:"broadcast_addresses,omitempty"`
	IPAddresses []string `json:"ip_addresses,omitempty"`
}

// Collect gathers local system information.
func Collect() Info {
	hostname, _ := os.Hostname()

	return Info{
		Hostname:    hostname,
		OS:          runtime.GOOS,
		Arch:        runtime.GOARCH,
		GoVersion:   runtime.Version(),
		Version:     Version,
		StartTime:   startTime.Unix(),
		Broadcasts:  BroadcastAddrs(),
		IPAddresses: GetLocalIPs(),
	}
}

// GetLocalIPs returns non-loopback IPv4 addresses.
func GetLocalIPs() []string {
	var ips []string
	for _, ipNet := range ipv4Nets() {
		if ipNet.IP.IsLoopback() {
			continue
		}
		ips = append(ips, ipNet.IP.String())
	}

	// Limit to first 10 IPs
	if len(ips) > 10 {
		ips = ips[:10]
	}

	return ips
}

// BroadcastAddrs returns the directed broadcast address of every IPv4
// network configured on the host, loopback included. These are the
// candidates for the relay forward address.
func BroadcastAddrs() []string {
	var out []string
	seen := make(map[string]bool)
	for _, ipNet := range ipv4Nets() {
		b := DirectedBroadcast(ipNet)
		if b == nil {
			continue
		}
		s := b.String()
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// DirectedBroadcast returns the broadcast address of an IPv4 network, or
// nil for non-IPv4 networks and /31 or /32 prefixes.
func DirectedBroadcast(n *net.IPNet) net.IP {
	ip := n.IP.To4()
	if ip == nil || len(n.Mask) != net.IPv4len {
		return nil
	}
	if ones, _ := n.Mask.Size(); ones > 30 {
		return nil
	}
	b := make(net.IP, net.IPv4len)
	for i := range b {
		b[i] = ip[i] | ^n.Mask[i]
	}
	return b
}

func ipv4Nets() []*net.IPNet {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil
	}

	var nets []*net.IPNet
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}
		ip4 := ipNet.IP.To4()
		if ip4 == nil {
			continue
		}
		mask := ipNet.Mask
		if len(mask) == net.IPv6len {
			mask = mask[12:]
		}
		nets = append(nets, &net.IPNet{IP: ip4, Mask: mask})
	}
	return nets
}

// StartTime returns the process start time.
func StartTime() time.Time {
	return startTime
}

// Uptime returns the process uptime as a duration.
func Uptime() time.Duration {
	return time.Since(startTime)
}

// UptimeSeconds returns the process uptime in seconds.
func UptimeSeconds() int64 {
	return int64(Uptime().Seconds())
}
