package dispatch

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"
)

// ssrfLookupTimeout bounds the DNS resolution used to validate a webhook
// host before dialing it.
const ssrfLookupTimeout = 5 * time.Second

// privateRanges blocks RFC 1918 space, loopback, link-local/cloud-metadata,
// and their IPv6 equivalents — a webhook agent must not be able to make the
// dispatcher reach internal infrastructure.
var privateRanges []*net.IPNet

func init() {
	for _, cidr := range []string{
		"127.0.0.0/8",
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"169.254.0.0/16", // link-local, also the cloud metadata endpoint
		"0.0.0.0/8",
		"::1/128",
		"fc00::/7",
		"fe80::/10",
	} {
		_, ipNet, _ := net.ParseCIDR(cidr)
		privateRanges = append(privateRanges, ipNet)
	}
}

// isPrivateIP reports whether ip is loopback, unspecified, or in a private
// or link-local range.
func isPrivateIP(ip net.IP) bool {
	if ip.IsUnspecified() || ip.IsLoopback() {
		return true
	}
	for _, cidr := range privateRanges {
		if cidr.Contains(ip) {
			return true
		}
	}
	return false
}

// resolvePublicIP resolves host and returns its first non-private address.
// A literal private IP or a cloud metadata hostname is rejected outright; a
// hostname resolving only to private addresses is rejected after DNS lookup.
func resolvePublicIP(ctx context.Context, host string) (net.IP, error) {
	host = strings.TrimSpace(host)
	if host == "" {
		return nil, fmt.Errorf("empty hostname")
	}
	switch strings.ToLower(strings.TrimSuffix(host, ".")) {
	case "metadata.google.internal", "metadata":
		return nil, fmt.Errorf("host %q is a cloud metadata hostname", host)
	}

	if ip := net.ParseIP(host); ip != nil {
		if isPrivateIP(ip) {
			return nil, fmt.Errorf("host %q is a private IP %s", host, ip)
		}
		return ip, nil
	}

	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("dns lookup failed for %q: %w", host, err)
	}
	for _, a := range addrs {
		if a.IP != nil && !isPrivateIP(a.IP) {
			return a.IP, nil
		}
	}
	return nil, fmt.Errorf("hostname %q resolves only to private addresses", host)
}

// ssrfSafeDialContext validates the destination before dialing and connects
// to the resolved public IP directly, so a TOCTOU DNS rebind between the
// check and the real dial cannot reach a private address.
func ssrfSafeDialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("ssrf_blocked: invalid address %s", addr)
	}

	lookupCtx, cancel := context.WithTimeout(ctx, ssrfLookupTimeout)
	defer cancel()

	ip, err := resolvePublicIP(lookupCtx, host)
	if err != nil {
		return nil, fmt.Errorf("ssrf_blocked: %w", err)
	}

	var d net.Dialer
	return d.DialContext(ctx, network, net.JoinHostPort(ip.String(), port))
}

// newSSRFSafeTransport returns an http.Transport whose dialer pins DNS
// resolution to a verified public IP for every connection it opens.
func newSSRFSafeTransport() *http.Transport {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = ssrfSafeDialContext
	return transport
}
