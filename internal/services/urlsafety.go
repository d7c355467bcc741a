package services

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strings"
	"syscall"
	"time"

	"github.com/imyashkale/gengar-bark/internal/models"
)

// ErrBlockedAddress is returned by SafeDialer when a connection targets an
// address the URL policy rejects.
var ErrBlockedAddress = errors.New("connection to blocked address refused")

// Resolver looks up the addresses of a hostname. *net.Resolver satisfies it.
type Resolver interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

var blockedHostnames = map[string]bool{
	"localhost":                true,
	"localhost.localdomain":    true,
	"ip6-localhost":            true,
	"ip6-loopback":             true,
	"metadata":                 true,
	"metadata.google.internal": true,
	"instance-data":            true,
	"kubernetes.default":       true,
}

var blockedSuffixes = []string{".localhost", ".local", ".internal", ".svc.cluster.local"}

var reservedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("100.64.0.0/10"),
	netip.MustParsePrefix("192.0.0.0/24"),
	netip.MustParsePrefix("192.0.2.0/24"),
	netip.MustParsePrefix("198.18.0.0/15"),
	netip.MustParsePrefix("198.51.100.0/24"),
	netip.MustParsePrefix("203.0.113.0/24"),
	netip.MustParsePrefix("240.0.0.0/4"),
	netip.MustParsePrefix("::/96"),
	netip.MustParsePrefix("::ffff:0:0/96"),
	netip.MustParsePrefix("2002::/16"),
	netip.MustParsePrefix("64:ff9b::/96"),
	netip.MustParsePrefix("64:ff9b:1::/48"),
	netip.MustParsePrefix("100::/64"),
	netip.MustParsePrefix("2001:db8::/32"),
	netip.MustParsePrefix("fec0::/10"),
}

// URLValidator decides whether a server URL may be contacted from this process.
type URLValidator struct {
	resolver Resolver
	timeout  time.Duration
}

// NewURLValidator creates a validator. A nil resolver uses net.DefaultResolver.
func NewURLValidator(resolver Resolver, dnsTimeout time.Duration) *URLValidator {
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	if dnsTimeout <= 0 {
		dnsTimeout = 2 * time.Second
	}
	return &URLValidator{resolver: resolver, timeout: dnsTimeout}
}

// Validate classifies rawURL. Resolution failures are unsafe.
func (v *URLValidator) Validate(ctx context.Context, rawURL string) models.URLCheck {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return unsafe("url could not be parsed")
	}
	if !u.IsAbs() || u.Host == "" {
		return unsafe("url must be absolute")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return unsafe(fmt.Sprintf("scheme %q is not allowed", u.Scheme))
	}

	host := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	if host == "" {
		return unsafe("url has no hostname")
	}
	if isBlockedHostname(host) {
		return unsafe(fmt.Sprintf("hostname %q is internal", host))
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		if blocked, reason := BlockedAddress(addr); blocked {
			return unsafe(reason)
		}
		return models.URLCheck{Safe: true}
	}

	lookupCtx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	addrs, err := v.resolver.LookupNetIP(lookupCtx, "ip", host)
	if err != nil || len(addrs) == 0 {
		if errors.Is(lookupCtx.Err(), context.DeadlineExceeded) {
			return unsafe("hostname resolution timed out")
		}
		return unsafe("hostname could not be resolved")
	}

	for _, addr := range addrs {
		if blocked, reason := BlockedAddress(addr); blocked {
			return unsafe(fmt.Sprintf("%s resolves to a blocked address: %s", host, reason))
		}
	}

	return models.URLCheck{Safe: true}
}

func unsafe(reason string) models.URLCheck {
	return models.URLCheck{Safe: false, Reason: reason}
}

func isBlockedHostname(host string) bool {
	if blockedHostnames[host] {
		return true
	}
	for _, suffix := range blockedSuffixes {
		if strings.HasSuffix(host, suffix) {
			return true
		}
	}
	return false
}

// BlockedAddress reports whether addr is loopback, private, link-local,
// unspecified, multicast or otherwise reserved.
func BlockedAddress(addr netip.Addr) (bool, string) {
	addr = addr.Unmap()
	switch {
	case !addr.IsValid():
		return true, "invalid address"
	case addr.IsUnspecified():
		return true, fmt.Sprintf("%s is unspecified", addr)
	case addr.IsLoopback():
		return true, fmt.Sprintf("%s is loopback", addr)
	case addr.IsLinkLocalUnicast(), addr.IsLinkLocalMulticast():
		return true, fmt.Sprintf("%s is link-local", addr)
	case addr.IsPrivate():
		return true, fmt.Sprintf("%s is private", addr)
	case addr.IsMulticast(), addr.IsInterfaceLocalMulticast():
		return true, fmt.Sprintf("%s is multicast", addr)
	case addr.Is4() && addr == netip.AddrFrom4([4]byte{255, 255, 255, 255}):
		return true, fmt.Sprintf("%s is broadcast", addr)
	}
	if inner, ok := embeddedIPv4(addr); ok {
		if blocked, reason := BlockedAddress(inner); blocked {
			return true, fmt.Sprintf("%s embeds %s", addr, reason)
		}
	}
	for _, prefix := range reservedPrefixes {
		if prefix.Contains(addr) {
			return true, fmt.Sprintf("%s is reserved", addr)
		}
	}
	return false, ""
}

// RedactURL masks a URL's userinfo before it is logged or stored. Unparseable
// input is replaced entirely.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "[unparseable url]"
	}
	if u.User != nil {
		u.User = url.User("xxxxx")
	}
	return u.String()
}

var (
	ipv4CompatPrefix     = netip.MustParsePrefix("::/96")
	ipv4TranslatedPrefix = netip.MustParsePrefix("::ffff:0:0/96")
	sixToFourPrefix      = netip.MustParsePrefix("2002::/16")
	nat64Prefixes        = []netip.Prefix{
		netip.MustParsePrefix("64:ff9b::/96"),
		netip.MustParsePrefix("64:ff9b:1::/48"),
	}
)

// embeddedIPv4 returns the IPv4 address carried inside an IPv6 transition
// address. NAT64 addresses are read with the /96 layout.
func embeddedIPv4(addr netip.Addr) (netip.Addr, bool) {
	if !addr.Is6() {
		return netip.Addr{}, false
	}
	b := addr.As16()
	low := netip.AddrFrom4([4]byte{b[12], b[13], b[14], b[15]})
	switch {
	case ipv4CompatPrefix.Contains(addr), ipv4TranslatedPrefix.Contains(addr):
		return low, true
	case sixToFourPrefix.Contains(addr):
		return netip.AddrFrom4([4]byte{b[2], b[3], b[4], b[5]}), true
	}
	for _, prefix := range nat64Prefixes {
		if prefix.Contains(addr) {
			return low, true
		}
	}
	return netip.Addr{}, false
}

// SafeDialer returns a dialer that re-checks the resolved address at connect
// time, so a hostname repointed after validation cannot reach internal hosts.
func SafeDialer(timeout time.Duration) *net.Dialer {
	return &net.Dialer{
		Timeout: timeout,
		Control: func(network, address string, _ syscall.RawConn) error {
			host, _, err := net.SplitHostPort(address)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrBlockedAddress, err)
			}
			addr, err := netip.ParseAddr(host)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrBlockedAddress, err)
			}
			if blocked, reason := BlockedAddress(addr); blocked {
				return fmt.Errorf("%w: %s", ErrBlockedAddress, reason)
			}
			return nil
		},
	}
}
