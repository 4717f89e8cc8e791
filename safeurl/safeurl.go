// Package safeurl validates what callers hand to OmniFetch before it reaches
// the browser or the database: target URLs (scheme, host, private-network
// guard) and blueprint identifiers.
package safeurl

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ErrUnsafeScheme is returned when a URL uses a non-HTTP(S) scheme.
var ErrUnsafeScheme = errors.New("safeurl: only http and https schemes are allowed")

// ErrPrivateTarget is returned when a URL targets a private or loopback address.
var ErrPrivateTarget = errors.New("safeurl: URL targets a private or loopback address")

// ErrNoHost is returned for URLs without a hostname.
var ErrNoHost = errors.New("safeurl: URL has no host")

// Validate checks that rawURL is an absolute http/https URL with a host and
// returns its normalised form. Unless allowPrivate is set, hosts resolving
// to a private, loopback or link-local address are rejected.
func Validate(ctx context.Context, rawURL string, allowPrivate bool) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("safeurl: invalid URL: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", ErrUnsafeScheme
	}
	u.Scheme = scheme
	host := u.Hostname()
	if host == "" {
		return "", ErrNoHost
	}
	if allowPrivate {
		return u.String(), nil
	}

	if ip := net.ParseIP(host); ip != nil {
		if isPrivateIP(ip) {
			return "", ErrPrivateTarget
		}
		return u.String(), nil
	}
	if strings.EqualFold(host, "localhost") || strings.HasSuffix(strings.ToLower(host), ".localhost") {
		return "", ErrPrivateTarget
	}

	addrs, err := net.DefaultResolver.LookupHost(ctx, host)
	if err != nil {
		// Unresolvable now; navigation will report the real failure.
		return u.String(), nil
	}
	for _, a := range addrs {
		if ip := net.ParseIP(a); ip != nil && isPrivateIP(ip) {
			return "", ErrPrivateTarget
		}
	}
	return u.String(), nil
}

// ValidateIdentifier rejects identifiers that contain characters unsuitable
// for URL path segments. Allows alphanumeric, underscore, hyphen and dot.
func ValidateIdentifier(s string) error {
	if s == "" {
		return fmt.Errorf("safeurl: identifier must not be empty")
	}
	if len(s) > 128 {
		return fmt.Errorf("safeurl: identifier too long (max 128)")
	}
	for _, r := range s {
		if !isIdentChar(r) {
			return fmt.Errorf("safeurl: invalid character %q in identifier", r)
		}
	}
	return nil
}

func isIdentChar(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9') || r == '_' || r == '-' || r == '.'
}

var privateNets = func() []*net.IPNet {
	var nets []*net.IPNet
	for _, cidr := range []string{
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"100.64.0.0/10",
		"169.254.0.0/16",
		"fc00::/7",
	} {
		_, n, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(err)
		}
		nets = append(nets, n)
	}
	return nets
}()

func isPrivateIP(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsUnspecified() {
		return true
	}
	if ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return true
	}
	for _, n := range privateNets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}
