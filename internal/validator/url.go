// Package validator rejects webhook URLs that are unparseable, carry a
// non-http(s) scheme, or resolve to a non-globally-routable IP. The DNS
// lookup is synchronous; if any resolved address is non-global the URL
// is rejected.
package validator

import (
	"context"
	"net"
	"net/url"

	"github.com/dhima/cronback-scheduler/internal/core"
)

// Resolver abstracts DNS lookup so tests can stub it without a real
// network call.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// Validator validates webhook URLs both at upsert time and before every
// dispatch attempt.
type Validator struct {
	resolver Resolver
	// SkipIPCheck mirrors CRONBACK__SKIP_PUBLIC_IP_VALIDATION: when true,
	// non-global IPs are allowed through (local development / tests).
	SkipIPCheck bool
}

// New builds a Validator using net.DefaultResolver.
func New(skipIPCheck bool) *Validator {
	return &Validator{resolver: net.DefaultResolver, SkipIPCheck: skipIPCheck}
}

// NewWithResolver builds a Validator against a custom Resolver, for tests.
func NewWithResolver(resolver Resolver, skipIPCheck bool) *Validator {
	return &Validator{resolver: resolver, SkipIPCheck: skipIPCheck}
}

// Validate parses rawURL, checks its scheme, and (unless SkipIPCheck)
// resolves its hostname and rejects the URL if any resolved address is
// non-globally-routable. Returns InvalidArgument on any failure.
func (v *Validator) Validate(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return core.InvalidArgument("UnparseableUrl")
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return core.InvalidArgument("InvalidScheme")
	}

	if v.SkipIPCheck {
		return nil
	}

	host := u.Hostname()
	if host == "" {
		return core.InvalidArgument("UnparseableUrl")
	}

	addrs, err := v.resolver.LookupIPAddr(ctx, host)
	if err != nil || len(addrs) == 0 {
		return core.InvalidArgument("NonRoutableIp")
	}

	for _, addr := range addrs {
		if !isGlobal(addr.IP) {
			return core.InvalidArgument("NonRoutableIp")
		}
	}

	return nil
}

// isGlobal reports whether ip is a globally-routable unicast address:
// not loopback, private (RFC 1918 and the IPv6 unique-local equivalent),
// link-local, multicast, or unspecified.
func isGlobal(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() || ip.IsMulticast() || ip.IsUnspecified() {
		return false
	}
	return true
}
