package proxy

// Negative-cache SOA synthesis for blocked replies, adapted from the
// teacher's genSOA (proxy/helpers.go). The teacher mints a
// verisign/AdGuard-flavored SOA with a long TTL for genuine negative
// caching; this proxy's blocked answer is a point-in-time local decision,
// so every numeric field collapses to the spec's zeroed/5-second values
// instead.

import "github.com/miekg/dns"

// negativeCacheZone is the owner name of the synthesized SOA record.
const negativeCacheZone = "dnsnet.dnsnet.invalid."

// blockedSOA returns the single additional-section SOA record appended to
// every synthesized blocked reply. Per §3, it is one fixed, pre-built
// record — owner name, mname, and rname are all dnsnet.dnsnet.invalid.,
// regardless of the name that was actually queried.
func blockedSOA() *dns.SOA {
	return &dns.SOA{
		Hdr: dns.RR_Header{
			Name:   negativeCacheZone,
			Rrtype: dns.TypeSOA,
			Class:  dns.ClassINET,
			Ttl:    5,
		},
		Ns:      negativeCacheZone,
		Mbox:    negativeCacheZone,
		Serial:  0,
		Refresh: 0,
		Retry:   0,
		Expire:  0,
		Minttl:  5,
	}
}
