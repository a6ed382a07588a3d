package proxy

// End-to-end scenarios for the DNS packet proxy, grounded on §8's
// concrete scenarios 1, 2, 3, and 4.

import (
	"net"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"
)

func buildQueryDatagram(t *testing.T, id uint16, qname string) []byte {
	t.Helper()

	msg := new(dns.Msg)
	msg.Id = id
	msg.RecursionDesired = true
	msg.Question = []dns.Question{{Name: dns.Fqdn(qname), Qtype: dns.TypeA, Qclass: dns.ClassINET}}

	payload, err := msg.Pack()
	require.NoError(t, err)

	raw, err := buildV4(
		[4]byte{10, 0, 0, 2}, 54321,
		[4]byte{10, 0, 0, 1}, 53,
		64, 0xbeef, payload,
	)
	require.NoError(t, err)

	return raw
}

func newTestProxy() (*DNSProxy, *wospQueue, *deviceWriteQueue) {
	wosp := newWOSPQueue()
	writeQueue := newDeviceWriteQueue()
	p := NewDNSProxy(wosp, writeQueue, func(int) {}, func(string, bool) {}, NewStats())
	return p, wosp, writeQueue
}

// Scenario 1: a blocked A query produces an immediate synthesized reply
// and no upstream socket.
func TestHandleRequestBlockedProducesImmediateReply(t *testing.T) {
	p, wosp, writeQueue := newTestProxy()

	var logged []struct {
		name    string
		allowed bool
	}
	p.blockLog = func(name string, allowed bool) {
		logged = append(logged, struct {
			name    string
			allowed bool
		}{name, allowed})
	}

	require.NoError(t, p.Initialize(
		[]HostEntry{NewHostEntry("ads.example", ActionDeny, "list")},
		nil, nil,
	))

	raw := buildQueryDatagram(t, 0x1234, "ads.example.")
	p.HandleRequest(raw)

	require.Equal(t, 0, wosp.len())
	require.Equal(t, 1, writeQueue.len())

	out := writeQueue.peekFront()
	d, err := parseDatagram(out)
	require.NoError(t, err)
	require.Equal(t, []byte{10, 0, 0, 1}, d.srcAddr)
	require.Equal(t, []byte{10, 0, 0, 2}, d.dstAddr)
	require.EqualValues(t, 53, d.srcPort)
	require.EqualValues(t, 54321, d.dstPort)

	resp := new(dns.Msg)
	require.NoError(t, resp.Unpack(d.payload))
	require.EqualValues(t, 0x1234, resp.Id)
	require.True(t, resp.Response)
	require.Equal(t, dns.RcodeSuccess, resp.Rcode)
	require.Empty(t, resp.Answer)
	require.Len(t, resp.Extra, 1)

	soa, ok := resp.Extra[0].(*dns.SOA)
	require.True(t, ok)
	require.Equal(t, negativeCacheZone, soa.Hdr.Name)
	require.EqualValues(t, 5, soa.Hdr.Ttl)
	require.EqualValues(t, 5, soa.Minttl)
	require.Zero(t, soa.Serial)

	require.Len(t, logged, 1)
	require.Equal(t, "ads.example", logged[0].name)
	require.False(t, logged[0].allowed)
}

// Scenario 2: an allowed query is forwarded on a fresh, protected UDP
// socket and a WOSP is appended; no write-queue entry yet.
func TestHandleRequestAllowedForwardsAndEnqueuesWOSP(t *testing.T) {
	p, wosp, writeQueue := newTestProxy()

	var protectedFd int
	var protectCalls int
	p.protect = func(fd int) {
		protectedFd = fd
		protectCalls++
	}

	var logged []string
	p.blockLog = func(name string, allowed bool) {
		if allowed {
			logged = append(logged, name)
		}
	}

	require.NoError(t, p.Initialize(
		[]HostEntry{NewHostEntry("ads.example", ActionAllow, "list")},
		nil, nil,
	))

	raw := buildQueryDatagram(t, 0x1234, "ads.example.")
	p.HandleRequest(raw)

	require.Equal(t, 0, writeQueue.len())
	require.Equal(t, 1, wosp.len())
	require.Equal(t, 1, protectCalls)
	require.NotZero(t, protectedFd)
	require.Equal(t, []string{"ads.example"}, logged)

	entry := wosp.snapshot()[0]
	require.NotNil(t, entry.sock)
	entry.sock.Close()
}

// Scenario 4: the last octet of the observed destination selects the
// upstream by index; an out-of-range index drops the datagram.
func TestTranslateUpstreamIndex(t *testing.T) {
	p, _, _ := newTestProxy()

	upstreams := [][]byte{
		net.ParseIP("198.51.100.10").To4(),
		net.ParseIP("198.51.100.11").To4(),
		net.ParseIP("198.51.100.12").To4(),
	}
	require.NoError(t, p.Initialize(nil, nil, upstreams))

	got, err := p.translate([]byte{10, 0, 0, 2})
	require.NoError(t, err)
	require.Equal(t, upstreams[2], got)

	_, err = p.translate([]byte{10, 0, 0, 9})
	require.Error(t, err)
}

// Passthrough: an empty upstream list means the observed destination is
// used verbatim.
func TestTranslateEmptyUpstreamsIsPassthrough(t *testing.T) {
	p, _, _ := newTestProxy()
	require.NoError(t, p.Initialize(nil, nil, nil))

	dst := []byte{10, 0, 0, 1}
	got, err := p.translate(dst)
	require.NoError(t, err)
	require.Equal(t, dst, got)
}

// Initialize rejects malformed upstream address entries (not 4 or 16
// bytes), per §6's external-interface contract.
func TestInitializeRejectsMalformedUpstreamAddress(t *testing.T) {
	p, _, _ := newTestProxy()

	err := p.Initialize(nil, nil, [][]byte{{1, 2, 3}})
	require.Error(t, err)
}

// Reply swap law: HandleResponse produces a datagram with source and
// destination swapped relative to the original request, and preserves the
// original request's identification.
func TestHandleResponseSwapsSourceAndDestination(t *testing.T) {
	p, _, writeQueue := newTestProxy()

	req := buildQueryDatagram(t, 0x4321, "example.com.")
	replyPayload := []byte("opaque upstream reply bytes")

	p.HandleResponse(req, replyPayload)

	require.Equal(t, 1, writeQueue.len())

	out := writeQueue.peekFront()
	d, err := parseDatagram(out)
	require.NoError(t, err)

	reqD, err := parseDatagram(req)
	require.NoError(t, err)

	require.Equal(t, reqD.dstAddr, d.srcAddr)
	require.Equal(t, reqD.srcAddr, d.dstAddr)
	require.Equal(t, reqD.dstPort, d.srcPort)
	require.Equal(t, reqD.srcPort, d.dstPort)
	require.Equal(t, reqD.identification, d.identification)
	require.Equal(t, replyPayload, d.payload)
}

// Non-UDP transports and empty datagrams are dropped silently: no crash,
// no write-queue or WOSP activity.
func TestHandleRequestDropsNonUDPAndEmpty(t *testing.T) {
	p, wosp, writeQueue := newTestProxy()
	require.NoError(t, p.Initialize(nil, nil, nil))

	p.HandleRequest(nil)
	require.Equal(t, 0, writeQueue.len())
	require.Equal(t, 0, wosp.len())

	raw := buildQueryDatagram(t, 1, "example.com.")
	raw[9] = 6 // flip protocol field to TCP
	p.HandleRequest(raw)
	require.Equal(t, 0, writeQueue.len())
	require.Equal(t, 0, wosp.len())
}
