package proxy

// DNSProxy is the DNS packet proxy (§4.5): it sits between the TUN device
// and the upstream resolvers, deciding per query whether to synthesize a
// blocked reply locally or forward the query and wait for a real answer.
// It is grounded on the teacher's handleDNSRequest (proxy/server.go) and
// blocked_domains_manager.go decision path, generalized from the teacher's
// listener-socket model to raw IP/UDP datagrams read off a TUN descriptor.

import (
	"fmt"
	"strings"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/log"
	"github.com/miekg/dns"
)

// scratchReadBufSize is the event loop's TUN-read buffer size (§4.6 step
// 7); upstreamReadBufSize is the per-WOSP reply buffer size (§4.6 step 5).
const (
	scratchReadBufSize  = 32 * 1024
	upstreamReadBufSize = 1024
)

// BlockLogFunc logs one allow/deny decision. Fire-and-forget.
type BlockLogFunc func(name string, allowed bool)

// ProtectFunc asks the host platform to exclude fd from the VPN's own
// route. Infallible from the core's perspective.
type ProtectFunc func(fd int)

// DNSProxy implements handle_request/handle_response against a RuleDB,
// an upstream-server list, and the two owning queues of the event loop.
type DNSProxy struct {
	rules     *RuleDB
	upstreams [][]byte

	protect  ProtectFunc
	blockLog BlockLogFunc

	wosp       *wospQueue
	writeQueue *deviceWriteQueue

	stats *Stats
}

// NewDNSProxy constructs a DNSProxy wired to the given queues and
// callbacks. protect and blockLog must be non-blocking.
func NewDNSProxy(wosp *wospQueue, writeQueue *deviceWriteQueue, protect ProtectFunc, blockLog BlockLogFunc, stats *Stats) *DNSProxy {
	return &DNSProxy{
		rules:      NewRuleDB(),
		protect:    protect,
		blockLog:   blockLog,
		wosp:       wosp,
		writeQueue: writeQueue,
		stats:      stats,
	}
}

// Initialize delegates to the rule database build and stores the upstream
// list. Each upstream address must be exactly 4 or 16 bytes (§6: "a list
// of address byte arrays, either 4 or 16 bytes each"); a malformed entry
// is a fatal configuration error, reported before the loop starts.
func (p *DNSProxy) Initialize(items, exceptions []HostEntry, upstreams [][]byte) error {
	for i, u := range upstreams {
		if _, err := addrBitLen(u); err != nil {
			return fmt.Errorf("upstream %d: %w", i, err)
		}
	}

	p.rules.Build(items, exceptions)
	p.upstreams = upstreams

	return nil
}

// translate maps an observed destination address to the real upstream
// address it names, per §4.5's "Upstream translation". An empty upstream
// list means passthrough; otherwise the last octet of dst selects the
// upstream by index.
func (p *DNSProxy) translate(dst []byte) ([]byte, error) {
	if len(p.upstreams) == 0 {
		return dst, nil
	}

	if len(dst) == 0 {
		return nil, errors.Error("empty destination address")
	}

	idx := int(dst[len(dst)-1])
	if idx >= len(p.upstreams) {
		return nil, fmt.Errorf("upstream index %d out of range (have %d)", idx, len(p.upstreams))
	}

	return p.upstreams[idx], nil
}

// HandleRequest processes one raw IP datagram read off the TUN device.
func (p *DNSProxy) HandleRequest(raw []byte) {
	d, err := parseDatagram(raw)
	if err != nil {
		if !errors.Is(err, ErrNoUDP) {
			log.Debug("dnsproxy: parsing request datagram: %s", err)
		}
		return
	}

	upstream, err := p.translate(d.dstAddr)
	if err != nil {
		log.Debug("dnsproxy: translating upstream for request: %s", err)
		p.stats.recordDropped()
		return
	}

	msg := new(dns.Msg)
	if err = msg.Unpack(d.payload); err != nil || len(msg.Question) == 0 {
		log.Debug("dnsproxy: parsing dns query: %v", err)
		p.stats.recordDropped()
		return
	}

	// QNAME is wire-format FQDN (trailing dot); host-list entries
	// ordinarily are not, so the name block_log/IsBlocked see is
	// canonicalized to the bare form both sides agree on (§8 scenario 1
	// logs "ads.example", not "ads.example.").
	name := strings.TrimSuffix(strings.ToLower(msg.Question[0].Name), ".")
	blocked := p.rules.IsBlocked(name)
	p.blockLog(name, !blocked)
	p.stats.recordDecision(blocked)

	if blocked {
		p.replyBlocked(raw, msg)
		return
	}

	p.forward(raw, d, upstream)
}

// replyBlocked synthesizes a blocked reply for msg and feeds it straight
// back through HandleResponse, producing an immediate answer from the
// original destination to the original source.
func (p *DNSProxy) replyBlocked(origRequest []byte, msg *dns.Msg) {
	resp := new(dns.Msg)
	resp.SetReply(msg)
	resp.Rcode = dns.RcodeSuccess
	resp.Answer = nil
	resp.Extra = append(resp.Extra, blockedSOA())

	payload, err := resp.Pack()
	if err != nil {
		log.Debug("dnsproxy: packing blocked reply: %s", err)
		return
	}

	p.HandleResponse(origRequest, payload)
}

// forward rebuilds the query onto a fresh upstream socket and enqueues a
// WOSP, per §4.5 step 7.
func (p *DNSProxy) forward(origRequest []byte, d *datagram, upstream []byte) {
	sock, err := newUDPSocket()
	if err != nil {
		log.Debug("dnsproxy: creating upstream socket: %s", err)
		return
	}

	p.protect(sock.Fd())

	_, err = sock.WriteTo(d.payload, upstream, 53)
	if err != nil {
		sock.Close()
		if isTransientSendError(err) {
			log.Debug("dnsproxy: transient error sending upstream query: %s", err)
			return
		}
		log.Debug("dnsproxy: sending upstream query: %s", err)
		return
	}

	p.wosp.add(&wosp{
		sock:        sock,
		origRequest: append([]byte(nil), origRequest...),
		insertedAt:  time.Now(),
	})
}

// HandleResponse builds a reply IP/UDP datagram with source and
// destination swapped relative to originalRequest and enqueues it for the
// device writer.
func (p *DNSProxy) HandleResponse(originalRequest []byte, responsePayload []byte) {
	d, err := parseDatagram(originalRequest)
	if err != nil {
		log.Debug("dnsproxy: parsing original request for reply: %s", err)
		return
	}

	var out []byte
	switch d.version {
	case 4:
		var src, dst [4]byte
		copy(src[:], d.dstAddr)
		copy(dst[:], d.srcAddr)
		out, err = buildV4(src, d.dstPort, dst, d.srcPort, d.ttl, d.identification, responsePayload)
	case 6:
		var src, dst [16]byte
		copy(src[:], d.dstAddr)
		copy(dst[:], d.srcAddr)
		out, err = buildV6(src, d.dstPort, dst, d.srcPort, d.trafficClass, d.flowLabel, d.hopLimit, responsePayload)
	default:
		err = fmt.Errorf("unsupported ip version %d", d.version)
	}

	if err != nil {
		log.Debug("dnsproxy: building reply datagram: %s", err)
		return
	}

	p.writeQueue.add(out)
}

// receiveFrom drains one datagram from w's socket and routes it through
// HandleResponse, per the event loop's WOSP-readiness step.
func (p *DNSProxy) receiveFrom(w *wosp) {
	buf := make([]byte, upstreamReadBufSize)
	n, err := w.sock.Read(buf)
	w.sock.Close()
	if err != nil {
		log.Debug("dnsproxy: reading upstream reply: %s", err)
		return
	}

	p.HandleResponse(w.origRequest, buf[:n])
}
