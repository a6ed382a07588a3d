package proxy

// VpnWatchdog is a small state machine that treats any inbound packet on
// the TUN device as proof the route to the network is alive, and falls
// back to an active UDP probe when the interface goes quiet. Constants and
// state-transition shape are grounded on the original Rust
// VpnWatchdog (original_source/libnet/src/lib.rs); send_probe's IPv6-then-
// IPv4 wildcard bind is this proxy's own resolution of that source's
// unfinished fallback logic (see SPEC_FULL.md §4.4.1).

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/AdguardTeam/golibs/log"
)

const (
	pollTimeoutStart = 1000 * time.Millisecond
	pollTimeoutEnd   = 4_096_000 * time.Millisecond
	pollTimeoutWait  = 7000 * time.Millisecond
	pollTimeoutGrow  = 4

	initPenaltyStart = 0 * time.Millisecond
	initPenaltyEnd   = 5000 * time.Millisecond
	initPenaltyInc   = 200 * time.Millisecond

	dnsProbePort = 53
)

// VpnWatchdog tracks the current poll timeout and the outstanding-probe
// state. A zero value is usable but disabled; construct with
// newVpnWatchdog to enable it.
type VpnWatchdog struct {
	enabled bool
	target  net.IP

	pollTimeout time.Duration
	initPenalty time.Duration

	lastSent     time.Time
	lastReceived time.Time

	// probe is the out-of-band network call onTimeout makes when no
	// probe is outstanding; a field rather than a direct sendProbe call
	// so tests can stub out the real socket bind.
	probe func()
}

// newVpnWatchdog returns a watchdog targeting target. If enabled is false,
// pollTimeout always reports infinite and on_timeout never requests a
// reconnect.
func newVpnWatchdog(target net.IP, enabled bool) *VpnWatchdog {
	w := &VpnWatchdog{
		enabled:     enabled,
		target:      target,
		pollTimeout: pollTimeoutStart,
		initPenalty: initPenaltyStart,
	}
	w.probe = w.sendProbe

	return w
}

// init blocks for the current init_penalty, if positive. Called once per
// loop startup.
func (w *VpnWatchdog) init() {
	if w.initPenalty > 0 {
		time.Sleep(w.initPenalty)
	}
}

// pollTimeoutMillis returns the timeout, in milliseconds, the event loop
// should pass to ppoll: -1 (infinite) when disabled, the fixed waiting
// window when a probe is outstanding, otherwise the current poll_timeout.
func (w *VpnWatchdog) pollTimeoutMillis() int {
	if !w.enabled {
		return -1
	}

	if w.probeOutstanding() {
		return int(pollTimeoutWait / time.Millisecond)
	}

	return int(w.pollTimeout / time.Millisecond)
}

// probeOutstanding reports whether a probe has been sent but no packet has
// been received since.
func (w *VpnWatchdog) probeOutstanding() bool {
	return !w.lastSent.IsZero() && w.lastReceived.Before(w.lastSent)
}

// onPacketFromDevice records proof of life.
func (w *VpnWatchdog) onPacketFromDevice() {
	if w.enabled {
		w.lastReceived = timeNow()
	}
}

// onTimeout is called when ppoll returns with no ready descriptors. It
// returns whether the caller should treat this as network loss and
// reconnect.
func (w *VpnWatchdog) onTimeout() (needReconnect bool) {
	if !w.enabled {
		return false
	}

	if w.probeOutstanding() {
		w.initPenalty += initPenaltyInc
		if w.initPenalty > initPenaltyEnd {
			w.initPenalty = initPenaltyEnd
		}

		return true
	}

	w.pollTimeout *= pollTimeoutGrow
	if w.pollTimeout > pollTimeoutEnd {
		w.pollTimeout = pollTimeoutEnd
	}

	w.probe()

	return false
}

// sendProbe binds a wildcard UDP socket on port 53, preferring IPv6 and
// falling back to IPv4, and sends a zero-length datagram to the watchdog
// target. Failures are logged and swallowed: a probe is a best-effort
// backstop, not a required step.
func (w *VpnWatchdog) sendProbe() {
	conn, err := net.ListenUDP("udp6", &net.UDPAddr{Port: dnsProbePort})
	if err != nil {
		conn, err = net.ListenUDP("udp4", &net.UDPAddr{Port: dnsProbePort})
	}
	if err != nil {
		log.Debug("watchdog: could not bind a probe socket (ipv6 or ipv4): %s", err)
		return
	}
	defer func() { _ = conn.Close() }()

	_, err = conn.WriteToUDP(nil, &net.UDPAddr{IP: w.target, Port: dnsProbePort})
	if err != nil {
		log.Debug("watchdog: sending probe to %s: %s", w.target, err)
		return
	}

	w.lastSent = timeNow()
}

// timeNow exists so tests can substitute a deterministic clock without
// reaching into package-global state.
var timeNow = time.Now

// parseWatchdogTarget validates the run_vpn watchdog-target text argument:
// dotted-quad selects v4, colon-bearing selects v6, anything else is a
// fatal configuration error (§6).
func parseWatchdogTarget(text string) (net.IP, error) {
	ip := net.ParseIP(text)
	if ip == nil {
		return nil, fmt.Errorf("invalid watchdog target address %q", text)
	}

	isV6 := strings.Contains(text, ":")
	if isV6 {
		if ip.To16() == nil || ip.To4() != nil {
			return nil, fmt.Errorf("watchdog target %q is not a valid ipv6 address", text)
		}
	} else {
		if ip.To4() == nil {
			return nil, fmt.Errorf("watchdog target %q is not a valid ipv4 address", text)
		}
	}

	return ip, nil
}
