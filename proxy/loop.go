package proxy

// The event loop is the single-threaded cooperative scheduler the whole
// proxy runs on (§4.6, §5). It is grounded on the ppoll-based skeleton in
// original_source/libnet/src/lib.rs (vpn_loop/do_one) and on the teacher's
// own reach for golang.org/x/sys/unix for low-level socket options
// (proxy/proxy.go's requestsSema / listener setup uses the same import);
// no example repo does ppoll directly, so the call shape below follows
// jroosing-HydraDNS's (internal/server/udp_server.go) and
// Jigsaw-Code-outline-sdk's (x/examples/outline-cli/main.go) use of
// golang.org/x/sys/unix for raw descriptor and signal plumbing.

import (
	"fmt"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/log"
	"golang.org/x/sys/unix"
)

// RunVPNConfig bundles the run_vpn control-entry parameters (§6).
type RunVPNConfig struct {
	TunFd  int
	StopFd int

	Protect  ProtectFunc
	BlockLog BlockLogFunc
	Notify   NotifyFunc

	Items      []HostEntry
	Exceptions []HostEntry
	Upstreams  [][]byte

	WatchdogTarget  string
	WatchdogEnabled bool
}

// eventLoop owns every mutable resource for one VPN run: the TUN
// descriptor, the stop descriptor, the WOSP queue, the device-write queue,
// and the watchdog. There is exactly one of these per RunVPN call and it
// is never shared across goroutines.
type eventLoop struct {
	tunFd  int
	stopFd int

	proxy      *DNSProxy
	wosp       *wospQueue
	writeQueue *deviceWriteQueue
	watchdog   *VpnWatchdog

	notify  NotifyFunc
	scratch []byte
}

// RunVPN is the control-entry operation: it builds the loop state from cfg
// and runs until the stop descriptor signals shutdown or a fatal error
// occurs. It blocks until the loop terminates.
func RunVPN(cfg RunVPNConfig) error {
	target, err := parseWatchdogTarget(cfg.WatchdogTarget)
	if err != nil {
		return fmt.Errorf("configuring watchdog target: %w", err)
	}

	cfg.Notify(StatusStarting)

	wosp := newWOSPQueue()
	writeQueue := newDeviceWriteQueue()
	stats := NewStats()
	dnsProxy := NewDNSProxy(wosp, writeQueue, cfg.Protect, cfg.BlockLog, stats)
	if err = dnsProxy.Initialize(cfg.Items, cfg.Exceptions, cfg.Upstreams); err != nil {
		return fmt.Errorf("initializing dns proxy: %w", err)
	}

	wd := newVpnWatchdog(target, cfg.WatchdogEnabled)
	wd.init()

	l := &eventLoop{
		tunFd:      cfg.TunFd,
		stopFd:     cfg.StopFd,
		proxy:      dnsProxy,
		wosp:       wosp,
		writeQueue: writeQueue,
		watchdog:   wd,
		notify:     cfg.Notify,
		scratch:    make([]byte, scratchReadBufSize),
	}

	firstIteration := true

	for {
		cont, err := l.iterate()
		if err != nil {
			log.Error("event loop: %s", err)
			cfg.Notify(StatusReconnectingNetworkError)
			return err
		}

		if firstIteration {
			cfg.Notify(StatusRunning)
			firstIteration = false
		}

		if !cont {
			break
		}
	}

	cfg.Notify(StatusStopping)
	cfg.Notify(StatusStopped)

	return nil
}

// iterate runs one event-loop iteration, per §4.6. It returns (true, nil)
// to continue, (false, nil) on a clean stop-descriptor shutdown, and a
// non-nil error on a fatal condition.
func (l *eventLoop) iterate() (bool, error) {
	entries := l.wosp.snapshot()

	fds := make([]unix.PollFd, 0, 2+len(entries))

	tunEvents := int16(unix.POLLIN)
	if l.writeQueue.len() > 0 {
		tunEvents |= unix.POLLOUT
	}
	fds = append(fds, unix.PollFd{Fd: int32(l.tunFd), Events: tunEvents})

	fds = append(fds, unix.PollFd{Fd: int32(l.stopFd), Events: unix.POLLHUP | unix.POLLERR})

	for _, w := range entries {
		fds = append(fds, unix.PollFd{Fd: int32(w.sock.Fd()), Events: unix.POLLIN})
	}

	const tunIdx, stopIdx = 0, 1

	if fds[stopIdx].Revents != 0 {
		return false, nil
	}

	timeoutMillis := l.watchdog.pollTimeoutMillis()
	var timeout *unix.Timespec
	if timeoutMillis >= 0 {
		ts := unix.NsecToTimespec(int64(timeoutMillis) * 1_000_000)
		timeout = &ts
	}

	n, err := unix.Ppoll(fds, timeout, nil)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return true, nil
		}
		return false, fmt.Errorf("ppoll: %w", err)
	}

	if fds[stopIdx].Revents != 0 {
		return false, nil
	}

	if n == 0 {
		if l.watchdog.onTimeout() {
			l.notify(StatusWaitingForNetwork)
		}
		return true, nil
	}

	// Process WOSP readiness before the TUN read, so that a WOSP insertion
	// triggered by the TUN read below cannot invalidate the index space
	// used here (§4.6 step 5, §5 ordering guarantees).
	for i, w := range entries {
		if fds[2+i].Revents&unix.POLLIN == 0 {
			continue
		}

		if !l.wosp.removeEntry(w) {
			continue
		}

		l.proxy.receiveFrom(w)
	}

	if fds[tunIdx].Revents&unix.POLLOUT != 0 {
		if head := l.writeQueue.peekFront(); head != nil {
			_, werr := unix.Write(l.tunFd, head)
			if werr != nil {
				return false, fmt.Errorf("writing to tun device: %w", werr)
			}
			l.writeQueue.popFront()
		}
	}

	if fds[tunIdx].Revents&unix.POLLIN != 0 {
		n, rerr := unix.Read(l.tunFd, l.scratch)
		if rerr != nil {
			return false, fmt.Errorf("reading from tun device: %w", rerr)
		}

		if n == 0 {
			log.Warn("event loop: empty read from tun device")
			return true, nil
		}

		l.watchdog.onPacketFromDevice()
		l.proxy.HandleRequest(append([]byte(nil), l.scratch[:n]...))
	}

	return true, nil
}
