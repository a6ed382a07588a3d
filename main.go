// Package main is the reference command-line controller for dnsnetcore. It
// is a thin wrapper around proxy.RunVPN, grounded on the teacher's own
// main.go: a yaml-configurable Options struct layered under go-flags, and
// a signal handler that triggers shutdown.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/AdguardTeam/golibs/log"
	goFlags "github.com/jessevdk/go-flags"
	"golang.org/x/sys/unix"
	"gopkg.in/yaml.v3"

	"github.com/dnsnet-go/dnsnetcore/proxy"
)

// Options represents console arguments and the yaml configuration file,
// mixed the same way the teacher's Options struct lets flags override
// yaml-sourced defaults.
type Options struct {
	// ConfigPath is the yaml configuration file path, read without
	// goFlags so that yaml-sourced values are not overridden by goFlags
	// defaults.
	ConfigPath string `long:"config-path" description:"yaml configuration file with host items, exceptions, and upstreams" default:""`

	TunFd  int `yaml:"tun-fd" long:"tun-fd" description:"open file descriptor number for the TUN device" required:"true"`
	StopFd int `yaml:"stop-fd" long:"stop-fd" description:"stop descriptor number; accepted but not used, the CLI polls its own stop pipe, closed on SIGINT/SIGTERM" required:"true"`

	WatchdogTarget  string `yaml:"watchdog-target" long:"watchdog-target" description:"address the watchdog probes to detect network loss"`
	WatchdogEnabled bool   `yaml:"watchdog-enabled" long:"watchdog-enabled" description:"enable the idle-network watchdog" optional:"yes" optional-value:"true"`

	// Items is the host-list entries: each a yaml mapping with "data" (a
	// hosts-file path or a literal hostname), "state", and "list" keys.
	Items []ConfigEntry `yaml:"items"`

	// Exceptions overrides individual hostnames regardless of Items.
	Exceptions []ConfigEntry `yaml:"exceptions"`

	// Upstreams is the list of upstream resolver addresses, selected by
	// the last octet of the observed destination address.
	Upstreams []string `yaml:"upstreams" long:"upstream" description:"an upstream resolver address; index N answers translated destinations whose last octet is N"`

	Verbose bool `yaml:"verbose" short:"v" long:"verbose" description:"verbose logging" optional:"yes" optional-value:"true"`
}

// ConfigEntry is one yaml-sourced host-list or exception entry.
type ConfigEntry struct {
	Data  string `yaml:"data"`
	State string `yaml:"state"`
	List  string `yaml:"list"`
}

func main() {
	options := &Options{}

	for i, arg := range os.Args {
		if arg == "--config-path" && i+1 < len(os.Args) {
			readConfigFile(options, os.Args[i+1])
		} else if strings.HasPrefix(arg, "--config-path=") {
			readConfigFile(options, strings.TrimPrefix(arg, "--config-path="))
		}
	}

	parser := goFlags.NewParser(options, goFlags.Default)
	_, err := parser.Parse()
	if err != nil {
		if flagsErr, ok := err.(*goFlags.Error); ok && flagsErr.Type == goFlags.ErrHelp {
			os.Exit(0)
		}

		os.Exit(1)
	}

	if options.Verbose {
		log.SetLevel(log.DEBUG)
	}

	run(options)
}

func readConfigFile(options *Options, path string) {
	b, err := os.ReadFile(path)
	if err != nil {
		log.Fatalf("failed to read the config file %s: %v", path, err)
	}

	err = yaml.Unmarshal(b, options)
	if err != nil {
		log.Fatalf("failed to unmarshal the config file %s: %v", path, err)
	}
}

func run(options *Options) {
	items, exceptions, err := buildHostEntries(options)
	if err != nil {
		log.Fatalf("building host entries: %s", err)
	}

	upstreams, err := buildUpstreams(options.Upstreams)
	if err != nil {
		log.Fatalf("building upstream list: %s", err)
	}

	stopReadFd, stopWriteFd, err := newStopPipe()
	if err != nil {
		log.Fatalf("creating stop pipe: %s", err)
	}

	signalChannel := make(chan os.Signal, 1)
	signal.Notify(signalChannel, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-signalChannel
		log.Info("dnsnetcore: shutting down")
		_ = unix.Close(stopWriteFd)
	}()

	cfg := proxy.RunVPNConfig{
		TunFd:  options.TunFd,
		StopFd: stopReadFd,

		Protect: func(fd int) {
			log.Debug("dnsnetcore: protect(%d) is a no-op stand-in for the host platform's socket-protect facility", fd)
		},
		BlockLog: func(name string, allowed bool) {
			log.Info("dnsnetcore: query %q allowed=%t", name, allowed)
		},
		Notify: func(status proxy.Status) {
			log.Info("dnsnetcore: status -> %s", status)
		},

		Items:      items,
		Exceptions: exceptions,
		Upstreams:  upstreams,

		WatchdogTarget:  options.WatchdogTarget,
		WatchdogEnabled: options.WatchdogEnabled,
	}

	if err = proxy.RunVPN(cfg); err != nil {
		log.Fatalf("dnsnetcore: %s", err)
	}
}

// newStopPipe creates the stop descriptor pair the controller uses to
// signal shutdown: closing the write end delivers POLLHUP to the loop's
// read end (§6's "create a pipe" auxiliary boundary utility).
func newStopPipe() (readFd, writeFd int, err error) {
	var fds [2]int
	if err = unix.Pipe2(fds[:], 0); err != nil {
		return 0, 0, fmt.Errorf("pipe2: %w", err)
	}

	return fds[0], fds[1], nil
}
