package main

import (
	"fmt"
	"net"
	"strings"

	"github.com/dnsnet-go/dnsnetcore/proxy"
)

// buildHostEntries converts the yaml-sourced Items/Exceptions config
// entries into the proxy package's host entry type.
func buildHostEntries(options *Options) (items, exceptions []proxy.HostEntry, err error) {
	items, err = convertEntries(options.Items)
	if err != nil {
		return nil, nil, fmt.Errorf("items: %w", err)
	}

	exceptions, err = convertEntries(options.Exceptions)
	if err != nil {
		return nil, nil, fmt.Errorf("exceptions: %w", err)
	}

	return items, exceptions, nil
}

func convertEntries(entries []ConfigEntry) ([]proxy.HostEntry, error) {
	out := make([]proxy.HostEntry, 0, len(entries))

	for i, e := range entries {
		act, err := parseAction(e.State)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}

		out = append(out, proxy.NewHostEntry(e.Data, act, e.List))
	}

	return out, nil
}

func parseAction(state string) (proxy.Action, error) {
	switch strings.ToUpper(state) {
	case "DENY":
		return proxy.ActionDeny, nil
	case "ALLOW":
		return proxy.ActionAllow, nil
	case "IGNORE":
		return proxy.ActionIgnore, nil
	default:
		return 0, fmt.Errorf("unrecognized state %q", state)
	}
}

// buildUpstreams parses the textual upstream addresses into the raw
// 4-or-16-byte form proxy.DNSProxy.translate indexes into.
func buildUpstreams(addrs []string) ([][]byte, error) {
	out := make([][]byte, 0, len(addrs))

	for i, a := range addrs {
		ip := net.ParseIP(a)
		if ip == nil {
			return nil, fmt.Errorf("upstream %d: invalid address %q", i, a)
		}

		if v4 := ip.To4(); v4 != nil {
			out = append(out, []byte(v4))
		} else {
			out = append(out, []byte(ip.To16()))
		}
	}

	return out, nil
}
