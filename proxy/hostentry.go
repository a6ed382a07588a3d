package proxy

import (
	"github.com/barweiss/go-tuple"
)

// Action is the verdict a host-list entry carries for a hostname.
type Action int

const (
	// ActionDeny blocks the hostname with a synthesized negative answer.
	ActionDeny Action = iota
	// ActionAllow exempts the hostname from an otherwise-matching deny
	// entry.
	ActionAllow
	// ActionIgnore is a no-op entry, kept only so that list files can
	// comment out a host without deleting the line.
	ActionIgnore
)

// HostEntry is one line out of a host list: the `data` field (a hosts-file
// path or a literal hostname, verbatim — case matters for a filesystem
// path) paired with the action it carries and the opaque title of the list
// it came from, used for block_log attribution. Modeled as a 3-tuple the
// way the teacher threads a (domain, list) pair through its
// blocked-domains manager. Lowercasing of literal hostnames happens at
// apply time (hashName, parseHostLine), never here, so a file path's case
// survives to the isOpenableFile check.
type HostEntry = tuple.T3[string, Action, string]

// NewHostEntry builds a HostEntry. data is taken verbatim: RuleDB.Build
// decides whether it names an openable hosts-file or a literal hostname.
func NewHostEntry(data string, act Action, title string) HostEntry {
	return tuple.New3(data, act, title)
}
