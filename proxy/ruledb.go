package proxy

// RuleDB is the blocking rule database: a build-once, atomically-swapped
// set of 64-bit hashes of lowercased hostnames. It generalizes the
// teacher's BlockedDomainsManager (proxy/blocked_domains_manager.go), which
// keeps a map[string]*Set of suffix buckets, to the flat hashed-name set
// the spec calls for — no suffix/wildcard matching, no per-list bucketing.

import (
	"hash/fnv"
	"sort"
	"strings"
	"sync"

	"github.com/AdguardTeam/golibs/log"
	"github.com/golang-collections/collections/set"
)

// RuleDB answers "is this hostname blocked?" against the most recently
// built rule set. The zero value blocks nothing.
type RuleDB struct {
	mu  sync.RWMutex
	set *set.Set
}

// NewRuleDB returns an empty RuleDB.
func NewRuleDB() *RuleDB {
	return &RuleDB{set: set.New()}
}

// hashName computes the 64-bit FNV-1a hash of the lowercased hostname.
// Host-list entries are ordinarily written without a trailing dot
// ("ads.example"), while a DNS question's QNAME is always a fully
// qualified wire-format name with one ("ads.example."); both sides are
// trimmed to the same bare form so a query actually matches the list it
// was meant to match.
func hashName(name string) uint64 {
	name = strings.ToLower(name)
	name = strings.TrimSuffix(name, ".")

	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	return h.Sum64()
}

// Build atomically replaces the internal hash set from items and
// exceptions, per the build() contract: filter IGNORE, stably sort DENY
// before ALLOW, expand file-backed items via the host-line grammar, then
// apply literal hostnames and exceptions directly.
func (r *RuleDB) Build(items, exceptions []HostEntry) {
	pending := set.New()

	apply := func(host string, act Action) {
		h := hashName(host)
		switch act {
		case ActionDeny:
			pending.Insert(h)
		case ActionAllow:
			pending.Remove(h)
		case ActionIgnore:
			// no-op
		}
	}

	denyBeforeAllow := func(entries []HostEntry) []HostEntry {
		out := make([]HostEntry, 0, len(entries))
		for _, e := range entries {
			if e.V2 == ActionIgnore {
				continue
			}
			out = append(out, e)
		}
		sort.SliceStable(out, func(i, j int) bool {
			return out[i].V2 == ActionDeny && out[j].V2 == ActionAllow
		})
		return out
	}

	for _, e := range denyBeforeAllow(items) {
		data := e.V1
		act := e.V2

		if isOpenableFile(data) {
			err := readHostFile(data, func(host string) {
				apply(host, act)
			})
			if err != nil {
				log.Error("ruledb: reading host file %q: %s", data, err)
			}
			continue
		}

		apply(data, act)
	}

	for _, e := range denyBeforeAllow(exceptions) {
		apply(e.V1, e.V2)
	}

	r.mu.Lock()
	r.set = pending
	r.mu.Unlock()
}

// IsBlocked returns whether the 64-bit hash of the lowercased name is
// present in the current set.
func (r *RuleDB) IsBlocked(name string) bool {
	h := hashName(name)

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.set == nil {
		return false
	}

	return r.set.Has(h)
}
