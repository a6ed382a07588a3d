package proxy

// The WOSP (Waiting-On-Socket-Packet) queue tracks upstream UDP sockets
// that have an outbound query in flight and are waiting on a reply. It is
// modeled as a plain FIFO rather than reaching for the teacher's
// patrickmn/go-cache or bluele/gcache (see DESIGN.md): the event loop needs
// an index-stable slice to build its ppoll array from, which an
// expiring-entry cache does not guarantee.

import (
	"sync"
	"time"
)

const (
	wospMaxLen = 1024
	wospMaxAge = 10 * time.Second
)

// wosp is one outstanding query: the socket the query was sent on, and the
// original request datagram, kept verbatim so handle_response can re-parse
// it to recover the reply envelope (§4.3: "socket, original request bytes,
// now").
type wosp struct {
	sock        *udpSocket
	origRequest []byte
	insertedAt  time.Time
}

// wospQueue is a FIFO of outstanding wosp entries, capped at wospMaxLen and
// age-evicted at wospMaxAge, guarded by a mutex since both the TUN-read and
// socket-ready paths of the event loop touch it within the same iteration.
type wospQueue struct {
	mu      sync.Mutex
	entries []*wosp
}

func newWOSPQueue() *wospQueue {
	return &wospQueue{}
}

// add appends w, first evicting from the front for space (queue already
// holding 1024 entries, so it never grows past 1024) and then for age
// (front older than 10s), in that order. Each eviction closes the evicted
// socket.
func (q *wospQueue) add(w *wosp) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) >= wospMaxLen {
		q.evictFrontLocked()
	}

	for len(q.entries) > 0 && time.Since(q.entries[0].insertedAt) > wospMaxAge {
		q.evictFrontLocked()
	}

	q.entries = append(q.entries, w)
}

// evictFrontLocked removes and closes the front entry. Callers must hold
// q.mu.
func (q *wospQueue) evictFrontLocked() {
	front := q.entries[0]
	q.entries = q.entries[1:]
	if front.sock != nil {
		front.sock.Close()
	}
}

// len returns the current queue length.
func (q *wospQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.entries)
}

// snapshot returns the current entries in FIFO order, for the event loop to
// build its ppoll array from. The index of each element in the returned
// slice must match the index used by a subsequent remove call within the
// same loop iteration.
func (q *wospQueue) snapshot() []*wosp {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]*wosp, len(q.entries))
	copy(out, q.entries)

	return out
}

// remove deletes and returns the entry at index, transferring ownership of
// its socket to the caller.
func (q *wospQueue) remove(index int) *wosp {
	q.mu.Lock()
	defer q.mu.Unlock()

	if index < 0 || index >= len(q.entries) {
		return nil
	}

	w := q.entries[index]
	q.entries = append(q.entries[:index], q.entries[index+1:]...)

	return w
}

// removeEntry removes w by identity, wherever it currently sits in the
// queue, and returns whether it was found. Used by the event loop's
// WOSP-readiness pass, which resolves readiness against a snapshot taken
// before the queue could have been further mutated.
func (q *wospQueue) removeEntry(w *wosp) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, e := range q.entries {
		if e == w {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return true
		}
	}

	return false
}
