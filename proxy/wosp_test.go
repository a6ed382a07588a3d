package proxy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWOSPQueueAddAndSnapshotOrder(t *testing.T) {
	q := newWOSPQueue()

	a := &wosp{insertedAt: time.Now()}
	b := &wosp{insertedAt: time.Now()}
	q.add(a)
	q.add(b)

	require.Equal(t, 2, q.len())
	snap := q.snapshot()
	require.Same(t, a, snap[0])
	require.Same(t, b, snap[1])
}

func TestWOSPQueueEvictsOldestOverCapacity(t *testing.T) {
	q := newWOSPQueue()

	first := &wosp{insertedAt: time.Now()}
	q.add(first)
	for i := 1; i < wospMaxLen; i++ {
		q.add(&wosp{insertedAt: time.Now()})
	}
	require.Equal(t, wospMaxLen, q.len())

	q.add(&wosp{insertedAt: time.Now()})

	require.Equal(t, wospMaxLen, q.len())
	snap := q.snapshot()
	for _, w := range snap {
		require.NotSame(t, first, w)
	}
}

func TestWOSPQueueEvictsAgedEntries(t *testing.T) {
	q := newWOSPQueue()

	stale := &wosp{insertedAt: time.Now().Add(-2 * wospMaxAge)}
	q.entries = append(q.entries, stale)

	q.add(&wosp{insertedAt: time.Now()})

	require.Equal(t, 1, q.len())
	require.NotSame(t, stale, q.snapshot()[0])
}

func TestWOSPQueueRemoveByIndex(t *testing.T) {
	q := newWOSPQueue()
	a := &wosp{insertedAt: time.Now()}
	b := &wosp{insertedAt: time.Now()}
	q.add(a)
	q.add(b)

	removed := q.remove(0)
	require.Same(t, a, removed)
	require.Equal(t, 1, q.len())
	require.Same(t, b, q.snapshot()[0])
}

func TestWOSPQueueRemoveEntryByIdentity(t *testing.T) {
	q := newWOSPQueue()
	a := &wosp{insertedAt: time.Now()}
	b := &wosp{insertedAt: time.Now()}
	c := &wosp{insertedAt: time.Now()}
	q.add(a)
	q.add(b)
	q.add(c)

	require.True(t, q.removeEntry(b))
	require.Equal(t, 2, q.len())
	require.False(t, q.removeEntry(b))

	snap := q.snapshot()
	require.Same(t, a, snap[0])
	require.Same(t, c, snap[1])
}

func TestDeviceWriteQueueDropsOldestOnOverflow(t *testing.T) {
	q := newDeviceWriteQueue()

	for i := 0; i < deviceWriteQueueCap+5; i++ {
		q.add([]byte{byte(i)})
	}

	require.Equal(t, deviceWriteQueueCap, q.len())
	require.Equal(t, byte(5), q.peekFront()[0])
}
