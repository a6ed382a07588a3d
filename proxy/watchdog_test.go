package proxy

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWatchdogDisabledReportsInfiniteTimeout(t *testing.T) {
	wd := newVpnWatchdog(net.ParseIP("1.1.1.1"), false)

	require.Equal(t, -1, wd.pollTimeoutMillis())
	require.False(t, wd.onTimeout())
}

func TestWatchdogPollTimeoutGrowsAndCaps(t *testing.T) {
	wd := newVpnWatchdog(net.ParseIP("1.1.1.1"), true)
	wd.lastSent = timeNow()
	wd.lastReceived = wd.lastSent // probe already answered; none outstanding

	// Stub the probe so this test exercises only the timeout-growth state
	// machine, not a real socket bind/send.
	wd.probe = func() { wd.lastSent = timeNow() }

	prev := wd.pollTimeout
	for i := 0; i < 20; i++ {
		wd.onTimeout()
		// Pretend the reply arrived instantly so the next iteration still
		// exercises the timeout-growth branch rather than the
		// outstanding-probe branch.
		wd.lastReceived = wd.lastSent

		require.GreaterOrEqual(t, wd.pollTimeout, prev)
		prev = wd.pollTimeout
	}

	require.LessOrEqual(t, wd.pollTimeout, pollTimeoutEnd)
}

func TestWatchdogOutstandingProbeRequestsReconnectAndGrowsPenalty(t *testing.T) {
	wd := newVpnWatchdog(net.ParseIP("1.1.1.1"), true)
	wd.lastSent = timeNow()
	// lastReceived zero value is before lastSent: a probe is outstanding.

	need := wd.onTimeout()
	require.True(t, need)
	require.Equal(t, initPenaltyInc, wd.initPenalty)

	for i := 0; i < 100; i++ {
		wd.onTimeout()
	}

	require.LessOrEqual(t, wd.initPenalty, initPenaltyEnd)
}

func TestWatchdogOnPacketFromDeviceClearsOutstandingProbe(t *testing.T) {
	wd := newVpnWatchdog(net.ParseIP("1.1.1.1"), true)
	wd.lastSent = timeNow()

	require.True(t, wd.probeOutstanding())

	wd.onPacketFromDevice()

	require.False(t, wd.probeOutstanding())
}

func TestParseWatchdogTarget(t *testing.T) {
	v4, err := parseWatchdogTarget("1.1.1.1")
	require.NoError(t, err)
	require.NotNil(t, v4.To4())

	v6, err := parseWatchdogTarget("2001:4860:4860::8888")
	require.NoError(t, err)
	require.Nil(t, v6.To4())

	_, err = parseWatchdogTarget("not-an-address")
	require.Error(t, err)
}
