package proxy

// Package-level IP/UDP datagram codec. dnsnet-core never sees an Ethernet
// frame — everything arriving on the TUN descriptor is a raw IP datagram —
// so this file builds and parses IPv4/IPv6 + UDP directly on byte slices
// rather than going through net.Conn.

import (
	"encoding/binary"
	"fmt"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/netutil"
)

// ErrNoUDP is returned by parseDatagram when the outer IP datagram does not
// carry a UDP payload.
const ErrNoUDP = errors.Error("no udp transport")

// ErrPayloadTooLarge is returned by the builders when the payload, plus the
// UDP header, does not fit the 16-bit IPv4 total-length / IPv6
// payload-length field.
const ErrPayloadTooLarge = errors.Error("payload too large to fit in a datagram")

const (
	ipv4HeaderLen = 20
	ipv6HeaderLen = 40
	udpHeaderLen  = 8

	protoUDP = 17
)

// datagram is the parsed view of an inbound IP/UDP packet.  Its addresses
// and payload are copies, so it stays valid after the read buffer is
// reused.
type datagram struct {
	version int // 4 or 6

	srcAddr []byte
	dstAddr []byte

	srcPort uint16
	dstPort uint16
	payload []byte

	// v4-only fields, preserved for the reply envelope.
	ttl            uint8
	identification uint16

	// v6-only fields, preserved for the reply envelope.
	trafficClass uint8
	flowLabel    uint32
	hopLimit     uint8
}

// buildV4 constructs an IPv4/UDP datagram carrying payload.
func buildV4(
	srcAddr [4]byte,
	srcPort uint16,
	dstAddr [4]byte,
	dstPort uint16,
	ttl uint8,
	identification uint16,
	payload []byte,
) ([]byte, error) {
	total := ipv4HeaderLen + udpHeaderLen + len(payload)
	if total > 0xffff {
		return nil, fmt.Errorf("building ipv4 datagram: %w", ErrPayloadTooLarge)
	}

	b := make([]byte, total)

	b[0] = 0x45 // version 4, IHL 5 (no options)
	b[1] = 0
	binary.BigEndian.PutUint16(b[2:4], uint16(total))
	binary.BigEndian.PutUint16(b[4:6], identification)
	binary.BigEndian.PutUint16(b[6:8], 0) // flags/fragment offset
	b[8] = ttl
	b[9] = protoUDP
	binary.BigEndian.PutUint16(b[10:12], 0) // checksum, filled below
	copy(b[12:16], srcAddr[:])
	copy(b[16:20], dstAddr[:])

	binary.BigEndian.PutUint16(b[10:12], ipChecksum(b[:ipv4HeaderLen]))

	writeUDP(b[ipv4HeaderLen:], srcPort, dstPort, payload)
	udpChecksum := pseudoHeaderChecksumV4(srcAddr, dstAddr, udpHeaderLen+len(payload), b[ipv4HeaderLen:])
	binary.BigEndian.PutUint16(b[ipv4HeaderLen+6:ipv4HeaderLen+8], udpChecksum)

	return b, nil
}

// buildV6 constructs an IPv6/UDP datagram carrying payload.
func buildV6(
	srcAddr [16]byte,
	srcPort uint16,
	dstAddr [16]byte,
	dstPort uint16,
	trafficClass uint8,
	flowLabel uint32,
	hopLimit uint8,
	payload []byte,
) ([]byte, error) {
	payloadLen := udpHeaderLen + len(payload)
	if payloadLen > 0xffff {
		return nil, fmt.Errorf("building ipv6 datagram: %w", ErrPayloadTooLarge)
	}

	b := make([]byte, ipv6HeaderLen+payloadLen)

	vtf := uint32(6)<<28 | uint32(trafficClass)<<20 | (flowLabel & 0xfffff)
	binary.BigEndian.PutUint32(b[0:4], vtf)
	binary.BigEndian.PutUint16(b[4:6], uint16(payloadLen))
	b[6] = protoUDP
	b[7] = hopLimit
	copy(b[8:24], srcAddr[:])
	copy(b[24:40], dstAddr[:])

	writeUDP(b[ipv6HeaderLen:], srcPort, dstPort, payload)
	udpChecksum := pseudoHeaderChecksumV6(srcAddr, dstAddr, payloadLen, b[ipv6HeaderLen:])
	binary.BigEndian.PutUint16(b[ipv6HeaderLen+6:ipv6HeaderLen+8], udpChecksum)

	return b, nil
}

// writeUDP fills in the UDP header (leaving the checksum zero) and copies
// the payload.
func writeUDP(b []byte, srcPort, dstPort uint16, payload []byte) {
	binary.BigEndian.PutUint16(b[0:2], srcPort)
	binary.BigEndian.PutUint16(b[2:4], dstPort)
	binary.BigEndian.PutUint16(b[4:6], uint16(udpHeaderLen+len(payload)))
	binary.BigEndian.PutUint16(b[6:8], 0)
	copy(b[udpHeaderLen:], payload)
}

// parseDatagram dissects a raw IP datagram read off the TUN descriptor.
// Only IPv4/IPv6 + UDP is recognized; anything else yields ErrNoUDP.
func parseDatagram(b []byte) (*datagram, error) {
	if len(b) == 0 {
		return nil, errors.Error("empty datagram")
	}

	switch b[0] >> 4 {
	case 4:
		return parseV4(b)
	case 6:
		return parseV6(b)
	default:
		return nil, fmt.Errorf("unrecognized ip version %d: %w", b[0]>>4, ErrNoUDP)
	}
}

func parseV4(b []byte) (*datagram, error) {
	if len(b) < ipv4HeaderLen {
		return nil, errors.Error("ipv4 datagram too short")
	}

	ihl := int(b[0]&0x0f) * 4
	if ihl < ipv4HeaderLen || len(b) < ihl {
		return nil, errors.Error("invalid ipv4 ihl")
	}

	if b[9] != protoUDP {
		return nil, ErrNoUDP
	}

	udp := b[ihl:]
	sp, dp, payload, err := parseUDP(udp)
	if err != nil {
		return nil, err
	}

	d := &datagram{
		version:        4,
		srcAddr:        append([]byte(nil), b[12:16]...),
		dstAddr:        append([]byte(nil), b[16:20]...),
		srcPort:        sp,
		dstPort:        dp,
		payload:        payload,
		ttl:            b[8],
		identification: binary.BigEndian.Uint16(b[4:6]),
	}

	return d, nil
}

func parseV6(b []byte) (*datagram, error) {
	if len(b) < ipv6HeaderLen {
		return nil, errors.Error("ipv6 datagram too short")
	}

	if b[6] != protoUDP {
		// Extension headers before UDP are not supported; treat as "no UDP".
		return nil, ErrNoUDP
	}

	udp := b[ipv6HeaderLen:]
	sp, dp, payload, err := parseUDP(udp)
	if err != nil {
		return nil, err
	}

	vtf := binary.BigEndian.Uint32(b[0:4])

	d := &datagram{
		version:      6,
		srcAddr:      append([]byte(nil), b[8:24]...),
		dstAddr:      append([]byte(nil), b[24:40]...),
		srcPort:      sp,
		dstPort:      dp,
		payload:      payload,
		trafficClass: uint8(vtf >> 20 & 0xff),
		flowLabel:    vtf & 0xfffff,
		hopLimit:     b[7],
	}

	return d, nil
}

func parseUDP(b []byte) (srcPort, dstPort uint16, payload []byte, err error) {
	if len(b) < udpHeaderLen {
		return 0, 0, nil, errors.Error("udp header too short")
	}

	length := binary.BigEndian.Uint16(b[4:6])
	if int(length) < udpHeaderLen || int(length) > len(b) {
		return 0, 0, nil, errors.Error("invalid udp length")
	}

	srcPort = binary.BigEndian.Uint16(b[0:2])
	dstPort = binary.BigEndian.Uint16(b[2:4])
	payload = append([]byte(nil), b[udpHeaderLen:length]...)

	return srcPort, dstPort, payload, nil
}

// ipChecksum computes the standard IP header checksum (RFC 791) over b,
// which must have its own checksum field zeroed.
func ipChecksum(b []byte) uint16 {
	return onesComplementSum(b)
}

// pseudoHeaderChecksumV4 computes the UDP checksum (RFC 768) including the
// IPv4 pseudo-header.  udp is the UDP header+payload with its checksum
// field still zeroed.
func pseudoHeaderChecksumV4(src, dst [4]byte, udpLen int, udp []byte) uint16 {
	pseudo := make([]byte, 12)
	copy(pseudo[0:4], src[:])
	copy(pseudo[4:8], dst[:])
	pseudo[8] = 0
	pseudo[9] = protoUDP
	binary.BigEndian.PutUint16(pseudo[10:12], uint16(udpLen))

	return foldChecksum(sumBytes(pseudo) + sumBytes(udp))
}

// pseudoHeaderChecksumV6 is the IPv6 analogue of pseudoHeaderChecksumV4.
func pseudoHeaderChecksumV6(src, dst [16]byte, udpLen int, udp []byte) uint16 {
	pseudo := make([]byte, 40)
	copy(pseudo[0:16], src[:])
	copy(pseudo[16:32], dst[:])
	binary.BigEndian.PutUint32(pseudo[32:36], uint32(udpLen))
	pseudo[39] = protoUDP

	return foldChecksum(sumBytes(pseudo) + sumBytes(udp))
}

func onesComplementSum(b []byte) uint16 {
	return foldChecksum(sumBytes(b))
}

func sumBytes(b []byte) uint32 {
	var sum uint32
	n := len(b)
	for i := 0; i+1 < n; i += 2 {
		sum += uint32(b[i])<<8 | uint32(b[i+1])
	}
	if n%2 == 1 {
		sum += uint32(b[n-1]) << 8
	}
	return sum
}

func foldChecksum(sum uint32) uint16 {
	for sum>>16 != 0 {
		sum = sum&0xffff + sum>>16
	}
	return ^uint16(sum)
}

// addrBitLen returns netutil.IPv4BitLen or netutil.IPv6BitLen for the
// length of addr, used when validating upstream-server address entries
// (§6: "list of address byte arrays, either 4 or 16 bytes each").
func addrBitLen(addr []byte) (int, error) {
	switch len(addr) {
	case 4:
		return netutil.IPv4BitLen, nil
	case 16:
		return netutil.IPv6BitLen, nil
	default:
		return 0, fmt.Errorf("address must be 4 or 16 bytes, got %d", len(addr))
	}
}
