// Package codec parses and builds the Ethernet/ARP/IPv4/UDP/TCP/DHCP
// frames the virtual network services exchange with the guest. It is
// grounded on the teacher's netraw packet-builder package: the same
// one's-complement checksum routine, the same big-endian field
// layout, generalized here to also parse (not just build) each
// frame kind.
package codec

import "encoding/binary"

// Checksum16 computes the 16-bit one's-complement checksum used by
// IPv4 headers and (over a pseudo-header) by UDP/TCP. It matches the
// teacher's Checksum function byte for byte.
func Checksum16(data []byte) uint16 {
	var sum uint32
	n := len(data)
	i := 0

	for n > 1 {
		sum += uint32(binary.BigEndian.Uint16(data[i:]))
		i += 2
		n -= 2
	}
	if n > 0 {
		sum += uint32(data[i]) << 8
	}
	for (sum >> 16) > 0 {
		sum = (sum & 0xffff) + (sum >> 16)
	}
	return uint16(^sum)
}

// pseudoHeader builds the 12-byte IPv4 TCP/UDP pseudo-header (src,
// dst, zero, protocol, length) that the caller concatenates with the
// segment itself before calling Checksum16.
func pseudoHeader(src, dst [4]byte, protocol byte, length uint16) []byte {
	b := make([]byte, 12)
	copy(b[0:4], src[:])
	copy(b[4:8], dst[:])
	b[8] = 0
	b[9] = protocol
	binary.BigEndian.PutUint16(b[10:12], length)
	return b
}
