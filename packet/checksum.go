package packet

import (
	"encoding/binary"

	"github.com/google/gopacket/layers"
)

// InternetChecksum computes the ones' complement checksum of RFC 1071.
func InternetChecksum(b []byte) uint16 {
	var sum uint32
	for i := 0; i+1 < len(b); i += 2 {
		sum += uint32(binary.BigEndian.Uint16(b[i:]))
	}

	if len(b)%2 == 1 {
		sum += uint32(b[len(b)-1]) << 8
	}

	for sum>>16 != 0 {
		sum = (sum & 0xffff) + (sum >> 16)
	}

	return ^uint16(sum)
}

// IPv4ChecksumValid tells if the header checksum of a decoded IPv4 layer is
// correct. Summing a header that includes a correct checksum gives zero.
func IPv4ChecksumValid(ip *layers.IPv4) bool {
	header := ip.Contents
	if len(header) < 20 {
		return false
	}

	return InternetChecksum(header) == 0
}
