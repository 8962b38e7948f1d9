package packet

import "encoding/binary"

// sum16 computes the RFC 1071 16-bit one's-complement sum of data, treating
// it as a sequence of big-endian 16-bit words. An odd trailing byte is
// treated as the high byte of a final word. The result is NOT complemented;
// callers that want a finished Internet checksum must complement it
// themselves (fold applies the carries, checksum applies carries+complement).
func sum16(data []byte) uint32 {
	var sum uint32
	n := len(data)
	i := 0
	for ; i+1 < n; i += 2 {
		sum += uint32(binary.BigEndian.Uint16(data[i : i+2]))
	}
	if i < n {
		sum += uint32(data[i]) << 8
	}
	return sum
}

// fold propagates carries out of the top 16 bits until the sum fits in 16
// bits.
func fold(sum uint32) uint16 {
	for sum>>16 != 0 {
		sum = (sum & 0xffff) + (sum >> 16)
	}
	return uint16(sum)
}

// combine16 folds several already-summed (but not yet complemented) partial
// sums together.
func combine16(parts ...uint16) uint16 {
	var sum uint32
	for _, p := range parts {
		sum += uint32(p)
	}
	return fold(sum)
}

// checksum computes a complete RFC 1071 Internet checksum over data.
func checksum(data []byte) uint16 {
	return ^fold(sum16(data))
}

// pseudoHeaderV4 computes the IPv4 pseudo-header partial sum (uncomplemented)
// used by TCP/UDP checksums: source IP, destination IP, zero byte + protocol,
// and the 16-bit transport segment length.
func pseudoHeaderV4(src, dst [4]byte, protocol uint8, length uint16) uint16 {
	var lenBuf [4]byte
	lenBuf[1] = protocol
	binary.BigEndian.PutUint16(lenBuf[2:4], length)
	return combine16(fold(sum16(src[:])), fold(sum16(dst[:])), fold(sum16(lenBuf[:])))
}

// pseudoHeaderV6 is the IPv6 analogue of pseudoHeaderV4.
func pseudoHeaderV6(src, dst [16]byte, protocol uint8, length uint32) uint16 {
	var lenBuf [8]byte
	binary.BigEndian.PutUint32(lenBuf[0:4], length)
	lenBuf[7] = protocol
	return combine16(fold(sum16(src[:])), fold(sum16(dst[:])), fold(sum16(lenBuf[:])))
}

// transportChecksumV4 recomputes a TCP/UDP checksum over a transport segment
// that is currently zeroed at the 16-bit checksum field given by
// checksumOffset. It does not write the result back; callers do that.
func transportChecksumV4(src, dst [4]byte, protocol uint8, segment []byte) uint16 {
	pseudo := pseudoHeaderV4(src, dst, protocol, uint16(len(segment)))
	body := fold(sum16(segment))
	return ^combine16(pseudo, body)
}

func transportChecksumV6(src, dst [16]byte, protocol uint8, segment []byte) uint16 {
	pseudo := pseudoHeaderV6(src, dst, protocol, uint32(len(segment)))
	body := fold(sum16(segment))
	return ^combine16(pseudo, body)
}
