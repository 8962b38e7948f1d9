// Package ipnet implements the IPv4/IPv6 CIDR range type used throughout the
// fabric: containment tests, netmask derivation, random-address sampling
// bounded to a classful category, subdivision into equal child ranges, and
// inference of the "natural" range for a bare address.
package ipnet

import (
	"fmt"
	"math/bits"
	"math/rand/v2"
	"net/netip"
)

// Range is a base address plus a prefix length. The constructor always masks
// off the host bits of the base address, so Range.Base never carries stray
// host bits.
type Range struct {
	base   netip.Addr
	prefix int
}

// New creates a Range from a base address and prefix length, masking off the
// address's host bits. Panics if prefixLen is out of bounds for the address
// family (0..32 for IPv4, 0..128 for IPv6) -- callers parsing untrusted input
// should validate the prefix length first.
func New(base netip.Addr, prefixLen int) Range {
	maxBits := addrBits(base)
	if prefixLen < 0 || prefixLen > maxBits {
		panic(fmt.Sprintf("ipnet: prefix length %d out of range for %d-bit address", prefixLen, maxBits))
	}
	prefix, err := base.Prefix(prefixLen)
	if err != nil {
		panic(err)
	}
	return Range{base: prefix.Masked().Addr(), prefix: prefixLen}
}

// MustParse parses a CIDR literal like "10.0.0.0/8".
func MustParse(s string) Range {
	prefix, err := netip.ParsePrefix(s)
	if err != nil {
		panic(err)
	}
	return New(prefix.Addr(), prefix.Bits())
}

func addrBits(addr netip.Addr) int {
	if addr.Is4() {
		return 32
	}
	return 128
}

// BaseAddr returns the range's masked base address.
func (r Range) BaseAddr() netip.Addr { return r.base }

// PrefixLen returns the number of fixed (network) bits.
func (r Range) PrefixLen() int { return r.prefix }

// SubnetMaskBits is an alias for PrefixLen, named to match the spec's
// terminology for the netmask-bits accessor.
func (r Range) SubnetMaskBits() int { return r.prefix }

// Netmask returns the range's netmask as an address in the same family.
func (r Range) Netmask() netip.Addr {
	total := addrBits(r.base)
	full := make([]byte, total/8)
	for i := 0; i < r.prefix; i++ {
		full[i/8] |= 0x80 >> uint(i%8)
	}
	addr, ok := netip.AddrFromSlice(full)
	if !ok {
		panic("ipnet: invalid netmask length")
	}
	if r.base.Is4() {
		addr = netip.AddrFrom4([4]byte(addr.AsSlice()))
	}
	return addr
}

// Contains reports whether addr falls within the range: the number of
// leading zero bits in (base XOR addr) must be at least PrefixLen.
func (r Range) Contains(addr netip.Addr) bool {
	if addr.Is4() != r.base.Is4() {
		return false
	}
	xored := xorAddr(r.base, addr)
	return leadingZeroBits(xored) >= r.prefix
}

func xorAddr(a, b netip.Addr) []byte {
	as, bs := a.AsSlice(), b.AsSlice()
	out := make([]byte, len(as))
	for i := range as {
		out[i] = as[i] ^ bs[i]
	}
	return out
}

func leadingZeroBits(buf []byte) int {
	n := 0
	for _, b := range buf {
		if b == 0 {
			n += 8
			continue
		}
		n += bits.LeadingZeros8(b)
		break
	}
	return n
}

// String renders the range as a CIDR literal.
func (r Range) String() string {
	return fmt.Sprintf("%s/%d", r.base, r.prefix)
}

// InferFromAddress returns the "natural" classful range containing addr:
// /8 for 10/8, /16 for 172.16-31, /24 for 192.168, else the global /0 range
// (IPv6 addresses always infer the global /0).
func InferFromAddress(addr netip.Addr) Range {
	if !addr.Is4() {
		return New(addr, 0)
	}
	switch ClassOf(addr) {
	case ClassPrivate10:
		return New(addr, 8)
	case ClassPrivate172:
		return New(addr, 16)
	case ClassPrivate192:
		return New(addr, 24)
	default:
		return New(addr, 0)
	}
}

// RandomAddress samples a uniformly random address from the range, rejecting
// the all-zero and all-ones host parts and, for ranges whose base falls
// outside the private/loopback/link-local/multicast/reserved classes (i.e.
// "public" ranges), rejecting any candidate whose class differs from the
// range's own classful category (mirroring the reference implementation's
// random_client_addr, which only lets class-consistent addresses through).
func (r Range) RandomAddress(rng *rand.Rand) netip.Addr {
	total := addrBits(r.base)
	hostBits := total - r.prefix
	if hostBits < 2 {
		panic("ipnet: range too small to contain a usable host address")
	}
	class := ClassGlobal
	if r.prefix != 0 {
		class = ClassOf(r.base)
	}
	baseBytes := r.base.AsSlice()
	for {
		host := randomHostPart(rng, total, hostBits)
		if isAllZero(host) || isAllOnes(host, hostBits) {
			continue
		}
		candidate := orBytes(baseBytes, host)
		addr, ok := netip.AddrFromSlice(candidate)
		if !ok {
			continue
		}
		if r.base.Is4() {
			addr = netip.AddrFrom4([4]byte(addr.AsSlice()))
		}
		if ClassOf(addr) != class {
			continue
		}
		return addr
	}
}

func randomHostPart(rng *rand.Rand, totalBits, hostBits int) []byte {
	buf := make([]byte, totalBits/8)
	for i := range buf {
		buf[i] = byte(rng.Uint32())
	}
	fixedBits := totalBits - hostBits
	for i := 0; i < fixedBits; i++ {
		buf[i/8] &^= 0x80 >> uint(i%8)
	}
	return buf
}

func isAllZero(buf []byte) bool {
	for _, b := range buf {
		if b != 0 {
			return false
		}
	}
	return true
}

func isAllOnes(buf []byte, hostBits int) bool {
	total := len(buf) * 8
	fixedBits := total - hostBits
	for i := fixedBits; i < total; i++ {
		bit := buf[i/8] & (0x80 >> uint(i%8))
		if bit == 0 {
			return false
		}
	}
	return true
}

func orBytes(a, b []byte) []byte {
	out := make([]byte, len(a))
	for i := range a {
		out[i] = a[i] | b[i]
	}
	return out
}

// Split divides the range into n equal-sized child ranges, skipping any
// candidate whose class would differ from the parent's own classful
// category (so e.g. splitting 10.0.0.0/8 never yields a child that happens
// to straddle into loopback space -- which cannot actually happen for a
// contiguous subdivision, but the skip/retry structure mirrors the
// reference implementation exactly).
func (r Range) Split(n int) []Range {
	if n <= 0 {
		panic("ipnet: split count must be positive")
	}
	total := addrBits(r.base)
	class := ClassGlobal
	if r.prefix != 0 {
		class = ClassOf(r.base)
	}
	baseBytes := r.base.AsSlice()
	out := make([]Range, 0, n)
	var counter uint64
	for {
		reversed := reverseBits(counter, 32)
		candidate := addShiftedHost(baseBytes, reversed, r.prefix, total)
		addr, ok := netip.AddrFromSlice(candidate)
		if !ok {
			panic("ipnet: split produced invalid address")
		}
		if r.base.Is4() {
			addr = netip.AddrFrom4([4]byte(addr.AsSlice()))
		}
		if ClassOf(addr) != class {
			counter++
			continue
		}
		out = append(out, Range{base: addr, prefix: r.prefix})
		if len(out) == n {
			break
		}
		counter++
	}
	extraBits := bitsLen(counter)
	childPrefix := r.prefix + extraBits
	for i := range out {
		out[i].prefix = childPrefix
	}
	return out
}

func bitsLen(n uint64) int {
	l := 0
	for n != 0 {
		n >>= 1
		l++
	}
	return l
}

func reverseBits(n uint64, width int) uint32 {
	var out uint32
	for i := 0; i < width; i++ {
		if n&(1<<uint(i)) != 0 {
			out |= 1 << uint(width-1-i)
		}
	}
	return out
}

func addShiftedHost(base []byte, reversed uint32, startBit, totalBits int) []byte {
	out := make([]byte, len(base))
	copy(out, base)
	// Place reversed's bits, most significant first, starting at startBit
	// (the first host bit); bits that would fall past the end of the
	// address are dropped.
	offset := startBit
	for i := 0; i < 32; i++ {
		bit := reversed & (0x80000000 >> uint(i))
		if bit == 0 {
			continue
		}
		globalBit := offset + i
		if globalBit < 0 || globalBit >= totalBits {
			continue
		}
		out[globalBit/8] |= 0x80 >> uint(globalBit%8)
	}
	return out
}
