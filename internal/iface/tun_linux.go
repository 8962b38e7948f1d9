//go:build linux

package iface

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"os"
	"strings"
	"sync"
	"syscall"
	"time"
	"unsafe"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"

	"github.com/netsim/netsim/internal/packet"
)

// mtu is the largest packet handed to or accepted from the kernel TUN
// device (spec §3, "TUN interface").
const mtu = 1500

// readBufferSize is large enough to hold a full MTU-sized packet; IFF_NO_PI
// devices carry no additional framing bytes ahead of the IP datagram, so
// this only needs a small margin over mtu.
const readBufferSize = mtu + 14

const devNetTun = "/dev/net/tun"

// ifreqSize mirrors the layout of the kernel's struct ifreq on linux/amd64
// and linux/arm64: a 16-byte interface name followed by a union whose
// largest relevant member here is the uint16 flags field, padded out to the
// kernel's actual struct size.
const ifreqSize = 40

type ifReq struct {
	name  [unix.IFNAMSIZ]byte
	flags uint16
	pad   [ifreqSize - unix.IFNAMSIZ - 2]byte
}

// TUN is a kernel TUN interface bound to the network namespace of whichever
// thread created it (spec §4.4, C4). It offers its own Recv/Send methods
// but is not a *Peer; netns.BridgeTUN adapts it into a Peer so it can be
// inserted into a Hub or NAT.
type TUN struct {
	name string
	file *os.File
	log  *slog.Logger

	sendMu sync.Mutex
}

// OpenTUN creates a TUN device (IFF_TUN|IFF_NO_PI) named by namePattern
// (e.g. "tun%d" to let the kernel pick a number) inside the calling
// goroutine's current network namespace. The caller is responsible for
// having already joined the target namespace (see internal/netns).
func OpenTUN(namePattern string, log *slog.Logger) (*TUN, error) {
	if len(namePattern) >= unix.IFNAMSIZ || strings.IndexByte(namePattern, 0) >= 0 {
		return nil, fmt.Errorf("iface: open tun %q: %w", namePattern, ErrInvalidName)
	}
	if log == nil {
		log = slog.Default()
	}

	fd, err := unix.Open(devNetTun, os.O_RDWR|syscall.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("iface: open %s: %w", devNetTun, err)
	}

	var req ifReq
	copy(req.name[:], namePattern)
	req.flags = unix.IFF_TUN | unix.IFF_NO_PI

	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(unix.TUNSETIFF), uintptr(unsafe.Pointer(&req))); errno != 0 {
		unix.Close(fd)
		return nil, fmt.Errorf("iface: ioctl(TUNSETIFF) on %s: %w", devNetTun, errno)
	}

	ifName := string(req.name[:])
	if idx := strings.IndexByte(ifName, 0); idx >= 0 {
		ifName = ifName[:idx]
	}

	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("iface: set nonblocking on %s: %w", ifName, err)
	}

	// Wrapping in *os.File after the ioctl and nonblocking-mode switch lets
	// Go's runtime poller manage the fd correctly (see golang.org/issue/30426).
	file := os.NewFile(uintptr(fd), devNetTun)

	t := &TUN{name: ifName, file: file, log: log.With(slog.String("tun", ifName))}
	t.log.Debug("tun interface created")
	return t, nil
}

// Name returns the kernel-assigned interface name.
func (t *TUN) Name() string { return t.name }

// Configure assigns addr/prefixLen (IPv4 or IPv6) to the interface and
// brings the link up via netlink, the Go-native equivalent of the spec's
// SIOCSIFADDR/SIOCSIFNETMASK/RTM_NEWADDR + SIOCSIFFLAGS sequence.
func (t *TUN) Configure(addr netip.Addr, prefixLen int) error {
	link, err := netlink.LinkByName(t.name)
	if err != nil {
		return fmt.Errorf("iface: lookup link %s: %w", t.name, err)
	}

	ipNet := &net.IPNet{
		IP:   net.IP(addr.AsSlice()),
		Mask: net.CIDRMask(prefixLen, addr.BitLen()),
	}
	if err := netlink.AddrAdd(link, &netlink.Addr{IPNet: ipNet}); err != nil {
		return fmt.Errorf("iface: add address %s/%d to %s: %w", addr, prefixLen, t.name, err)
	}
	if err := netlink.LinkSetMTU(link, mtu); err != nil {
		return fmt.Errorf("iface: set mtu on %s: %w", t.name, err)
	}
	if err := netlink.LinkSetUp(link); err != nil {
		return fmt.Errorf("iface: set up on %s: %w", t.name, err)
	}
	return nil
}

// AddDefaultRoute inserts a /0 route through this interface, the Go
// equivalent of the builder's ipv4_default_route() flag (spec §4.5).
func (t *TUN) AddDefaultRoute() error {
	link, err := netlink.LinkByName(t.name)
	if err != nil {
		return fmt.Errorf("iface: lookup link %s: %w", t.name, err)
	}
	route := &netlink.Route{LinkIndex: link.Attrs().Index, Dst: nil}
	if err := netlink.RouteAdd(route); err != nil {
		return fmt.Errorf("iface: add default route via %s: %w", t.name, err)
	}
	return nil
}

// Recv reads up to one MTU-sized packet. It blocks (honoring ctx
// cancellation via the file's deadline) until a packet is available or the
// device is closed.
func (t *TUN) Recv(ctx context.Context) (packet.Buffer, error) {
	if deadline, ok := ctx.Deadline(); ok {
		_ = t.file.SetReadDeadline(deadline)
	} else {
		_ = t.file.SetReadDeadline(time.Time{})
	}

	buf := make(packet.Buffer, readBufferSize)
	n, err := t.file.Read(buf)
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("iface: read %s: %w", t.name, err)
	}
	if n == 0 {
		return nil, fmt.Errorf("iface: read %s: %w", t.name, ErrNotConnected)
	}
	return buf[:n], nil
}

// Send writes pkt to the kernel non-blocking (via a write deadline derived
// from ctx). Packets over MTU are dropped silently, per spec §4.4/§7.
func (t *TUN) Send(ctx context.Context, pkt packet.Buffer) error {
	if len(pkt) > mtu {
		t.log.Debug("dropping oversized outbound packet", slog.Int("len", len(pkt)))
		return nil
	}

	t.sendMu.Lock()
	defer t.sendMu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		_ = t.file.SetWriteDeadline(deadline)
	} else {
		_ = t.file.SetWriteDeadline(time.Time{})
	}

	n, err := t.file.Write(pkt)
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return ctx.Err()
		}
		return fmt.Errorf("iface: write %s: %w", t.name, err)
	}
	if n != len(pkt) {
		return fmt.Errorf("iface: short write to %s: wrote %d of %d bytes", t.name, n, len(pkt))
	}
	return nil
}

// Close releases the TUN file descriptor. If the device is not persistent,
// the kernel destroys the interface immediately.
func (t *TUN) Close() error {
	t.log.Debug("tun interface closing")
	return t.file.Close()
}
