//go:build !linux

package iface

import (
	"context"
	"errors"
	"log/slog"
	"net/netip"

	"github.com/netsim/netsim/internal/packet"
)

// ErrUnsupportedPlatform is returned by TUN operations on any platform
// other than linux; the fabric's namespace and TUN machinery (spec §6 OS
// surface) is Linux-specific.
var ErrUnsupportedPlatform = errors.New("iface: TUN devices are only supported on linux")

// TUN is the non-linux stand-in for the kernel TUN binding. It exists so
// this package builds on every platform; every operation fails with
// ErrUnsupportedPlatform.
type TUN struct{}

func OpenTUN(namePattern string, log *slog.Logger) (*TUN, error) {
	return nil, ErrUnsupportedPlatform
}

func (t *TUN) Name() string { return "" }

func (t *TUN) Configure(addr netip.Addr, prefixLen int) error { return ErrUnsupportedPlatform }

func (t *TUN) AddDefaultRoute() error { return ErrUnsupportedPlatform }

func (t *TUN) Recv(ctx context.Context) (packet.Buffer, error) {
	return nil, ErrUnsupportedPlatform
}

func (t *TUN) Send(ctx context.Context, pkt packet.Buffer) error {
	return ErrUnsupportedPlatform
}

func (t *TUN) Close() error { return nil }
