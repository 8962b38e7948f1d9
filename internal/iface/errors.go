// Package iface implements the fabric's interface abstractions: the bounded
// bidirectional packet channel (spec component C3) that connects hubs, NATs,
// and machines together in-process, and the kernel TUN device binding (C4)
// that lets a machine's namespace exchange packets with the fabric.
package iface

import "errors"

// Sentinel errors surfaced by Peer and TUN operations, mapped from the
// spec's error-kind table (NotConnected/WouldBlock/InvalidInput/Other).
var (
	// ErrNotConnected is returned by Send/TrySend when the peer endpoint has
	// been closed.
	ErrNotConnected = errors.New("iface: peer not connected")

	// ErrWouldBlock is returned by TrySend/Ready when the channel's bounded
	// queue is full.
	ErrWouldBlock = errors.New("iface: send would block")

	// ErrInvalidName is returned by TUN creation when the requested
	// interface name is too long or contains a NUL byte.
	ErrInvalidName = errors.New("iface: interface name too long or contains NUL")
)
