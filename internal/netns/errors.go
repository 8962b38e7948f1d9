// Package netns implements the fabric's per-machine isolated runtime (spec
// §4.5, C5): each Machine owns a private Linux network namespace and a
// single dedicated goroutine pinned to its own OS thread, on which all of
// that machine's namespace-sensitive work (TUN creation, netlink
// configuration, user tasks) runs.
//
// The original design clones a new thread via raw clone(2) and, because
// that child does not inherit usable thread-local storage, spawns a helper
// thread inside it purely to get working TLS for the actual runtime. Go's
// runtime.LockOSThread achieves the same outcome without that workaround:
// a goroutine that locks its OS thread and never unlocks it owns that
// thread exclusively for the rest of its life, so unshare(2) calls made on
// it stick for every task subsequently run on the same goroutine.
package netns

import "errors"

var (
	// ErrMachineClosed is returned by Do/Spawn once a Machine's runtime has
	// been closed.
	ErrMachineClosed = errors.New("netns: machine is closed")

	// ErrNamespaceSetup is wrapped into the error returned by NewMachine
	// when unshare(2) or the uid/gid map writes fail.
	ErrNamespaceSetup = errors.New("netns: failed to set up network namespace")
)
