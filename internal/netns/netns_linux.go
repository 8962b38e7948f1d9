//go:build linux

package netns

import (
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/sys/unix"
)

// setupNamespace unshares a fresh network namespace for the calling thread
// (spec §4.5). If the process lacks CAP_SYS_ADMIN, it falls back to also
// unsharing a user namespace and mapping the current uid/gid to root inside
// it, which grants the capability needed for CLONE_NEWNET without root
// privileges outside the namespace — the same fallback the original's
// unprivileged-mode setup performs.
func setupNamespace() error {
	if err := unix.Unshare(unix.CLONE_NEWNET); err == nil {
		return nil
	} else if err != unix.EPERM {
		return fmt.Errorf("unshare(CLONE_NEWNET): %w", err)
	}

	uid, gid := os.Getuid(), os.Getgid()
	if err := unix.Unshare(unix.CLONE_NEWUSER | unix.CLONE_NEWNET); err != nil {
		return fmt.Errorf("unshare(CLONE_NEWUSER|CLONE_NEWNET): %w", err)
	}
	if err := os.WriteFile("/proc/self/setgroups", []byte("deny"), 0o644); err != nil {
		return fmt.Errorf("write /proc/self/setgroups: %w", err)
	}
	if err := os.WriteFile("/proc/self/uid_map", []byte(fmt.Sprintf("0 %d 1\n", uid)), 0o644); err != nil {
		return fmt.Errorf("write /proc/self/uid_map: %w", err)
	}
	if err := os.WriteFile("/proc/self/gid_map", []byte(fmt.Sprintf("0 %d 1\n", gid)), 0o644); err != nil {
		return fmt.Errorf("write /proc/self/gid_map: %w", err)
	}
	return nil
}

// setParentDeathSignal arranges for the machine's thread to be sent SIGKILL
// if its parent process dies, matching the original's use of PR_SET_PDEATHSIG
// to avoid leaking orphaned namespace threads. Failure is logged, not fatal:
// losing this signal only matters on abnormal parent death.
func setParentDeathSignal(log *slog.Logger) {
	if err := unix.Prctl(unix.PR_SET_PDEATHSIG, uintptr(unix.SIGKILL), 0, 0, 0); err != nil {
		log.Warn("failed to set parent-death signal", slog.String("error", err.Error()))
	}
}
