//go:build !linux

package netns

import "log/slog"

// setupNamespace is a no-op outside linux; network namespaces are a
// Linux-specific kernel feature (spec §6 OS surface), so on other
// platforms a Machine runs without any namespace isolation. This keeps the
// package buildable everywhere while the TUN layer itself already reports
// ErrUnsupportedPlatform for anything namespace-sensitive.
func setupNamespace() error { return nil }

func setParentDeathSignal(log *slog.Logger) {}
