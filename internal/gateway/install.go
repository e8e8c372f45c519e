package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"time"
)

// findBinary returns the first executable candidate, falling back to $PATH.
func (m *Manager) findBinary() string {
	for _, p := range m.cfg.BinaryCandidates {
		info, err := os.Stat(p)
		if err == nil && !info.IsDir() && info.Mode().Perm()&0o111 != 0 {
			return p
		}
	}
	if m.cfg.BinaryName != "" {
		if p, err := m.lookPath(m.cfg.BinaryName); err == nil {
			return p
		}
	}
	return ""
}

// ensureInstalled locates the binary, running the install script at most
// once if it is missing.
func (m *Manager) ensureInstalled(ctx context.Context) (string, error) {
	if p := m.findBinary(); p != "" {
		return p, nil
	}

	script := m.cfg.InstallScript
	if script == "" {
		return "", ErrNotInstalled
	}
	if _, err := os.Stat(script); err != nil {
		return "", fmt.Errorf("%w: install script %s: %v", ErrNotInstalled, script, err)
	}

	slog.Info("Gateway binary not found, running install script", "script", script)
	timeout := m.cfg.InstallTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	ictx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := m.install(ictx, script); err != nil {
		if errors.Is(ictx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: install timed out after %v", ErrNotInstalled, timeout)
		}
		return "", fmt.Errorf("%w: install failed: %v", ErrNotInstalled, err)
	}

	if p := m.findBinary(); p != "" {
		slog.Info("Gateway binary installed", "path", p)
		return p, nil
	}
	return "", fmt.Errorf("%w: still missing after install", ErrNotInstalled)
}

func runInstallScript(ctx context.Context, script string) error {
	out, err := exec.CommandContext(ctx, "bash", script).CombinedOutput()
	if err != nil {
		tail := out
		if len(tail) > 2048 {
			tail = tail[len(tail)-2048:]
		}
		return fmt.Errorf("%w: %s", err, tail)
	}
	return nil
}
