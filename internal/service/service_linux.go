//go:build linux

package service

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// systemdUnitPath is where unit files are written. Tests replace it.
var systemdUnitPath = "/etc/systemd/system"

func isRootImpl() bool {
	return os.Getuid() == 0
}

func unitPath(serviceName string) string {
	return filepath.Join(systemdUnitPath, serviceName+".service")
}

// installImpl installs the service on Linux using systemd.
func installImpl(cfg ServiceConfig, execPath string) error {
	path := unitPath(cfg.Name)

	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("service %s is already installed at %s", cfg.Name, path)
	}

	unit := generateSystemdUnit(cfg, execPath)
	if err := os.WriteFile(path, []byte(unit), 0644); err != nil {
		return fmt.Errorf("failed to write systemd unit file: %w", err)
	}
	fmt.Fprintf(out, "Created systemd unit: %s\n", path)

	if output, err := runCommand("systemctl", "daemon-reload"); err != nil {
		os.Remove(path)
		return fmt.Errorf("failed to reload systemd: %s: %w", strings.TrimSpace(output), err)
	}

	if output, err := runCommand("systemctl", "enable", cfg.Name); err != nil {
		return fmt.Errorf("failed to enable service: %s: %w", strings.TrimSpace(output), err)
	}
	fmt.Fprintf(out, "Enabled service: %s\n", cfg.Name)

	if output, err := runCommand("systemctl", "start", cfg.Name); err != nil {
		return fmt.Errorf("failed to start service: %s: %w", strings.TrimSpace(output), err)
	}
	fmt.Fprintf(out, "Started service: %s\n", cfg.Name)

	return nil
}

// uninstallImpl removes the systemd service on Linux.
func uninstallImpl(serviceName string) error {
	path := unitPath(serviceName)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return fmt.Errorf("service %s is not installed", serviceName)
	}

	// Stop and disable are best effort; the unit may not be loaded.
	if output, err := runCommand("systemctl", "stop", serviceName); err != nil {
		if !strings.Contains(output, "not loaded") {
			fmt.Fprintf(out, "Note: could not stop service: %s\n", strings.TrimSpace(output))
		}
	} else {
		fmt.Fprintf(out, "Stopped service: %s\n", serviceName)
	}

	if output, err := runCommand("systemctl", "disable", serviceName); err != nil {
		if !strings.Contains(output, "not loaded") {
			fmt.Fprintf(out, "Note: could not disable service: %s\n", strings.TrimSpace(output))
		}
	} else {
		fmt.Fprintf(out, "Disabled service: %s\n", serviceName)
	}

	if err := os.Remove(path); err != nil {
		return fmt.Errorf("failed to remove systemd unit file: %w", err)
	}
	fmt.Fprintf(out, "Removed systemd unit: %s\n", path)

	if _, err := runCommand("systemctl", "daemon-reload"); err != nil {
		fmt.Fprintln(out, "Note: failed to reload systemd daemon")
	}
	runCommand("systemctl", "reset-failed", serviceName)

	return nil
}

// statusImpl returns the service status on Linux.
func statusImpl(serviceName string) (string, error) {
	if !isInstalledImpl(serviceName) {
		return "not installed", nil
	}

	output, err := runCommand("systemctl", "is-active", serviceName)
	status := strings.TrimSpace(output)

	if err != nil {
		// is-active exits nonzero for every state but active.
		switch status {
		case "inactive", "failed", "activating", "deactivating", "unknown":
			return status, nil
		}
		return "", fmt.Errorf("failed to get service status: %w", err)
	}

	return status, nil
}

func isInstalledImpl(serviceName string) bool {
	_, err := os.Stat(unitPath(serviceName))
	return err == nil
}

// generateSystemdUnit generates a systemd unit file.
func generateSystemdUnit(cfg ServiceConfig, execPath string) string {
	var user, group string
	if cfg.User != "" {
		user = fmt.Sprintf("User=%s\n", cfg.User)
	}
	if cfg.Group != "" {
		group = fmt.Sprintf("Group=%s\n", cfg.Group)
	}

	return fmt.Sprintf(`[Unit]
Description=%s
Documentation=https://github.com/postalsys/carelay
After=network-online.target
Wants=network-online.target

[Service]
Type=simple
ExecStart=%s run -c %s
WorkingDirectory=%s
%s%sRestart=on-failure
RestartSec=5
TimeoutStopSec=30

# Security hardening
NoNewPrivileges=true
ProtectSystem=strict
ProtectHome=read-only
PrivateTmp=true
ReadWritePaths=%s
RestrictAddressFamilies=AF_INET AF_UNIX

# Logging
StandardOutput=journal
StandardError=journal
SyslogIdentifier=%s

[Install]
WantedBy=multi-user.target
`, cfg.Description, execPath, cfg.ConfigPath, cfg.WorkingDir, user, group, cfg.WorkingDir, cfg.Name)
}
