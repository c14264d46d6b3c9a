// Package service installs carelay as a systemd service on Linux.
package service

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
)

// ServiceConfig holds configuration for installing the service.
type ServiceConfig struct {
	// Name is the systemd unit name without the .service suffix
	Name string

	// Description is the service description
	Description string

	// ConfigPath is the absolute path to the config file
	ConfigPath string

	// WorkingDir is the working directory for the service
	WorkingDir string

	// User is the user to run the service as (empty for root)
	User string

	// Group is the group to run the service as (empty for root)
	Group string
}

// DefaultConfig returns a default service configuration.
func DefaultConfig(configPath string) ServiceConfig {
	absPath, _ := filepath.Abs(configPath)
	workDir := filepath.Dir(absPath)

	return ServiceConfig{
		Name:        "carelay",
		Description: "Channel Access broadcast relay",
		ConfigPath:  absPath,
		WorkingDir:  workDir,
	}
}

// Validate checks that the configuration can produce a unit file.
func (c ServiceConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("service name is required")
	}
	if !filepath.IsAbs(c.ConfigPath) {
		return fmt.Errorf("config path must be absolute: %q", c.ConfigPath)
	}
	return nil
}

// out receives progress messages. Tests replace it.
var out io.Writer = os.Stdout

// IsRoot returns true if the current process is running with elevated privileges.
func IsRoot() bool {
	return isRootImpl()
}

// Install creates, enables and starts a systemd unit that runs
// `carelay run -c <config>`.
func Install(cfg ServiceConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if _, err := os.Stat(cfg.ConfigPath); err != nil {
		return fmt.Errorf("config file: %w", err)
	}
	if !IsRoot() {
		return fmt.Errorf("must run as root to install service")
	}

	execPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	// Resolve symlinks to get the real path
	execPath, err = filepath.EvalSymlinks(execPath)
	if err != nil {
		return fmt.Errorf("failed to resolve executable path: %w", err)
	}

	return installImpl(cfg, execPath)
}

// Uninstall stops, disables and removes the systemd unit.
func Uninstall(serviceName string) error {
	if !IsRoot() {
		return fmt.Errorf("must run as root to uninstall service")
	}
	return uninstallImpl(serviceName)
}

// Status returns the current status of the service.
func Status(serviceName string) (string, error) {
	return statusImpl(serviceName)
}

// IsInstalled checks if the service is already installed.
func IsInstalled(serviceName string) bool {
	return isInstalledImpl(serviceName)
}

// IsSupported returns true if service installation is supported on this platform.
func IsSupported() bool {
	return runtime.GOOS == "linux"
}

// runCommand executes a command and returns combined output. Tests replace it.
var runCommand = func(name string, args ...string) (string, error) {
	cmd := exec.Command(name, args...)
	output, err := cmd.CombinedOutput()
	return string(output), err
}
