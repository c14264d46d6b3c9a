//go:build !linux

package service

import "fmt"

var errUnsupported = fmt.Errorf("service management requires systemd and is only supported on Linux")

func isRootImpl() bool {
	return false
}

func installImpl(cfg ServiceConfig, execPath string) error {
	return errUnsupported
}

func uninstallImpl(serviceName string) error {
	return errUnsupported
}

func statusImpl(serviceName string) (string, error) {
	return "", errUnsupported
}

func isInstalledImpl(serviceName string) bool {
	return false
}
