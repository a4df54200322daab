//go:build darwin

package config

import (
	"bytes"
	"fmt"
	"os/exec"
)

func security(args ...string) ([]byte, error) {
	var stderr bytes.Buffer
	cmd := exec.Command("security", args...)
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("security %s: %w: %s", args[0], err, bytes.TrimSpace(stderr.Bytes()))
	}
	return bytes.TrimRight(out, "\n"), nil
}

func keychainGet(service, account string) ([]byte, error) {
	return security("find-generic-password", "-s", service, "-a", account, "-w")
}

func keychainSet(service, account, value string) error {
	_, err := security("add-generic-password", "-U", "-s", service, "-a", account, "-w", value)
	return err
}
