//go:build darwin

package config

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

const defaultsDomain = "com.genius.app"

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "genius-data"
	}
	return filepath.Join(home, "Library", "Application Support", "genius")
}

func apiKeyHint(account string) string {
	return fmt.Sprintf(" or macOS Keychain (service: genius, account: %s)", account)
}

// defaultsBackend stores keys in the com.genius.app UserDefaults domain
// through the defaults(1) tool.
type defaultsBackend struct {
	domain string
	run    func(args ...string) ([]byte, error)
}

func newPlatformBackend() ConfigBackend {
	return &defaultsBackend{
		domain: defaultsDomain,
		run: func(args ...string) ([]byte, error) {
			return exec.Command("defaults", args...).CombinedOutput()
		},
	}
}

func (b *defaultsBackend) GetString(key string) (string, bool, error) {
	out, err := b.run("read", b.domain, key)
	s := strings.TrimSpace(string(out))
	if err != nil {
		// defaults exits 1 for a missing key.
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
			return "", false, nil
		}
		return "", false, fmt.Errorf("reading default %s: %w (%s)", key, err, s)
	}
	return s, true, nil
}

func (b *defaultsBackend) GetInt(key string) (int, bool, error) {
	s, ok, err := b.GetString(key)
	if !ok || err != nil {
		return 0, ok, err
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, true, fmt.Errorf("invalid integer for %s: %w", key, err)
	}
	return n, true, nil
}

func (b *defaultsBackend) write(key string, args ...string) error {
	out, err := b.run(append([]string{"write", b.domain, key}, args...)...)
	if err != nil {
		return fmt.Errorf("writing default %s: %w (%s)", key, err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (b *defaultsBackend) SetString(key, val string) error {
	return b.write(key, "-string", val)
}

func (b *defaultsBackend) SetInt(key string, val int) error {
	return b.write(key, "-int", strconv.Itoa(val))
}

func (b *defaultsBackend) Delete(key string) error {
	if _, err := b.run("delete", b.domain, key); err != nil {
		return fmt.Errorf("deleting default %s: %w", key, err)
	}
	return nil
}
