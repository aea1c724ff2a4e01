// Package utils provides shared helpers for CLI output and device naming
package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goombaio/namegenerator"
)

// GenerateDeviceName creates a random, memorable device name like
// "wispy-dust". Field devices are identified by name in session history, so
// memorable beats opaque.
func GenerateDeviceName() string {
	seed := time.Now().UTC().UnixNano()
	nameGenerator := namegenerator.NewNameGenerator(seed)

	name := nameGenerator.Generate()

	// Some names might have underscores; convert to hyphens for consistency
	name = strings.ReplaceAll(name, "_", "-")

	return name
}

// LoadOrCreateDeviceName returns the device name stored in the config
// directory, generating and persisting one on first use
func LoadOrCreateDeviceName(configDir string) (string, error) {
	path := filepath.Join(configDir, "device")

	data, err := os.ReadFile(path)
	if err == nil {
		name := strings.TrimSpace(string(data))
		if name != "" {
			return name, nil
		}
	}

	name := GenerateDeviceName()
	if err := os.WriteFile(path, []byte(name+"\n"), 0644); err != nil {
		return "", fmt.Errorf("persisting device name: %w", err)
	}

	return name, nil
}

// FormatTime renders a timestamp for CLI output
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

// FormatTimePtr renders an optional timestamp for CLI output
func FormatTimePtr(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return FormatTime(*t)
}

// Truncate shortens a string for table cells
func Truncate(s string, max int) string {
	if max <= 3 || len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
