package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Bool reads an environment variable and returns a boolean value.
// Only "true" or "false" (case-insensitive) are recognised; any other
// value results in the provided default.
func Bool(key string, defaultValue bool) bool {
	val := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	switch val {
	case "":
		return defaultValue
	case "true":
		return true
	case "false":
		return false
	default:
		return defaultValue
	}
}

// String returns the trimmed value of key, or defaultValue when unset.
func String(key, defaultValue string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return defaultValue
}

// Int returns a positive integer from key. Unset, malformed or non-positive
// values yield defaultValue.
func Int(key string, defaultValue int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < 1 {
		return defaultValue
	}
	return n
}

// Duration parses key with time.ParseDuration.
func Duration(key string, defaultValue time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return defaultValue
	}
	return d
}
