package config

import (
	"errors"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
)

const defaultHostname = "localhost"

// Load reads KEY=value pairs from the given files (".env" when none) into
// the environment. Variables already set win; missing files are ignored.
func Load(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}

// Hostname returns the name used in EHLO.
// Preference order: MAILPACER_HOSTNAME env var, system hostname, fallback.
func Hostname() string {
	if env := os.Getenv("MAILPACER_HOSTNAME"); env != "" {
		return env
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return defaultHostname
}

// DataDir is where recipients, campaigns and settings are read from.
func DataDir() string { return String("MAILPACER_DATA_DIR", "data") }

// ReportDir is where run artifacts are written.
func ReportDir() string { return String("MAILPACER_REPORT_DIR", "reports") }

// AttachmentDir holds the files attached to every message.
func AttachmentDir() string { return String("MAILPACER_ATTACHMENT_DIR", "adjuntos") }

// RelayHost is the SMTP relay to submit through. Empty means direct MX delivery.
func RelayHost() string { return String("MAILPACER_RELAY_HOST", "") }

// RelayPort defaults to the submission port.
func RelayPort() string { return String("MAILPACER_RELAY_PORT", "587") }

// MaxPerMinute caps the transport send rate regardless of the plan.
func MaxPerMinute() int { return Int("MAILPACER_MAX_PER_MINUTE", 30) }

// ArchiveMessages reports whether sent messages are kept as .eml files.
func ArchiveMessages() bool { return Bool("MAILPACER_ARCHIVE", false) }

// StatusAddr is the listen address of the status server; empty disables it.
func StatusAddr() string { return String("MAILPACER_STATUS_ADDR", "") }
