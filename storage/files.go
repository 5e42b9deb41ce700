package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// KeyLayout is the time layout of a generation key.
const KeyLayout = "20060102_150405"

var (
	// ErrNotFound is returned by Latest when no artifact matches.
	ErrNotFound = errors.New("no artifact found")
	// ErrKeysExhausted is returned by NewKey when every sequenced key for
	// one second is taken.
	ErrKeysExhausted = errors.New("no free generation key")
)

const maxKeySeq = 99

// Dir is a directory holding run artifacts and archived messages.
type Dir struct {
	root string
}

// New returns a Dir rooted at root. The directory is created on first write.
func New(root string) *Dir {
	return &Dir{root: root}
}

// Root returns the directory path.
func (d *Dir) Root() string { return d.root }

// Key formats the generation key shared by the artifacts of one report.
func Key(t time.Time) string {
	return t.Format(KeyLayout)
}

// NewKey returns an unused generation key for t. When artifacts already
// exist under Key(t), a -NN sequence is appended so an earlier report is
// never replaced.
func (d *Dir) NewKey(t time.Time) (string, error) {
	base := Key(t)
	for n := 1; n <= maxKeySeq; n++ {
		key := base
		if n > 1 {
			key = fmt.Sprintf("%s-%02d", base, n)
		}
		taken, err := filepath.Glob(filepath.Join(d.root, key+"_*"))
		if err != nil {
			return "", err
		}
		if len(taken) == 0 {
			return key, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrKeysExhausted, base)
}

// Path returns the location of the artifact <key>_<suffix>.
func (d *Dir) Path(key, suffix string) string {
	return filepath.Join(d.root, key+"_"+suffix)
}

// Write stores data as <key>_<suffix>. The file is written to a temporary
// name first so readers never observe a partial artifact.
func (d *Dir) Write(key, suffix string, data []byte) (string, error) {
	safeKey, err := sanitizeComponent(key)
	if err != nil {
		return "", err
	}
	safeSuffix, err := sanitizeComponent(suffix)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(d.root, 0o755); err != nil {
		return "", err
	}

	filename := d.Path(safeKey, safeSuffix)
	tmp, err := os.CreateTemp(d.root, ".artifact-*")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	if err := os.Rename(tmp.Name(), filename); err != nil {
		return "", err
	}
	return filename, nil
}

// Latest returns the newest artifact whose name ends in _<suffix>. Keys sort
// chronologically, so the lexically greatest key wins.
func (d *Dir) Latest(suffix string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(d.root, "*_"+suffix))
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("%w: *_%s in %s", ErrNotFound, suffix, d.root)
	}
	key := func(p string) string { return strings.TrimSuffix(filepath.Base(p), "_"+suffix) }
	sort.Slice(matches, func(i, j int) bool { return key(matches[i]) < key(matches[j]) })
	return matches[len(matches)-1], nil
}

// Archive stores a sent message under archive/<date>/ for later inspection.
// The recipient is hashed so addresses do not appear in file names.
func (d *Dir) Archive(id, to string, data []byte) error {
	safeID, err := sanitizeComponent(id)
	if err != nil {
		return err
	}
	recipientToken := hashRecipient(to)

	dir := filepath.Join(d.root, "archive", time.Now().UTC().Format("2006-01-02"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	filename := filepath.Join(dir, fmt.Sprintf("%s_%s.eml", safeID, recipientToken))
	payload := append([]byte(nil), data...)
	return os.WriteFile(filename, payload, 0o600)
}

func sanitizeComponent(v string) (string, error) {
	if strings.ContainsAny(v, "/\\") || strings.Contains(v, "..") {
		return "", errors.New("invalid identifier")
	}
	v = strings.TrimSpace(v)
	if v == "" {
		return "", errors.New("empty identifier")
	}
	return v, nil
}

func hashRecipient(addr string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(addr))))
	return hex.EncodeToString(sum[:8])
}
