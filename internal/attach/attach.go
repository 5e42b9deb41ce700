// Package attach validates the files attached to every message of a run.
package attach

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/dustin/go-humanize"
)

// Size limits applied to attachments.
const (
	MaxFileSize       = 10 << 20
	RecommendedTotal  = 20 << 20
	MaxTotalSize      = 25 << 20
	warnFileThreshold = MaxFileSize * 8 / 10
)

// File is one scanned attachment.
type File struct {
	Name  string
	Path  string
	Size  int64
	Valid bool
}

// Report is the result of scanning an attachment directory.
type Report struct {
	Files      []File
	TotalSize  int64
	Warnings   []string
	Violations []string
}

// OK reports whether the attachments can be sent.
func (r *Report) OK() bool { return r.TotalSize <= MaxTotalSize }

// Paths returns the files fit to attach. It is empty when the total size is
// above the hard limit, since every message would be rejected.
func (r *Report) Paths() []string {
	if !r.OK() {
		return nil
	}
	var out []string
	for _, f := range r.Files {
		if f.Valid {
			out = append(out, f.Path)
		}
	}
	return out
}

// Scan lists the regular files in dir and checks them against the size
// limits. A missing directory is created and reported as a warning.
func Scan(dir string) (*Report, error) {
	r := &Report{}
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create attachment dir: %w", err)
		}
		r.Warnings = append(r.Warnings, fmt.Sprintf("directory %s created", dir))
		return r, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read attachment dir: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			r.Violations = append(r.Violations, fmt.Sprintf("%s: %v", e.Name(), err))
			continue
		}
		f := File{Name: e.Name(), Path: filepath.Join(dir, e.Name()), Size: info.Size(), Valid: true}
		switch {
		case f.Size > MaxFileSize:
			f.Valid = false
			r.Violations = append(r.Violations, fmt.Sprintf("%s is too large (%s, max %s)",
				f.Name, humanize.IBytes(uint64(f.Size)), humanize.IBytes(MaxFileSize)))
		case f.Size > warnFileThreshold:
			r.Warnings = append(r.Warnings, fmt.Sprintf("%s is large (%s)", f.Name, humanize.IBytes(uint64(f.Size))))
		}
		r.Files = append(r.Files, f)
		r.TotalSize += f.Size
	}

	switch {
	case r.TotalSize > MaxTotalSize:
		r.Violations = append(r.Violations, fmt.Sprintf("total size %s exceeds the %s limit; every message would fail",
			humanize.IBytes(uint64(r.TotalSize)), humanize.IBytes(MaxTotalSize)))
	case r.TotalSize > RecommendedTotal:
		r.Warnings = append(r.Warnings, fmt.Sprintf("total size %s is above the recommended %s",
			humanize.IBytes(uint64(r.TotalSize)), humanize.IBytes(RecommendedTotal)))
	}
	return r, nil
}

// Summary renders the report for the operator.
func (r *Report) Summary() string {
	s := fmt.Sprintf("%d file(s), %s total", len(r.Files), humanize.IBytes(uint64(r.TotalSize)))
	for _, f := range r.Files {
		mark := "ok"
		if !f.Valid {
			mark = "rejected"
		}
		s += fmt.Sprintf("\n  %s %s (%s)", mark, f.Name, humanize.IBytes(uint64(f.Size)))
	}
	for _, w := range r.Warnings {
		s += "\n  warning: " + w
	}
	for _, v := range r.Violations {
		s += "\n  error: " + v
	}
	return s
}
