// Package store reads the recipient list, campaigns and settings an
// operator maintains in the data directory.
package store

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"

	"mailpacer/internal/email"
	"mailpacer/plan"
)

// File names inside the data directory.
const (
	RecipientsFile = "recipients.csv"
	CampaignsFile  = "campaigns.yaml"
	SettingsFile   = "settings.yaml"
)

var (
	// ErrNoActiveCampaign is returned when no campaign is marked active.
	ErrNoActiveCampaign = errors.New("store: no active campaign")
	// ErrNoEmailColumn is returned for a recipient list without an Email column.
	ErrNoEmailColumn = errors.New("store: recipients file has no Email column")
)

// Store is a data directory.
type Store struct {
	dir string
}

// New returns a Store reading from dir.
func New(dir string) *Store {
	return &Store{dir: dir}
}

// Path returns the location of name inside the data directory.
func (s *Store) Path(name string) string {
	return filepath.Join(s.dir, name)
}

// Check reports which of the expected files exist.
func (s *Store) Check() map[string]bool {
	out := make(map[string]bool, 3)
	for _, name := range []string{RecipientsFile, CampaignsFile, SettingsFile} {
		_, err := os.Stat(s.Path(name))
		out[name] = err == nil
	}
	return out
}

// LoadRecipients parses recipients.csv. Columns are matched by name
// (Email, Nombre, Empresa, Mensaje_Personal) in any order; rows without an
// address are skipped. Addresses are validated later, when composing.
func (s *Store) LoadRecipients() ([]email.Recipient, error) {
	f, err := os.Open(s.Path(RecipientsFile))
	if err != nil {
		return nil, fmt.Errorf("open recipients: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrNoEmailColumn
	}
	if err != nil {
		return nil, fmt.Errorf("read recipients header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		h = strings.TrimPrefix(h, "\ufeff")
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	if _, ok := cols["email"]; !ok {
		return nil, ErrNoEmailColumn
	}
	get := func(rec []string, name string) string {
		i, ok := cols[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	var out []email.Recipient
	for line := 2; ; line++ {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("recipients line %d: %w", line, err)
		}
		addr := get(rec, "email")
		if addr == "" {
			continue
		}
		out = append(out, email.Recipient{
			Email:   addr,
			Name:    get(rec, "nombre"),
			Company: get(rec, "empresa"),
			Note:    get(rec, "mensaje_personal"),
		})
	}
	return out, nil
}

// CampaignEntry is one campaign as written in campaigns.yaml.
type CampaignEntry struct {
	email.Campaign `yaml:",inline"`
	Active         string `yaml:"active"`
}

// IsActive accepts the spellings operators use for "yes".
func (c CampaignEntry) IsActive() bool {
	switch strings.ToLower(strings.TrimSpace(c.Active)) {
	case "yes", "y", "si", "sí", "true", "1":
		return true
	}
	return false
}

type campaignsFile struct {
	Campaigns []CampaignEntry `yaml:"campaigns"`
}

// LoadCampaigns returns every campaign in campaigns.yaml.
func (s *Store) LoadCampaigns() ([]CampaignEntry, error) {
	data, err := os.ReadFile(s.Path(CampaignsFile))
	if err != nil {
		return nil, fmt.Errorf("read campaigns: %w", err)
	}
	var f campaignsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse campaigns: %w", err)
	}
	return f.Campaigns, nil
}

// LoadCampaign returns the first active campaign with a subject and body.
func (s *Store) LoadCampaign() (*email.Campaign, error) {
	entries, err := s.LoadCampaigns()
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if !e.IsActive() {
			continue
		}
		if strings.TrimSpace(e.Subject) == "" || strings.TrimSpace(e.Body) == "" {
			continue
		}
		c := e.Campaign
		return &c, nil
	}
	return nil, ErrNoActiveCampaign
}

// Profile is the content of settings.yaml.
type Profile struct {
	Sender   email.Sender
	Settings plan.Settings
}

type settingsFile struct {
	Sender  email.Sender `yaml:"sender"`
	Sending plan.Raw     `yaml:"sending"`
}

// LoadSettings applies settings.yaml over the defaults. A missing file
// yields the defaults. Out-of-range tunables are returned as notes and the
// default is kept.
func (s *Store) LoadSettings() (Profile, []error, error) {
	p := Profile{Settings: plan.DefaultSettings()}
	data, err := os.ReadFile(s.Path(SettingsFile))
	if errors.Is(err, os.ErrNotExist) {
		return p, nil, nil
	}
	if err != nil {
		return p, nil, fmt.Errorf("read settings: %w", err)
	}
	var f settingsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return p, nil, fmt.Errorf("parse settings: %w", err)
	}
	p.Sender = f.Sender
	notes := p.Settings.Apply(f.Sending)
	return p, notes, nil
}
