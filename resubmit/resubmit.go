// Package resubmit reloads the failures of an earlier run and sends them
// again through the same dispatcher.
package resubmit

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"mailpacer/dispatch"
	"mailpacer/internal/email"
	"mailpacer/report"
	"mailpacer/storage"
)

var (
	// ErrSourceNotFound is returned when no failures artifact can be located.
	ErrSourceNotFound = errors.New("resubmit: failures source not found")
	// ErrNoFailuresFound is returned when the source holds no usable rows.
	ErrNoFailuresFound = errors.New("resubmit: no failures to retry")
)

// Coordinator resubmits failed recipients.
type Coordinator struct {
	Dispatcher *dispatch.Dispatcher
	Store      *storage.Dir
	Sender     email.Sender
	Log        zerolog.Logger
}

// Load builds messages for the failures in path. path may be a failures CSV
// or a snapshot; when empty the newest snapshot in Store is used. A nil
// campaign falls back to email.RetryCampaign.
func (c *Coordinator) Load(path string, campaign *email.Campaign) ([]dispatch.Message, error) {
	recipients, source, err := c.recipients(path)
	if err != nil {
		return nil, err
	}
	if len(recipients) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoFailuresFound, source)
	}

	tpl := email.RetryCampaign
	if campaign != nil {
		tpl = *campaign
	}
	msgs, skipped := email.Compose(recipients, tpl, c.Sender)
	for _, s := range skipped {
		c.Log.Warn().Str("email", s.Recipient.Email).Err(s.Err).Msg("skipping failure row")
	}
	if len(msgs) == 0 {
		return nil, fmt.Errorf("%w: every row in %s was rejected", ErrNoFailuresFound, source)
	}
	c.Log.Info().Str("source", source).Int("messages", len(msgs)).Msg("failures loaded")
	return msgs, nil
}

// RetryFailures loads the failures and dispatches them like a fresh run.
func (c *Coordinator) RetryFailures(ctx context.Context, path string, campaign *email.Campaign, attachments []string,
	onProgress func(dispatch.Progress), isCancelled func() bool) (*dispatch.OutcomeSet, error) {
	msgs, err := c.Load(path, campaign)
	if err != nil {
		return nil, err
	}
	return c.Dispatcher.Dispatch(ctx, msgs, attachments, onProgress, isCancelled)
}

func (c *Coordinator) recipients(path string) ([]email.Recipient, string, error) {
	if path == "" {
		if c.Store == nil {
			return nil, "", ErrSourceNotFound
		}
		latest, err := c.Store.Latest(report.SnapshotSuffix)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, "", fmt.Errorf("%w: %v", ErrSourceNotFound, err)
			}
			return nil, "", err
		}
		path = latest
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, path, fmt.Errorf("%w: %s", ErrSourceNotFound, path)
		}
		return nil, path, err
	}

	if strings.EqualFold(filepath.Ext(path), ".json") {
		snap, err := report.LoadSnapshot(path)
		if err != nil {
			return nil, path, err
		}
		out := make([]email.Recipient, 0, len(snap.Failures))
		for _, f := range snap.Failures {
			out = append(out, email.Recipient{Email: f.Email, Name: f.Name, Company: f.Company, Note: f.Note})
		}
		return out, path, nil
	}

	rows, err := report.ReadFailures(path)
	if err != nil {
		return nil, path, err
	}
	out := make([]email.Recipient, 0, len(rows))
	for _, r := range rows {
		out = append(out, email.Recipient{Email: r.Email, Name: r.Name, Company: r.Company, Note: r.Note})
	}
	return out, path, nil
}
