package report

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"mailpacer/dispatch"
	"mailpacer/plan"
)

// Record is one message in a snapshot.
type Record struct {
	Email       string    `json:"email"`
	Name        string    `json:"name"`
	Company     string    `json:"company,omitempty"`
	Note        string    `json:"note,omitempty"`
	At          time.Time `json:"at"`
	Attachments int       `json:"attachments,omitempty"`
	Kind        string    `json:"kind,omitempty"`
	Error       string    `json:"error,omitempty"`
	Retryable   bool      `json:"retryable,omitempty"`
}

// Strategy is the plan a run followed, flattened for readers.
type Strategy struct {
	Mode              plan.Mode `json:"mode"`
	Requested         int       `json:"requested"`
	Total             int       `json:"total"`
	Batches           int       `json:"batches"`
	IntraPause        string    `json:"intraPause"`
	InterBatchPauses  int       `json:"interBatchPauses"`
	StartDelay        string    `json:"startDelay,omitempty"`
	EstimatedDuration string    `json:"estimatedDuration"`
	Warnings          []string  `json:"warnings,omitempty"`
}

// Metadata identifies the run and the report.
type Metadata struct {
	RunID       string    `json:"runId"`
	GeneratedAt time.Time `json:"generatedAt"`
	StartedAt   time.Time `json:"startedAt"`
	FinishedAt  time.Time `json:"finishedAt"`
	Duration    string    `json:"duration"`
	Cancelled   bool      `json:"cancelled"`
}

// Snapshot is the machine-readable record of a run.
type Snapshot struct {
	Successes  []Record      `json:"successes"`
	Failures   []Record      `json:"failures"`
	Strategy   Strategy      `json:"strategy"`
	ConfigUsed plan.Settings `json:"configUsed"`
	Metadata   Metadata      `json:"metadata"`
	Summary    Summary       `json:"summary"`
}

func buildSnapshot(set *dispatch.OutcomeSet, sum Summary, generatedAt time.Time) Snapshot {
	snap := Snapshot{
		Successes:  make([]Record, 0, len(set.Successes)),
		Failures:   make([]Record, 0, len(set.Failures)),
		ConfigUsed: set.Settings,
		Summary:    sum,
		Strategy: Strategy{
			Mode:              set.Plan.Mode,
			Requested:         set.Plan.Requested,
			Total:             set.Plan.Total,
			Batches:           len(set.Plan.Batches),
			IntraPause:        set.Plan.IntraPause.String(),
			InterBatchPauses:  set.Plan.InterBatchPauses(),
			EstimatedDuration: set.Plan.EstimatedDuration.Round(time.Second).String(),
			Warnings:          set.Plan.Warnings,
		},
		Metadata: Metadata{
			RunID:       set.RunID,
			GeneratedAt: generatedAt,
			StartedAt:   set.StartedAt,
			FinishedAt:  set.FinishedAt,
			Duration:    set.Duration.Round(time.Second).String(),
			Cancelled:   set.Cancelled,
		},
	}
	if set.Plan.StartDelay > 0 {
		snap.Strategy.StartDelay = set.Plan.StartDelay.String()
	}
	for _, s := range set.Successes {
		snap.Successes = append(snap.Successes, Record{
			Email: s.Message.To, Name: s.Message.Name, Company: s.Message.Company, Note: s.Message.Note,
			At: s.SentAt, Attachments: s.AttachmentsSent,
		})
	}
	for _, f := range set.Failures {
		snap.Failures = append(snap.Failures, Record{
			Email: f.Message.To, Name: f.Message.Name, Company: f.Message.Company, Note: f.Message.Note,
			At: f.FailedAt, Kind: string(f.Kind), Error: f.Error, Retryable: f.Retryable,
		})
	}
	return snap
}

// LoadSnapshot reads a snapshot artifact.
func LoadSnapshot(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", path, err)
	}
	return &snap, nil
}

// FailureRow is one row of a failures artifact.
type FailureRow struct {
	Email   string
	Name    string
	Company string
	Note    string
	Error   string
}

// ErrNoEmailColumn is returned for a failures file without an Email column.
var ErrNoEmailColumn = errors.New("report: failures file has no Email column")

// ReadFailures parses a failures CSV. Columns are matched by header name,
// so reordered or extra columns from hand edits are accepted. Rows with a
// blank address are skipped and an empty file holds no rows.
func ReadFailures(path string) ([]FailureRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open failures: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read failures header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		if i == 0 {
			h = strings.TrimPrefix(h, "\ufeff")
		}
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	emailCol, ok := cols["email"]
	if !ok {
		return nil, ErrNoEmailColumn
	}
	field := func(rec []string, name string) string {
		i, ok := cols[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	var rows []FailureRow
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read failures: %w", err)
		}
		if emailCol >= len(rec) || strings.TrimSpace(rec[emailCol]) == "" {
			continue
		}
		rows = append(rows, FailureRow{
			Email:   strings.TrimSpace(rec[emailCol]),
			Name:    field(rec, "nombre"),
			Company: field(rec, "empresa"),
			Note:    field(rec, "mensaje_personal"),
			Error:   field(rec, "error"),
		})
	}
	return rows, nil
}
