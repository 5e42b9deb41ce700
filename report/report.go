// Package report persists the outcome of a run as CSV and JSON artifacts.
package report

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"mailpacer/classify"
	"mailpacer/dispatch"
	"mailpacer/plan"
	"mailpacer/storage"
)

// Artifact suffixes. Every report writes all four under one key.
const (
	FullSuffix      = "full.csv"
	SuccessesSuffix = "successes.csv"
	FailuresSuffix  = "failures.csv"
	SnapshotSuffix  = "snapshot.json"
)

var (
	fullHeader      = []string{"Email", "Nombre", "Empresa", "Estado", "Detalle", "Adjuntos_Enviados", "Configuracion"}
	successesHeader = []string{"Email", "Nombre", "Empresa", "Mensaje_Personal"}
	failuresHeader  = []string{"Email", "Nombre", "Empresa", "Mensaje_Personal", "Error"}
)

// ErrNothingProcessed is returned for a run that processed no message.
var ErrNothingProcessed = errors.New("report: no message was processed")

var now = time.Now

// Artifact lists the files written for one report.
type Artifact struct {
	Key       string
	Full      string
	Successes string
	Failures  string
	Snapshot  string
	Summary   Summary
}

// Generator writes reports into a storage directory.
type Generator struct {
	dir *storage.Dir
	log zerolog.Logger
}

// New returns a Generator writing into dir.
func New(dir *storage.Dir, log zerolog.Logger) *Generator {
	return &Generator{dir: dir, log: log.With().Str("component", "report").Logger()}
}

// Generate writes the full, successes, failures and snapshot artifacts for
// set under a fresh key. Either all four are written or an error is returned
// and none remain; artifacts of earlier reports are never touched.
func (g *Generator) Generate(set *dispatch.OutcomeSet) (*Artifact, error) {
	if set == nil || set.TotalProcessed < 1 {
		return nil, ErrNothingProcessed
	}
	generatedAt := now()
	summary := Summarize(set)

	full, err := encodeFull(set)
	if err != nil {
		return nil, fmt.Errorf("encode full report: %w", err)
	}
	successes, err := encodeSuccesses(set.Successes)
	if err != nil {
		return nil, fmt.Errorf("encode successes: %w", err)
	}
	failures, err := encodeFailures(set.Failures)
	if err != nil {
		return nil, fmt.Errorf("encode failures: %w", err)
	}
	snapshot, err := json.MarshalIndent(buildSnapshot(set, summary, generatedAt), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}

	key, err := g.dir.NewKey(generatedAt)
	if err != nil {
		return nil, fmt.Errorf("reserve report key: %w", err)
	}
	art := &Artifact{Key: key, Summary: summary}
	var written []string
	for _, f := range []struct {
		suffix string
		data   []byte
		dst    *string
	}{
		{FullSuffix, full, &art.Full},
		{SuccessesSuffix, successes, &art.Successes},
		{FailuresSuffix, failures, &art.Failures},
		{SnapshotSuffix, snapshot, &art.Snapshot},
	} {
		path, err := g.dir.Write(key, f.suffix, f.data)
		if err != nil {
			for _, p := range written {
				_ = os.Remove(p)
			}
			return nil, fmt.Errorf("write %s: %w", f.suffix, err)
		}
		written = append(written, path)
		*f.dst = path
	}

	g.log.Info().
		Str("key", key).
		Str("run_id", set.RunID).
		Int("sent", len(set.Successes)).
		Int("failed", len(set.Failures)).
		Str("tier", string(summary.Tier)).
		Msg("report written")
	return art, nil
}

type row struct {
	at     time.Time
	fields []string
}

func encodeFull(set *dispatch.OutcomeSet) ([]byte, error) {
	config := set.Settings.Summary()
	rows := make([]row, 0, set.TotalProcessed)
	for _, s := range set.Successes {
		rows = append(rows, row{at: s.SentAt, fields: []string{
			s.Message.To, s.Message.Name, s.Message.Company, "Enviado",
			"sent at " + s.SentAt.Format(time.DateTime), strconv.Itoa(s.AttachmentsSent), config,
		}})
	}
	for _, f := range set.Failures {
		rows = append(rows, row{at: f.FailedAt, fields: []string{
			f.Message.To, f.Message.Name, f.Message.Company, "Fallido",
			fmt.Sprintf("[%s] %s", f.Kind, f.Error), "0", config,
		}})
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].at.Before(rows[j].at) })

	records := make([][]string, 0, len(rows))
	for _, r := range rows {
		records = append(records, r.fields)
	}
	return encodeCSV(fullHeader, records)
}

func encodeSuccesses(successes []dispatch.Success) ([]byte, error) {
	records := make([][]string, 0, len(successes))
	for _, s := range successes {
		records = append(records, []string{s.Message.To, s.Message.Name, s.Message.Company, s.Message.Note})
	}
	return encodeCSV(successesHeader, records)
}

func encodeFailures(failures []dispatch.Failure) ([]byte, error) {
	records := make([][]string, 0, len(failures))
	for _, f := range failures {
		records = append(records, []string{f.Message.To, f.Message.Name, f.Message.Company, f.Message.Note, f.Error})
	}
	return encodeCSV(failuresHeader, records)
}

func encodeCSV(header []string, records [][]string) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(header); err != nil {
		return nil, err
	}
	if err := w.WriteAll(records); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Tier grades a success rate.
type Tier string

const (
	TierExcellent Tier = "excellent"
	TierGood      Tier = "good"
	TierFair      Tier = "fair"
	TierPoor      Tier = "poor"
)

// Grade maps a success percentage to a Tier.
func Grade(rate float64) Tier {
	switch {
	case rate >= 95:
		return TierExcellent
	case rate >= 85:
		return TierGood
	case rate >= 70:
		return TierFair
	default:
		return TierPoor
	}
}

// Summary is the evaluated outcome of a run.
type Summary struct {
	Processed      int            `json:"processed"`
	Sent           int            `json:"sent"`
	Failed         int            `json:"failed"`
	SuccessRate    float64        `json:"successRate"`
	Tier           Tier           `json:"tier"`
	FailuresByKind map[string]int `json:"failuresByKind,omitempty"`
	Suggestions    []string       `json:"suggestions,omitempty"`
	Suggested      *plan.Settings `json:"suggestedSettings,omitempty"`
}

// Summarize grades set and, when the success rate is below 85%, proposes
// gentler batch settings.
func Summarize(set *dispatch.OutcomeSet) Summary {
	rate := set.SuccessRate()
	sum := Summary{
		Processed:   set.TotalProcessed,
		Sent:        len(set.Successes),
		Failed:      len(set.Failures),
		SuccessRate: rate,
		Tier:        Grade(rate),
	}
	if byKind := set.FailuresByKind(); len(byKind) > 0 {
		sum.FailuresByKind = make(map[string]int, len(byKind))
		for k, n := range byKind {
			sum.FailuresByKind[string(k)] = n
		}
	}
	if rate >= 85 {
		return sum
	}

	next := set.Settings
	if rate < 70 {
		next.BatchSize = clamp(set.Settings.BatchSize/2, plan.MinBatchSize, plan.MaxBatchSize)
		next.BatchPauseMin = clamp(set.Settings.BatchPauseMin*2, plan.MinBatchPause, plan.MaxBatchPause)
	} else {
		next.BatchSize = clamp(set.Settings.BatchSize-10, plan.MinBatchSize, plan.MaxBatchSize)
		next.BatchPauseMin = clamp(set.Settings.BatchPauseMin+2, plan.MinBatchPause, plan.MaxBatchPause)
	}
	sum.Suggested = &next
	if next.BatchSize != set.Settings.BatchSize {
		sum.Suggestions = append(sum.Suggestions, fmt.Sprintf("reduce batch size from %d to %d", set.Settings.BatchSize, next.BatchSize))
	}
	if next.BatchPauseMin != set.Settings.BatchPauseMin {
		sum.Suggestions = append(sum.Suggestions, fmt.Sprintf("increase batch pause from %d to %d minutes", set.Settings.BatchPauseMin, next.BatchPauseMin))
	}
	if n := sum.FailuresByKind[string(classify.InvalidRecipient)]; n > 0 {
		sum.Suggestions = append(sum.Suggestions, fmt.Sprintf("remove %d invalid address(es) from the recipient list", n))
	}
	return sum
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}
