package report

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailpacer/classify"
	"mailpacer/dispatch"
	"mailpacer/plan"
	"mailpacer/storage"
)

func fixedNow(t *testing.T, at time.Time) {
	t.Helper()
	prev := now
	now = func() time.Time { return at }
	t.Cleanup(func() { now = prev })
}

func outcome(sent, failed int) *dispatch.OutcomeSet {
	start := time.Date(2025, 5, 2, 10, 0, 0, 0, time.UTC)
	s := plan.DefaultSettings()
	set := &dispatch.OutcomeSet{
		RunID:    "run-1",
		Settings: s,
		Plan:     plan.Compute(sent+failed, s),
	}
	for i := 0; i < sent; i++ {
		set.Successes = append(set.Successes, dispatch.Success{
			Message:         dispatch.Message{To: "ok" + string(rune('a'+i)) + "@example.com", Name: "Ok", Company: "Acme", Note: "hi"},
			SentAt:          start.Add(time.Duration(2*i) * time.Second),
			AttachmentsSent: 1,
		})
	}
	for i := 0; i < failed; i++ {
		set.Failures = append(set.Failures, dispatch.Failure{
			Message:  dispatch.Message{To: "bad" + string(rune('a'+i)) + "@example.com", Name: "Bad", Note: "note, with comma"},
			FailedAt: start.Add(time.Duration(2*i+1) * time.Second),
			Kind:     classify.InvalidRecipient,
			Error:    "550 user unknown",
		})
	}
	set.TotalProcessed = sent + failed
	set.StartedAt = start
	set.FinishedAt = start.Add(time.Minute)
	set.Duration = time.Minute
	return set
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	recs, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return recs
}

func TestGenerateWritesFourArtifacts(t *testing.T) {
	fixedNow(t, time.Date(2025, 5, 2, 11, 4, 5, 0, time.Local))
	dir := storage.New(t.TempDir())
	g := New(dir, zerolog.Nop())

	art, err := g.Generate(outcome(2, 1))
	require.NoError(t, err)

	assert.Equal(t, "20250502_110405", art.Key)
	for _, p := range []string{art.Full, art.Successes, art.Failures, art.Snapshot} {
		assert.True(t, strings.HasPrefix(filepath.Base(p), art.Key+"_"), p)
		assert.FileExists(t, p)
	}

	full := readCSV(t, art.Full)
	require.Len(t, full, 4)
	assert.Equal(t, fullHeader, full[0])
	assert.Equal(t, []string{"oka@example.com", "Enviado"}, []string{full[1][0], full[1][3]})
	assert.Equal(t, []string{"bada@example.com", "Fallido"}, []string{full[2][0], full[2][3]}, "rows are chronological")
	assert.Contains(t, full[2][4], "invalid_recipient")

	failures := readCSV(t, art.Failures)
	require.Len(t, failures, 2)
	assert.Equal(t, failuresHeader, failures[0])
	assert.Equal(t, "note, with comma", failures[1][3])

	successes := readCSV(t, art.Successes)
	assert.Equal(t, successesHeader, successes[0])
	assert.Len(t, successes, 3)
}

func TestGenerateSameSecondKeepsBoth(t *testing.T) {
	fixedNow(t, time.Date(2025, 5, 2, 11, 4, 5, 0, time.Local))
	dir := storage.New(t.TempDir())
	g := New(dir, zerolog.Nop())

	first, err := g.Generate(outcome(1, 1))
	require.NoError(t, err)
	second, err := g.Generate(outcome(2, 0))
	require.NoError(t, err)

	assert.Equal(t, "20250502_110405", first.Key)
	assert.Equal(t, "20250502_110405-02", second.Key)

	rows, err := ReadFailures(first.Failures)
	require.NoError(t, err)
	assert.Len(t, rows, 1, "first report must survive the second")

	latest, err := dir.Latest(SnapshotSuffix)
	require.NoError(t, err)
	assert.Equal(t, second.Snapshot, latest)
}

func TestGenerateHeaderOnlyFailures(t *testing.T) {
	dir := storage.New(t.TempDir())
	art, err := New(dir, zerolog.Nop()).Generate(outcome(3, 0))
	require.NoError(t, err)

	data, err := os.ReadFile(art.Failures)
	require.NoError(t, err)
	assert.Equal(t, "Email,Nombre,Empresa,Mensaje_Personal,Error\n", string(data))

	rows, err := ReadFailures(art.Failures)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestGenerateNothingProcessed(t *testing.T) {
	dir := storage.New(t.TempDir())
	_, err := New(dir, zerolog.Nop()).Generate(&dispatch.OutcomeSet{})
	assert.ErrorIs(t, err, ErrNothingProcessed)

	entries, _ := os.ReadDir(dir.Root())
	assert.Empty(t, entries)
}

func TestSnapshotRoundTrip(t *testing.T) {
	dir := storage.New(t.TempDir())
	art, err := New(dir, zerolog.Nop()).Generate(outcome(1, 1))
	require.NoError(t, err)

	snap, err := LoadSnapshot(art.Snapshot)
	require.NoError(t, err)
	assert.Len(t, snap.Successes, 1)
	require.Len(t, snap.Failures, 1)
	assert.Equal(t, "bada@example.com", snap.Failures[0].Email)
	assert.Equal(t, "run-1", snap.Metadata.RunID)
	assert.Equal(t, plan.Immediate, snap.Strategy.Mode)
	assert.Equal(t, 400, snap.ConfigUsed.DailyCap)
	assert.Equal(t, TierPoor, snap.Summary.Tier)
}

func TestGrade(t *testing.T) {
	assert.Equal(t, TierExcellent, Grade(95))
	assert.Equal(t, TierGood, Grade(94.9))
	assert.Equal(t, TierGood, Grade(85))
	assert.Equal(t, TierFair, Grade(70))
	assert.Equal(t, TierPoor, Grade(69.9))
}

func TestSummarizeSuggestions(t *testing.T) {
	t.Run("healthy run has none", func(t *testing.T) {
		sum := Summarize(outcome(9, 1))
		assert.Empty(t, sum.Suggestions)
		assert.Nil(t, sum.Suggested)
	})

	t.Run("below 70 halves and doubles", func(t *testing.T) {
		set := outcome(1, 1)
		set.Settings.BatchSize = 20
		set.Settings.BatchPauseMin = 40
		sum := Summarize(set)
		require.NotNil(t, sum.Suggested)
		assert.Equal(t, 10, sum.Suggested.BatchSize)
		assert.Equal(t, 60, sum.Suggested.BatchPauseMin, "clamped to the maximum")
		assert.Len(t, sum.Suggestions, 3)
	})

	t.Run("between 70 and 85 steps down", func(t *testing.T) {
		set := outcome(4, 1)
		set.Settings.BatchSize = 5
		set.Settings.BatchPauseMin = 6
		sum := Summarize(set)
		require.NotNil(t, sum.Suggested)
		assert.Equal(t, 1, sum.Suggested.BatchSize, "clamped to the minimum")
		assert.Equal(t, 8, sum.Suggested.BatchPauseMin)
	})
}

func TestReadFailuresToleratesHandEdits(t *testing.T) {
	path := filepath.Join(t.TempDir(), "failures.csv")
	content := "\ufeffError,extra,EMAIL,Nombre\n" +
		"timeout,x,a@example.com,Ana\n" +
		",,,\n" +
		"quota,y,b@example.com\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	rows, err := ReadFailures(path)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, FailureRow{Email: "a@example.com", Name: "Ana", Error: "timeout"}, rows[0])
	assert.Equal(t, "b@example.com", rows[1].Email)
	assert.Empty(t, rows[1].Name)
}

func TestReadFailuresRequiresEmail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "failures.csv")
	require.NoError(t, os.WriteFile(path, []byte("Nombre,Error\nAna,x\n"), 0o600))

	_, err := ReadFailures(path)
	assert.ErrorIs(t, err, ErrNoEmailColumn)
}

func TestReadFailuresEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "failures.csv")
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	rows, err := ReadFailures(path)
	require.NoError(t, err)
	assert.Empty(t, rows)
}
