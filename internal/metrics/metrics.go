package metrics

import "expvar"

var (
	RunsStarted    = expvar.NewInt("mailpacer_runs_started_total")
	RunsCancelled  = expvar.NewInt("mailpacer_runs_cancelled_total")
	MessagesSent   = expvar.NewInt("mailpacer_messages_sent_total")
	MessagesFailed = expvar.NewInt("mailpacer_messages_failed_total")
	runsActive     = expvar.NewInt("mailpacer_runs_active")
	lastProgress   = expvar.NewFloat("mailpacer_run_progress")
)

// SetProgress records the completed fraction of the active run.
func SetProgress(f float64) {
	lastProgress.Set(f)
}

// IncActive increments the active run count.
func IncActive() {
	runsActive.Add(1)
}

// DecActive decrements the active run count.
func DecActive() {
	runsActive.Add(-1)
}

// Active returns the number of runs in progress.
func Active() int64 {
	return runsActive.Value()
}

// ResetForTests clears counters; intended for use in tests only.
func ResetForTests() {
	RunsStarted.Set(0)
	RunsCancelled.Set(0)
	MessagesSent.Set(0)
	MessagesFailed.Set(0)
	runsActive.Set(0)
	lastProgress.Set(0)
}
