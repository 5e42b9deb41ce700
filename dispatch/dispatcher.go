package dispatch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"mailpacer/classify"
	"mailpacer/internal/metrics"
	"mailpacer/plan"
)

// Status is a point-in-time view of the dispatcher, safe to serve while a
// run is active.
type Status struct {
	State     State     `json:"state"`
	RunID     string    `json:"runId,omitempty"`
	Mode      plan.Mode `json:"mode,omitempty"`
	Total     int       `json:"total"`
	Processed int       `json:"processed"`
	Succeeded int       `json:"succeeded"`
	Failed    int       `json:"failed"`
	Message   string    `json:"message,omitempty"`
	StartedAt time.Time `json:"startedAt,omitempty"`
}

// Dispatcher runs at most one dispatch at a time against a transport.
type Dispatcher struct {
	transport Transport
	settings  plan.Settings
	log       zerolog.Logger

	mu     sync.Mutex
	active bool
	status Status
	step   func()
}

// New creates a dispatcher. The settings are snapshotted into every plan;
// out-of-range fields fall back to their defaults.
func New(t Transport, s plan.Settings, log zerolog.Logger) *Dispatcher {
	log = log.With().Str("component", "dispatch").Logger()
	s, notes := s.Normalize()
	for _, n := range notes {
		log.Warn().Err(n).Msg("settings value replaced")
	}
	return &Dispatcher{
		transport: t,
		settings:  s,
		log:       log,
		status:    Status{State: StateIdle},
	}
}

// SetPauseStep replaces the one-second wait used while pausing. It must not
// be called while a run is active.
func (d *Dispatcher) SetPauseStep(fn func()) { d.step = fn }

// Settings returns the tunables plans are computed from.
func (d *Dispatcher) Settings() plan.Settings { return d.settings }

// PlanStrategy computes the plan a run over count messages would follow.
func (d *Dispatcher) PlanStrategy(count int) plan.Plan {
	return plan.Compute(count, d.settings)
}

// Status returns a copy of the current run status.
func (d *Dispatcher) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

// Active reports whether a run is in progress.
func (d *Dispatcher) Active() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active
}

func (d *Dispatcher) acquire() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.active {
		return false
	}
	d.active = true
	metrics.IncActive()
	return true
}

func (d *Dispatcher) release() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.active = false
	metrics.DecActive()
}

func (d *Dispatcher) update(fn func(*Status)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fn(&d.status)
}

// Dispatch sends messages following a freshly computed plan. Per-message
// failures are returned as data in the OutcomeSet. A non-nil error means
// nothing was sent: ErrRunActive, *AttachmentMissingError or *ConnectError.
// isCancelled is polled before every send and on every pause tick; ctx
// cancellation has the same effect.
func (d *Dispatcher) Dispatch(ctx context.Context, messages []Message, attachments []string,
	onProgress func(Progress), isCancelled func() bool) (*OutcomeSet, error) {
	if !d.acquire() {
		return nil, ErrRunActive
	}
	defer d.release()

	p := d.PlanStrategy(len(messages))
	set := &OutcomeSet{
		RunID:     uuid.NewString(),
		StartedAt: time.Now(),
		Plan:      p,
		Settings:  d.settings,
	}
	log := d.log.With().Str("run_id", set.RunID).Logger()
	d.update(func(s *Status) {
		*s = Status{State: StateIdle, RunID: set.RunID, Mode: p.Mode, Total: p.Total, StartedAt: set.StartedAt}
	})
	for _, w := range p.Warnings {
		log.Warn().Msg(w)
	}

	abort := func(err error) (*OutcomeSet, error) {
		finish(set)
		d.update(func(s *Status) { s.State = StateAborted; s.Message = err.Error() })
		log.Error().Err(err).Msg("run aborted before sending")
		return set, err
	}

	if missing := missingFiles(attachments); len(missing) > 0 {
		return abort(&AttachmentMissingError{Paths: missing})
	}

	session, err := d.transport.Open(ctx)
	if err != nil {
		var cerr *ConnectError
		if !errors.As(err, &cerr) {
			cerr = &ConnectError{Reason: err.Error(), Suggestion: classify.Suggest(err.Error()), Err: err}
		}
		return abort(cerr)
	}
	defer func() {
		if err := session.Close(); err != nil {
			log.Warn().Err(err).Msg("closing transport session")
		}
	}()

	metrics.RunsStarted.Add(1)
	log.Info().Str("plan", p.Summary()).Int("attachments", len(attachments)).Msg("dispatch started")

	r := &run{
		d:           d,
		log:         log,
		session:     session,
		plan:        p,
		messages:    messages[:p.Total],
		attachments: attachments,
		onProgress:  onProgress,
		isCancelled: isCancelled,
		set:         set,
	}
	r.execute(ctx)
	finish(set)

	final := StateCompleted
	if set.Cancelled {
		final = StateCancelled
		metrics.RunsCancelled.Add(1)
	}
	d.update(func(s *Status) { s.State = final })
	log.Info().
		Int("sent", len(set.Successes)).
		Int("failed", len(set.Failures)).
		Int("processed", set.TotalProcessed).
		Dur("duration", set.Duration).
		Bool("cancelled", set.Cancelled).
		Msg("dispatch finished")
	for kind, n := range set.FailuresByKind() {
		log.Info().Str("kind", string(kind)).Int("count", n).Msg("failure breakdown")
	}
	return set, nil
}

func finish(set *OutcomeSet) {
	set.FinishedAt = time.Now()
	set.Duration = set.FinishedAt.Sub(set.StartedAt)
}

func missingFiles(paths []string) []string {
	var missing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			missing = append(missing, p)
		}
	}
	return missing
}

func describe(m Message) string {
	if m.Name != "" {
		return fmt.Sprintf("%s <%s>", m.Name, m.To)
	}
	return m.To
}
