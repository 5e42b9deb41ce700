package dispatch

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"mailpacer/classify"
	"mailpacer/internal/metrics"
	"mailpacer/plan"
)

// progressEvery is the number of pause ticks between StatusOnly reports.
const progressEvery = 15

// tick blocks for one pause step. Tests replace it.
var tick = func() { time.Sleep(time.Second) }

type run struct {
	d           *Dispatcher
	log         zerolog.Logger
	session     Session
	plan        plan.Plan
	messages    []Message
	attachments []string
	onProgress  func(Progress)
	isCancelled func() bool
	set         *OutcomeSet
}

func (r *run) execute(ctx context.Context) {
	if r.plan.StartDelay > 0 && !r.pause(ctx, r.plan.StartDelay, StatePausedInter, "waiting to start") {
		return
	}

	total := len(r.messages)
	idx := 0
	for bi, batch := range r.plan.Batches {
		for j := 0; j < batch.Size; j++ {
			if r.cancelled(ctx) {
				return
			}
			msg := r.messages[idx]
			fraction := float64(idx) / float64(total)
			text := fmt.Sprintf("sending to %s (%d/%d)", describe(msg), idx+1, total)
			r.d.update(func(s *Status) { s.State = StateSending; s.Message = text })
			metrics.SetProgress(fraction)
			r.progress(Update(fraction, text))

			r.send(ctx, idx, msg)
			idx++

			if j < batch.Size-1 {
				label := fmt.Sprintf("pause before %s", describe(r.messages[idx]))
				if !r.pause(ctx, r.plan.IntraPause.Draw(), StatePausedIntra, label) {
					return
				}
			}
		}
		if bi < len(r.plan.Batches)-1 && batch.PauseAfter > 0 {
			label := fmt.Sprintf("batch %d/%d done, pausing", bi+1, len(r.plan.Batches))
			if !r.pause(ctx, batch.PauseAfter, StatePausedInter, label) {
				return
			}
		}
	}
	metrics.SetProgress(1)
}

func (r *run) send(ctx context.Context, idx int, msg Message) {
	log := r.log.With().Int("index", idx+1).Str("to", msg.To).Logger()
	n, err := r.session.Send(ctx, msg, r.attachments)
	if err != nil && ctx.Err() != nil {
		// interrupted before the transport finished; not an attempt
		r.cancelled(ctx)
		log.Info().Err(err).Msg("send interrupted")
		return
	}
	now := time.Now()
	r.set.TotalProcessed++
	if err != nil {
		c := classify.Classify(err.Error())
		r.set.Failures = append(r.set.Failures, Failure{
			Message:   msg,
			FailedAt:  now,
			Kind:      c.Kind,
			Error:     err.Error(),
			Retryable: c.Retryable,
		})
		metrics.MessagesFailed.Add(1)
		r.d.update(func(s *Status) { s.Processed++; s.Failed++ })
		log.Error().Err(err).Str("kind", string(c.Kind)).Bool("retryable", c.Retryable).Msg("send failed")
		return
	}
	r.set.Successes = append(r.set.Successes, Success{Message: msg, SentAt: now, AttachmentsSent: n})
	metrics.MessagesSent.Add(1)
	r.d.update(func(s *Status) { s.Processed++; s.Succeeded++ })
	log.Info().Int("attachments", n).Msg("sent")
}

// pause waits d in one-second ticks, checking for cancellation on every
// tick. It returns false when the run was cancelled.
func (r *run) pause(ctx context.Context, d time.Duration, state State, label string) bool {
	ticks := int(math.Ceil(d.Seconds()))
	r.d.update(func(s *Status) { s.State = state; s.Message = label })
	r.progress(StatusText(fmt.Sprintf("%s: %s remaining", label, d.Round(time.Second))))
	r.log.Debug().Str("state", string(state)).Dur("pause", d).Msg(label)

	step := tick
	if r.d.step != nil {
		step = r.d.step
	}
	for i := 1; i <= ticks; i++ {
		if r.cancelled(ctx) {
			return false
		}
		step()
		if i%progressEvery == 0 && i < ticks {
			remaining := time.Duration(ticks-i) * time.Second
			r.progress(StatusText(fmt.Sprintf("%s: %s remaining", label, remaining)))
		}
	}
	return !r.cancelled(ctx)
}

func (r *run) cancelled(ctx context.Context) bool {
	if r.set.Cancelled {
		return true
	}
	if ctx.Err() != nil || (r.isCancelled != nil && r.isCancelled()) {
		r.set.Cancelled = true
		r.log.Info().Int("processed", r.set.TotalProcessed).Msg("run cancelled")
	}
	return r.set.Cancelled
}

func (r *run) progress(p Progress) {
	if r.onProgress != nil {
		r.onProgress(p)
	}
}
