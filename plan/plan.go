package plan

import (
	"fmt"
	"math/rand/v2"
	"time"
)

// Mode is the dispatch tier selected from the message count.
type Mode string

const (
	Immediate   Mode = "immediate"
	Fast        Mode = "fast"
	Distributed Mode = "distributed"
)

const (
	immediateMax   = 2
	fastMax        = 25
	immediatePause = 5 * time.Second
	fastPause      = 30 * time.Second
	minRandomPause = 15 * time.Second
	maxRandomPause = 60 * time.Second
)

// PauseRule describes the pause taken between two messages of a batch.
type PauseRule struct {
	Fixed time.Duration `json:"fixed,omitempty"`
	Min   time.Duration `json:"min,omitempty"`
	Max   time.Duration `json:"max,omitempty"`
}

// FixedPause returns a rule that always pauses for d.
func FixedPause(d time.Duration) PauseRule { return PauseRule{Fixed: d} }

// RandomPause returns a rule drawing uniformly from [lo, hi].
func RandomPause(lo, hi time.Duration) PauseRule { return PauseRule{Min: lo, Max: hi} }

// IsRandom reports whether each pause is drawn independently.
func (r PauseRule) IsRandom() bool { return r.Max > r.Min }

// Draw returns the next pause. Random draws are not reproducible.
func (r PauseRule) Draw() time.Duration {
	if !r.IsRandom() {
		if r.Fixed > 0 {
			return r.Fixed
		}
		return r.Min
	}
	return r.Min + time.Duration(rand.Int64N(int64(r.Max-r.Min)+1))
}

// Expected is the mean pause, used for estimates.
func (r PauseRule) Expected() time.Duration {
	if !r.IsRandom() {
		return r.Draw()
	}
	return (r.Min + r.Max) / 2
}

func (r PauseRule) String() string {
	if r.IsRandom() {
		return fmt.Sprintf("%s-%s", r.Min, r.Max)
	}
	return r.Draw().String()
}

// Batch is a contiguous run of messages followed by PauseAfter.
type Batch struct {
	Size       int           `json:"size"`
	PauseAfter time.Duration `json:"pauseAfter"`
}

// Plan is the concrete schedule for one run.
type Plan struct {
	Mode              Mode          `json:"mode"`
	Requested         int           `json:"requested"`
	Total             int           `json:"total"`
	Batches           []Batch       `json:"batches"`
	IntraPause        PauseRule     `json:"intraPause"`
	StartDelay        time.Duration `json:"startDelay"`
	EstimatedDuration time.Duration `json:"estimatedDuration"`
	Warnings          []string      `json:"warnings,omitempty"`
}

// Compute derives the plan for count messages under s. It never fails;
// overflow and time-budget problems are reported as warnings.
func Compute(count int, s Settings) Plan {
	if count < 0 {
		count = 0
	}
	p := Plan{Requested: count, Total: count}
	s, notes := s.Normalize()
	for _, n := range notes {
		p.Warnings = append(p.Warnings, n.Error())
	}
	if count > s.DailyCap {
		p.Total = s.DailyCap
		p.Warnings = append(p.Warnings, fmt.Sprintf(
			"%d messages exceed the daily cap of %d; the last %d are not scheduled",
			count, s.DailyCap, count-s.DailyCap))
	}
	n := p.Total

	switch {
	case n <= immediateMax:
		p.Mode = Immediate
		p.Batches = []Batch{{Size: n}}
		p.IntraPause = FixedPause(immediatePause)
	case n <= min(fastMax, s.BatchSize):
		p.Mode = Fast
		p.Batches = []Batch{{Size: n}}
		p.IntraPause = FixedPause(fastPause)
	default:
		p.Mode = Distributed
		p.IntraPause = RandomPause(minRandomPause, maxRandomPause)
		for left := n; left > 0; left -= s.BatchSize {
			p.Batches = append(p.Batches, Batch{Size: min(left, s.BatchSize), PauseAfter: s.BatchPause()})
		}
		p.Batches[len(p.Batches)-1].PauseAfter = 0
	}

	if !s.StartImmediately {
		p.StartDelay = s.BatchPause()
	}

	p.EstimatedDuration = p.estimate()
	budget := time.Duration(s.WorkHours) * time.Hour
	if p.EstimatedDuration > budget {
		p.Warnings = append(p.Warnings, fmt.Sprintf(
			"estimated duration %s exceeds the %dh work window", p.EstimatedDuration.Round(time.Minute), s.WorkHours))
	}
	return p
}

func (p Plan) estimate() time.Duration {
	total := p.StartDelay
	for _, b := range p.Batches {
		if b.Size > 1 {
			total += time.Duration(b.Size-1) * p.IntraPause.Expected()
		}
		total += b.PauseAfter
	}
	return total
}

// InterBatchPauses counts the scheduled pauses between batches.
func (p Plan) InterBatchPauses() int {
	n := 0
	for _, b := range p.Batches {
		if b.PauseAfter > 0 {
			n++
		}
	}
	return n
}

// Summary renders the plan on one line.
func (p Plan) Summary() string {
	return fmt.Sprintf("%s: %d messages in %d batch(es), pause %s, ~%s",
		p.Mode, p.Total, len(p.Batches), p.IntraPause, p.EstimatedDuration.Round(time.Second))
}
