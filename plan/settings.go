package plan

import (
	"fmt"
	"time"
)

// Ranges accepted by the Settings setters.
const (
	MinDailyCap, MaxDailyCap     = 1, 1000
	MinWorkHours, MaxWorkHours   = 1, 24
	MinBatchSize, MaxBatchSize   = 1, 100
	MinBatchPause, MaxBatchPause = 1, 60
)

// Settings holds the tunables a plan is derived from. The zero value is not
// valid; start from DefaultSettings.
type Settings struct {
	DailyCap         int  `json:"dailyCap"`
	WorkHours        int  `json:"workHours"`
	BatchSize        int  `json:"batchSize"`
	BatchPauseMin    int  `json:"batchPauseMinutes"`
	StartImmediately bool `json:"startImmediately"`
}

// DefaultSettings returns the values used when no configuration overrides them.
func DefaultSettings() Settings {
	return Settings{
		DailyCap:         400,
		WorkHours:        8,
		BatchSize:        5,
		BatchPauseMin:    6,
		StartImmediately: true,
	}
}

// ValidationError describes a rejected setting. The previous value is kept.
type ValidationError struct {
	Field string
	Value any
	Min   int
	Max   int
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s=%v outside [%d,%d], keeping previous value", e.Field, e.Value, e.Min, e.Max)
}

func (s *Settings) set(field string, dst *int, v, lo, hi int) error {
	if v < lo || v > hi {
		return &ValidationError{Field: field, Value: v, Min: lo, Max: hi}
	}
	*dst = v
	return nil
}

// SetDailyCap updates the daily cap when v is within range.
func (s *Settings) SetDailyCap(v int) error {
	return s.set("daily_cap", &s.DailyCap, v, MinDailyCap, MaxDailyCap)
}

// SetWorkHours updates the work-hours window when v is within range.
func (s *Settings) SetWorkHours(v int) error {
	return s.set("work_hours", &s.WorkHours, v, MinWorkHours, MaxWorkHours)
}

// SetBatchSize updates the batch size when v is within range.
func (s *Settings) SetBatchSize(v int) error {
	return s.set("batch_size", &s.BatchSize, v, MinBatchSize, MaxBatchSize)
}

// SetBatchPause updates the inter-batch pause (minutes) when v is within range.
func (s *Settings) SetBatchPause(v int) error {
	return s.set("batch_pause_minutes", &s.BatchPauseMin, v, MinBatchPause, MaxBatchPause)
}

// Raw carries optional, unvalidated tunables as read from a store. Nil
// fields leave the current value untouched.
type Raw struct {
	DailyCap         *int  `yaml:"daily_cap"`
	WorkHours        *int  `yaml:"work_hours"`
	BatchSize        *int  `yaml:"batch_size"`
	BatchPauseMin    *int  `yaml:"batch_pause_minutes"`
	StartImmediately *bool `yaml:"start_immediately"`
}

// Apply copies every present field of raw through its setter and returns the
// rejections. It never fails as a whole.
func (s *Settings) Apply(raw Raw) []error {
	var notes []error
	apply := func(v *int, set func(int) error) {
		if v == nil {
			return
		}
		if err := set(*v); err != nil {
			notes = append(notes, err)
		}
	}
	apply(raw.DailyCap, s.SetDailyCap)
	apply(raw.WorkHours, s.SetWorkHours)
	apply(raw.BatchSize, s.SetBatchSize)
	apply(raw.BatchPauseMin, s.SetBatchPause)
	if raw.StartImmediately != nil {
		s.StartImmediately = *raw.StartImmediately
	}
	return notes
}

// Normalize returns s with every out-of-range field replaced by its default
// and one note per replaced field. Settings built by hand, or left partly
// zero, become safe to plan with.
func (s Settings) Normalize() (Settings, []error) {
	out := DefaultSettings()
	out.StartImmediately = s.StartImmediately
	notes := out.Apply(Raw{
		DailyCap:      &s.DailyCap,
		WorkHours:     &s.WorkHours,
		BatchSize:     &s.BatchSize,
		BatchPauseMin: &s.BatchPauseMin,
	})
	return out, notes
}

// BatchPause returns the inter-batch pause as a duration.
func (s Settings) BatchPause() time.Duration {
	return time.Duration(s.BatchPauseMin) * time.Minute
}

// Summary is the compact one-line form stored next to every report row.
func (s Settings) Summary() string {
	return fmt.Sprintf("cap=%d hours=%d batch=%d pause=%dm immediate=%t",
		s.DailyCap, s.WorkHours, s.BatchSize, s.BatchPauseMin, s.StartImmediately)
}
