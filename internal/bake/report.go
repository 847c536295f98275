package bake

import (
	"errors"
	"time"
)

// Report summarizes one planner run. Entries are in dependency order.
type Report struct {
	Entries    []*PlanEntry  `json:"entries"`
	Succeeded  []string      `json:"succeeded,omitempty"`
	Skipped    []string      `json:"skipped,omitempty"`
	Failed     []string      `json:"failed,omitempty"`
	Blocked    []string      `json:"blocked,omitempty"`
	NotStarted []string      `json:"notStarted,omitempty"`
	DryRun     bool          `json:"dryRun,omitempty"`
	Duration   time.Duration `json:"duration"`
}

func (r *Report) finalize(d time.Duration) {
	r.Duration = d
	for _, e := range r.Entries {
		switch e.State {
		case StateFailed:
			r.Failed = append(r.Failed, e.Target)
		case StateBlocked:
			r.Blocked = append(r.Blocked, e.Target)
		case StatePending:
			r.NotStarted = append(r.NotStarted, e.Target)
		case StateDecided, StateSkipped, StateBuilt, StatePushed, StateNotPushed:
			if e.Decision.Skipped() {
				r.Skipped = append(r.Skipped, e.Target)
			} else {
				r.Succeeded = append(r.Succeeded, e.Target)
			}
		}
	}
}

// Entry returns the entry for target id.
func (r *Report) Entry(id string) (*PlanEntry, bool) {
	for _, e := range r.Entries {
		if e.Target == id {
			return e, true
		}
	}
	return nil, false
}

// Err joins the errors of failed targets, or returns nil.
func (r *Report) Err() error {
	var errs []error
	for _, e := range r.Entries {
		if e.State == StateFailed && e.Err != nil {
			errs = append(errs, e.Err)
		}
	}
	if len(errs) == 0 && len(r.NotStarted) > 0 {
		return errors.New("run interrupted before every target started")
	}
	return errors.Join(errs...)
}
