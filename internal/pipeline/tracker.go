package pipeline

import (
	"time"

	"go.uber.org/zap"
)

// PhaseTiming is the wall-clock duration of one stage.
type PhaseTiming struct {
	Phase    State         `json:"phase"`
	Duration time.Duration `json:"duration"`
	Failed   bool          `json:"failed,omitempty"`
}

// Timings summarizes a run against its mode's target duration.
type Timings struct {
	Phases []PhaseTiming `json:"phases"`
	Total  time.Duration `json:"total"`
	Target time.Duration `json:"target"`
}

// WithinTarget reports whether the run finished inside the mode target.
func (t Timings) WithinTarget() bool {
	return t.Target <= 0 || t.Total <= t.Target
}

// tracker records per-phase durations for one run.
type tracker struct {
	log    *zap.Logger
	now    func() time.Time
	start  time.Time
	target time.Duration
	phases []PhaseTiming
}

func newTracker(log *zap.Logger, target time.Duration, now func() time.Time) *tracker {
	return &tracker{log: log, now: now, start: now(), target: target}
}

// track times fn as the given phase.
func (t *tracker) track(phase State, fn func() error) error {
	start := t.now()
	err := fn()
	d := t.now().Sub(start)
	t.phases = append(t.phases, PhaseTiming{Phase: phase, Duration: d, Failed: err != nil})

	if err != nil {
		t.log.Warn("pipeline: phase failed",
			zap.String("phase", string(phase)),
			zap.Int64("duration_ms", d.Milliseconds()),
			zap.Error(err),
		)
	} else {
		t.log.Info("pipeline: phase complete",
			zap.String("phase", string(phase)),
			zap.Int64("duration_ms", d.Milliseconds()),
		)
	}
	return err
}

// finish closes the run and logs the total against the target.
func (t *tracker) finish() Timings {
	out := Timings{
		Phases: append([]PhaseTiming(nil), t.phases...),
		Total:  t.now().Sub(t.start),
		Target: t.target,
	}
	fields := []zap.Field{
		zap.Duration("total", out.Total),
		zap.Duration("target", out.Target),
	}
	if out.WithinTarget() {
		t.log.Info("pipeline: completed within target", fields...)
	} else {
		t.log.Warn("pipeline: exceeded target duration",
			append(fields, zap.Duration("over_by", out.Total-out.Target))...)
	}
	return out
}
