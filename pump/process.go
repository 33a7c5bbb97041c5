package pump

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pkg/errors"
)

// warnInterval bounds processing-failure warnings to one line per interval.
const warnInterval = time.Second

// ProcessError is a processing failure of a single step.
type ProcessError struct {
	Step uint64
	Err  error
}

func (e *ProcessError) Error() string {
	return fmt.Sprintf("step %d: processing batch: %v", e.Step, e.Err)
}

func (e *ProcessError) Unwrap() error { return e.Err }

func (p *Pump) process() {
	err := p.push()
	if err == nil {
		return
	}
	p.stats.ProcessErrors.Add(1)
	p.report(&ProcessError{Step: p.step, Err: err})
}

// push runs the processor, converting a panic into an error carrying the
// stack of the recover site.
func (p *Pump) push() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("processor panic: %v", r)
		}
	}()
	return p.proc.PushBatch(p.batch)
}

func (p *Pump) report(perr *ProcessError) {
	if p.log.Enabled(context.Background(), slog.LevelDebug) {
		p.log.Debug("batch processing failed",
			slog.Uint64("step", perr.Step),
			slog.String("detail", fmt.Sprintf("%+v", perr.Err)))
	}

	now := p.now()
	if !p.lastWarn.IsZero() && now.Sub(p.lastWarn) < warnInterval {
		p.suppressed++
		return
	}
	p.lastWarn = now
	p.log.Warn("batch processing failed",
		slog.Uint64("step", perr.Step),
		slog.Any("error", perr.Err),
		slog.Uint64("suppressed", p.suppressed))
	p.suppressed = 0
}
