package pipeline

import (
	"context"
	"time"
)

// Stage is one step of the validation chain. A stage rejects the attempt
// by setting vc.Err; a returned error means infrastructure failure and
// aborts the whole request.
type Stage interface {
	Name() string
	Run(ctx context.Context, vc *Context) error
}

// Pipeline executes a fixed ordered stage chain over one Context,
// short-circuiting at the first rejection.
type Pipeline struct {
	stages []Stage
}

// Run executes the chain. Remaining stages never run after a rejection.
func (p *Pipeline) Run(ctx context.Context, vc *Context) error {
	for _, stage := range p.stages {
		start := time.Now()
		err := stage.Run(ctx, vc)
		vc.Trace = append(vc.Trace, TraceEntry{
			Stage:    stage.Name(),
			OK:       err == nil && vc.Err == nil,
			Duration: time.Since(start),
		})
		if err != nil {
			return err
		}
		if vc.Err != nil {
			vc.FailedAt = stage.Name()
			return nil
		}
	}
	return nil
}
