package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Factory builds a fresh Pipeline, with its own gateway clients, for an
// identity (signing key, "" for read-only). release frees those clients and
// is called once the pipeline and its confirmations are done.
type Factory func(ctx context.Context, identity string) (p *Pipeline, release func(), err error)

// Runner owns the running Pipeline and replaces it on identity changes.
type Runner struct {
	factory Factory

	mu      sync.Mutex
	parent  context.Context
	current *Pipeline
	cancel  context.CancelFunc
	done    chan struct{}
	drains  sync.WaitGroup
}

// NewRunner creates a Runner.
func NewRunner(factory Factory) *Runner {
	return &Runner{factory: factory}
}

// Start builds and starts the first pipeline. The pipelines stop when ctx
// is done.
func (r *Runner) Start(ctx context.Context, identity string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current != nil {
		return errors.New("pipeline.Start: already running")
	}
	r.parent = ctx
	return r.startLocked(identity)
}

// Reconfigure tears down the running pipeline (its timers and clients) and
// starts a new one for identity. Confirmations of the old pipeline keep
// running until they finish; its clients are released after that.
func (r *Runner) Reconfigure(identity string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.parent == nil {
		return errors.New("pipeline.Reconfigure: not started")
	}
	r.stopLocked()
	if err := r.startLocked(identity); err != nil {
		return err
	}
	slog.Info("pipeline reconfigured")
	return nil
}

// Current returns the running pipeline, or nil.
func (r *Runner) Current() *Pipeline {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Stop stops the running pipeline and waits for every pipeline's in-flight
// confirmations, old ones included.
func (r *Runner) Stop() {
	r.mu.Lock()
	r.stopLocked()
	r.mu.Unlock()

	r.drains.Wait()
}

func (r *Runner) startLocked(identity string) error {
	p, release, err := r.factory(r.parent, identity)
	if err != nil {
		return fmt.Errorf("pipeline: build: %w", err)
	}

	ctx, cancel := context.WithCancel(r.parent)
	done := make(chan struct{})
	r.current, r.cancel, r.done = p, cancel, done

	r.drains.Add(1)
	go func() {
		defer r.drains.Done()
		p.Run(ctx)
		close(done)
		p.Wait()
		if release != nil {
			release()
		}
	}()
	return nil
}

func (r *Runner) stopLocked() {
	if r.current == nil {
		return
	}
	r.cancel()
	<-r.done
	r.current, r.cancel, r.done = nil, nil, nil
}
