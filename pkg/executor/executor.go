// Package executor applies a plan against a backend. It executes
// create and update actions kind by kind in dependency order, then
// destroy actions in reverse, with optional parallelism inside each
// tier. The executor holds no state between runs.
package executor

import (
	"sync"

	"github.com/kestrelhq/kestrel/pkg/backend"
	"github.com/kestrelhq/kestrel/pkg/cloudinit"
	"github.com/kestrelhq/kestrel/pkg/journal"
	"github.com/kestrelhq/kestrel/pkg/telemetry"
)

// Mode selects how actions within a tier are executed.
type Mode string

const (
	// ModeSerial executes actions one at a time in plan order.
	ModeSerial Mode = "serial"

	// ModeParallel executes independent actions within a tier
	// concurrently. Tiers still run in sequence.
	ModeParallel Mode = "parallel"
)

// OnError selects what happens after an action fails.
type OnError string

const (
	// OnErrorHalt stops executing further actions after the first failure.
	OnErrorHalt OnError = "halt"

	// OnErrorContinue keeps executing the remaining actions and
	// aggregates all failures.
	OnErrorContinue OnError = "continue"
)

// Options configures one execution run.
type Options struct {
	// Mode selects serial or parallel execution. Defaults to serial.
	Mode Mode

	// DryRun reports what would be done without touching the backend.
	DryRun bool

	// OnError selects halt or continue behavior. Defaults to halt.
	OnError OnError

	// RollbackOnError destroys the resources this run created, in
	// reverse order, after a failure. Only creates are rolled back;
	// updates and destroys are not undone.
	RollbackOnError bool

	// MaxConcurrency caps the worker count in parallel mode.
	// Defaults to 4.
	MaxConcurrency int

	// Command labels the run in the journal. Defaults to apply.
	Command string
}

func (o *Options) applyDefaults() {
	if o.Mode == "" {
		o.Mode = ModeSerial
	}
	if o.OnError == "" {
		o.OnError = OnErrorHalt
	}
	if o.MaxConcurrency <= 0 {
		o.MaxConcurrency = 4
	}
	if o.Command == "" {
		o.Command = "apply"
	}
}

// Executor applies plans against a backend.
type Executor struct {
	backend  backend.Backend
	renderer *cloudinit.Renderer
	log      *telemetry.Logger
	metrics  *telemetry.Metrics
	tracer   *telemetry.Tracer
	journal  *journal.Journal

	// mu guards locks; each resource name gets its own mutex so
	// parallel workers never operate on the same resource at once.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Option customizes an Executor.
type Option func(*Executor)

// WithRenderer sets the cloud-init renderer used to seed node volumes.
func WithRenderer(r *cloudinit.Renderer) Option {
	return func(e *Executor) { e.renderer = r }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(e *Executor) { e.metrics = m }
}

// WithTracer sets the tracer.
func WithTracer(t *telemetry.Tracer) Option {
	return func(e *Executor) { e.tracer = t }
}

// WithJournal sets the run journal.
func WithJournal(j *journal.Journal) Option {
	return func(e *Executor) { e.journal = j }
}

// New creates an executor for the given backend and logger.
func New(b backend.Backend, log *telemetry.Logger, opts ...Option) *Executor {
	e := &Executor{
		backend: b,
		log:     log,
		locks:   make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// lockFor returns the mutex guarding one resource, creating it on first use.
func (e *Executor) lockFor(key string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[key]
	if !ok {
		l = &sync.Mutex{}
		e.locks[key] = l
	}
	return l
}
