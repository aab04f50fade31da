// Package task runs conversion pipelines off the caller's goroutine and
// delivers progress and terminal notifications as an ordered event stream.
package task

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/planforge/planforge/core/pipeline"
	"github.com/planforge/planforge/internal/logging"
)

// ErrBusy is returned by Start while a previous run is still in flight.
// The runner rejects concurrent requests instead of queueing them.
var ErrBusy = errors.New("a conversion is already in flight")

// EventType classifies notifications on a task's event stream.
type EventType string

const (
	// EventProgress reports a stage transition. Zero or more per run.
	EventProgress EventType = "progress"
	// EventSuccess is the terminal success notification.
	EventSuccess EventType = "success"
	// EventFailure is the terminal failure notification.
	EventFailure EventType = "failure"
)

// Event is a single notification. Events arrive in emission order and the
// stream ends with exactly one terminal event, after which the channel is
// closed.
type Event struct {
	Type    EventType
	Stage   pipeline.Stage
	Message string
	// OutputPath is set on EventSuccess.
	OutputPath string
	// Result is set on terminal events.
	Result *pipeline.Result
}

// Terminal reports whether this event ends the stream.
func (e Event) Terminal() bool {
	return e.Type == EventSuccess || e.Type == EventFailure
}

// Task is the handle for one in-flight conversion.
type Task struct {
	// ID uniquely identifies the run; it also tags the run's log records.
	ID string

	events chan Event
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	result *pipeline.Result
}

// Events returns the ordered notification stream. The channel is closed
// after the terminal event is delivered.
func (t *Task) Events() <-chan Event {
	return t.events
}

// Cancel aborts the run. The in-flight stage surfaces the cancellation as
// its terminal failure.
func (t *Task) Cancel() {
	t.cancel()
}

// Done is closed once the terminal event has been emitted.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Result returns the terminal result, or nil while the run is in flight.
func (t *Task) Result() *pipeline.Result {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.result
}

// Runner starts pipeline runs on background goroutines. At most one run
// is in flight per Runner.
type Runner struct {
	// Pipeline is the template for each run; it is copied per run so the
	// progress hook never leaks between requests.
	Pipeline *pipeline.Pipeline

	mu     sync.Mutex
	active bool
}

// NewRunner creates a runner around a configured pipeline.
func NewRunner(p *pipeline.Pipeline) *Runner {
	return &Runner{Pipeline: p}
}

// Start begins a conversion in the background and returns its handle. It
// returns ErrBusy while a previous run has not yet delivered its terminal
// event. The event channel is buffered generously so pipeline progress is
// never blocked on a slow consumer of early events.
func (r *Runner) Start(ctx context.Context, req pipeline.Request) (*Task, error) {
	r.mu.Lock()
	if r.active {
		r.mu.Unlock()
		return nil, ErrBusy
	}
	r.active = true
	r.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	t := &Task{
		ID:     uuid.New().String(),
		events: make(chan Event, 16),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	// Per-run copy: the shared template stays untouched.
	p := *r.Pipeline
	p.Progress = func(stage pipeline.Stage, message string) {
		t.events <- Event{Type: EventProgress, Stage: stage, Message: message}
	}

	go func() {
		defer cancel()

		logCtx := logging.WithRunID(runCtx, t.ID)
		result := p.Run(logCtx, req)

		t.mu.Lock()
		t.result = result
		t.mu.Unlock()

		if result.Succeeded() {
			t.events <- Event{
				Type:       EventSuccess,
				Stage:      pipeline.StageDone,
				Message:    "Model saved at " + result.OutputPath,
				OutputPath: result.OutputPath,
				Result:     result,
			}
		} else {
			t.events <- Event{
				Type:    EventFailure,
				Stage:   result.Failure.Stage,
				Message: result.Failure.Message,
				Result:  result,
			}
		}
		r.mu.Lock()
		r.active = false
		r.mu.Unlock()

		close(t.events)
		close(t.done)
	}()

	return t, nil
}

// Active reports whether a run is currently in flight.
func (r *Runner) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}
