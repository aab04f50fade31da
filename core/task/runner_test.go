package task

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/planforge/planforge/core/analysis"
	"github.com/planforge/planforge/core/blender"
	apperrors "github.com/planforge/planforge/core/errors"
	"github.com/planforge/planforge/core/pipeline"
)

// failingPipeline returns a pipeline whose analysis step fails, so runs
// terminate quickly without any external tooling.
func failingPipeline() *pipeline.Pipeline {
	return &pipeline.Pipeline{
		Analyzer: analysis.Func(func(ctx context.Context, imagePath, configPath string) (string, error) {
			return "", apperrors.NewAnalysis(imagePath, "unreadable image", nil)
		}),
		Locator:  &blender.Locator{LookupName: "planforge-no-such-tool"},
		Verifier: &blender.Verifier{},
	}
}

// slowPipeline returns a pipeline whose analysis step blocks until the
// context is cancelled or the given duration elapses.
func slowPipeline(d time.Duration) *pipeline.Pipeline {
	p := failingPipeline()
	p.Analyzer = analysis.Func(func(ctx context.Context, imagePath, configPath string) (string, error) {
		select {
		case <-ctx.Done():
			return "", apperrors.NewAnalysis(imagePath, "cancelled", ctx.Err())
		case <-time.After(d):
			return "", apperrors.NewAnalysis(imagePath, "slow failure", nil)
		}
	})
	return p
}

// collect drains a task's event stream.
func collect(t *testing.T, task *Task) []Event {
	t.Helper()
	var events []Event
	timeout := time.After(10 * time.Second)
	for {
		select {
		case ev, ok := <-task.Events():
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatalf("timed out waiting for events, got %v", events)
		}
	}
}

// TestStartDeliversSingleTerminalEvent tests that progress events precede
// exactly one terminal event and nothing follows it.
func TestStartDeliversSingleTerminalEvent(t *testing.T) {
	runner := NewRunner(failingPipeline())

	task, err := runner.Start(context.Background(), pipeline.Request{SourceImagePath: "plan.png"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if task.ID == "" {
		t.Error("expected a run ID")
	}

	events := collect(t, task)
	if len(events) == 0 {
		t.Fatal("expected at least the terminal event")
	}

	terminals := 0
	for i, ev := range events {
		if ev.Terminal() {
			terminals++
			if i != len(events)-1 {
				t.Errorf("terminal event at index %d is not last of %d", i, len(events))
			}
		}
	}
	if terminals != 1 {
		t.Errorf("expected exactly one terminal event, got %d", terminals)
	}

	last := events[len(events)-1]
	if last.Type != EventFailure {
		t.Errorf("expected failure terminal, got %s", last.Type)
	}
	if last.Result == nil || last.Result.Failure.Kind != pipeline.KindAnalysisFailure {
		t.Errorf("expected analysis failure result, got %+v", last.Result)
	}
}

// TestProgressPrecedesTerminal tests emission ordering.
func TestProgressPrecedesTerminal(t *testing.T) {
	runner := NewRunner(failingPipeline())

	task, err := runner.Start(context.Background(), pipeline.Request{SourceImagePath: "plan.png"})
	if err != nil {
		t.Fatal(err)
	}

	events := collect(t, task)
	if events[0].Type != EventProgress || events[0].Stage != pipeline.StageAnalyzing {
		t.Errorf("expected first event to be analyzing progress, got %+v", events[0])
	}
}

// TestStartWhileBusy tests the typed single-flight rejection.
func TestStartWhileBusy(t *testing.T) {
	runner := NewRunner(slowPipeline(5 * time.Second))

	first, err := runner.Start(context.Background(), pipeline.Request{SourceImagePath: "plan.png"})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := runner.Start(context.Background(), pipeline.Request{SourceImagePath: "other.png"}); !errors.Is(err, ErrBusy) {
		t.Errorf("expected ErrBusy, got %v", err)
	}

	first.Cancel()
	collect(t, first)
}

// TestRunnerReusableAfterTerminal tests that a new request is accepted
// once the previous run has delivered its terminal event.
func TestRunnerReusableAfterTerminal(t *testing.T) {
	runner := NewRunner(failingPipeline())

	first, err := runner.Start(context.Background(), pipeline.Request{SourceImagePath: "plan.png"})
	if err != nil {
		t.Fatal(err)
	}
	collect(t, first)

	second, err := runner.Start(context.Background(), pipeline.Request{SourceImagePath: "plan.png"})
	if err != nil {
		t.Fatalf("expected runner to accept a new request, got %v", err)
	}
	collect(t, second)

	if first.ID == second.ID {
		t.Error("expected distinct run IDs")
	}
}

// TestCancel tests that cancellation surfaces as a terminal failure.
func TestCancel(t *testing.T) {
	runner := NewRunner(slowPipeline(30 * time.Second))

	task, err := runner.Start(context.Background(), pipeline.Request{SourceImagePath: "plan.png"})
	if err != nil {
		t.Fatal(err)
	}

	task.Cancel()
	events := collect(t, task)
	last := events[len(events)-1]
	if last.Type != EventFailure {
		t.Errorf("expected failure terminal after cancel, got %s", last.Type)
	}
}

// TestResultAfterDone tests the handle's result accessor.
func TestResultAfterDone(t *testing.T) {
	runner := NewRunner(failingPipeline())

	task, err := runner.Start(context.Background(), pipeline.Request{SourceImagePath: "plan.png"})
	if err != nil {
		t.Fatal(err)
	}

	<-task.Done()
	result := task.Result()
	if result == nil || result.Succeeded() {
		t.Errorf("expected failure result, got %+v", result)
	}
	if runner.Active() {
		t.Error("runner should be idle after terminal event")
	}
}
