// Package swarm is the multi-model fan-out executor: it runs every
// (repetition, model) pair of a benchmark scenario concurrently under a
// bounded limiter, streams partial output into the run's event log, and
// records one Result per pair.
package swarm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hivemetrics/swarmbench/internal/benchspec"
	"github.com/hivemetrics/swarmbench/internal/openrouter"
	"github.com/hivemetrics/swarmbench/internal/registry"
	"github.com/hivemetrics/swarmbench/internal/runlog"
)

// DefaultReps is the repetition count when the caller passes none.
const DefaultReps = 5

// defaultMaxConcurrency caps in-flight model streams across all tasks of a
// run; OpenRouter rate-limits above this.
const defaultMaxConcurrency = 10

const narratorSystemPrompt = "You are a rigorous assistant. Narrate what you are doing out loud" +
	" while you analyze. Speak in natural first-person commentary," +
	" concise but explicit, grounded only in the provided data and rubric."

// Streamer is the streaming chat-completion dependency.
type Streamer interface {
	Stream(ctx context.Context, model string, messages []openrouter.Message) (<-chan openrouter.StreamChunk, error)
}

// Opts configures an Orchestrator.
type Opts struct {
	Store        *runlog.Store
	Streamer     Streamer
	TraceProject string
	ScenariosDir string // root of built-in scenarios, used when a run has no spec

	// MaxConcurrency bounds in-flight streams; 0 means the default of 10.
	MaxConcurrency int
}

// Orchestrator drives swarm runs against one store and one streamer.
type Orchestrator struct {
	store          *runlog.Store
	streamer       Streamer
	traceProject   string
	scenariosDir   string
	maxConcurrency int
}

// New builds an Orchestrator.
func New(opts Opts) (*Orchestrator, error) {
	if opts.Store == nil {
		return nil, errors.New("swarm: store is required")
	}
	if opts.Streamer == nil {
		return nil, errors.New("swarm: streamer is required")
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = defaultMaxConcurrency
	}
	return &Orchestrator{
		store:          opts.Store,
		streamer:       opts.Streamer,
		traceProject:   opts.TraceProject,
		scenariosDir:   opts.ScenariosDir,
		maxConcurrency: opts.MaxConcurrency,
	}, nil
}

// Run executes models x reps tasks against one scenario and blocks until
// every task settles. A nil spec selects the built-in default scenario.
// Scenario-loading failures abort before any task starts; per-task failures
// are isolated into error Results and never fail the run as a whole.
func (o *Orchestrator) Run(ctx context.Context, runID string, models []registry.ModelSpec, reps int, spec *benchspec.Spec) ([]runlog.Result, error) {
	if reps <= 0 {
		reps = DefaultReps
	}

	scenario := spec
	if scenario == nil {
		var err error
		scenario, err = DefaultScenario(o.scenariosDir)
		if err != nil {
			return nil, err
		}
	}
	messages, err := buildMessages(scenario)
	if err != nil {
		return nil, err
	}

	total := len(models) * reps

	_, err = o.store.AddRunEvent(runID, runlog.EventOpts{
		AgentID:   "swarm",
		EventType: runlog.EventRunStarted,
		Phase:     runlog.PhaseBootstrap,
		Content:   fmt.Sprintf("Swarm started: %d models x %d reps = %d tasks", len(models), reps, total),
		Model:     "swarm",
		Trace: runlog.TraceContext{
			Project: o.traceProject,
			TraceID: "trace-" + runID,
			CallID:  "call-" + runID + "-start",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("swarm: start run: %w", err)
	}

	sem := make(chan struct{}, o.maxConcurrency)
	results := make([]runlog.Result, total)
	var wg sync.WaitGroup
	slot := 0
	for rep := 0; rep < reps; rep++ {
		for _, model := range models {
			wg.Add(1)
			go func(slot int, model registry.ModelSpec, rep int) {
				defer wg.Done()
				results[slot] = o.runSingleModel(ctx, runID, model, rep, messages, sem)
			}(slot, model, rep)
			slot++
		}
	}
	wg.Wait()

	completed := 0
	for _, r := range results {
		if r.Status == runlog.ResultCompleted {
			completed++
		}
	}
	errored := total - completed

	o.store.AddRunEvent(runID, runlog.EventOpts{
		AgentID:   "swarm",
		EventType: runlog.EventRunCompleted,
		Phase:     runlog.PhaseDone,
		Content:   fmt.Sprintf("Swarm finished: %d/%d succeeded, %d errors", completed, total, errored),
		Model:     "swarm",
		Trace: runlog.TraceContext{
			Project: o.traceProject,
			TraceID: "trace-" + runID,
			CallID:  "call-" + runID + "-done",
		},
	})

	o.store.SetRunComplete(runID)
	return results, nil
}

// runSingleModel executes one (model, repetition) task: stream, accumulate,
// emit progress events, finalize exactly one Result. All failure modes end
// here as an error Result; nothing propagates to sibling tasks.
func (o *Orchestrator) runSingleModel(ctx context.Context, runID string, model registry.ModelSpec, repIndex int, messages []openrouter.Message, sem chan struct{}) runlog.Result {
	traceID := fmt.Sprintf("trace-%s-%s-%d", runID, model.ID, repIndex)
	callPrefix := fmt.Sprintf("call-%s-%s-%d", runID, model.ID, repIndex)
	rep := repIndex

	o.store.AddRunEvent(runID, runlog.EventOpts{
		AgentID:   "multi-model-runner",
		EventType: runlog.EventModelRunStarted,
		Phase:     runlog.PhaseExecution,
		Content:   fmt.Sprintf("Starting %s rep %d", model.Name, repIndex),
		Model:     model.ID,
		ModelID:   model.ID,
		RepIndex:  &rep,
		Trace:     o.trace(traceID, callPrefix+"-start"),
	})

	var text strings.Builder
	chunkCount := 0
	var usage map[string]any
	var streamErr error

	// Latency includes time spent waiting for a limiter slot.
	t0 := time.Now()

	select {
	case sem <- struct{}{}:
		stream, err := o.streamer.Stream(ctx, model.ID, messages)
		if err != nil {
			streamErr = err
		} else {
			for chunk := range stream {
				if chunk.Err != nil {
					streamErr = chunk.Err
					break
				}
				if chunk.Done {
					continue
				}
				chunkCount++
				if chunk.ContentDelta != "" {
					text.WriteString(chunk.ContentDelta)
					o.store.AddRunEvent(runID, runlog.EventOpts{
						AgentID:      "multi-model-runner",
						EventType:    runlog.EventNarrationDelta,
						Phase:        runlog.PhaseExecution,
						Content:      chunk.ContentDelta,
						Model:        model.ID,
						ModelID:      model.ID,
						RepIndex:     &rep,
						ChunkIndex:   chunkCount,
						ContentDelta: chunk.ContentDelta,
						Trace:        o.trace(traceID, fmt.Sprintf("%s-chunk-%d", callPrefix, chunkCount)),
					})
				}
				if len(chunk.ReasoningDetails) > 0 {
					o.store.AddRunEvent(runID, runlog.EventOpts{
						AgentID:          "multi-model-runner",
						EventType:        runlog.EventReasoningDelta,
						Phase:            runlog.PhaseExecution,
						Model:            model.ID,
						ModelID:          model.ID,
						RepIndex:         &rep,
						ChunkIndex:       chunkCount,
						ReasoningDetails: chunk.ReasoningDetails,
						Trace:            o.trace(traceID, fmt.Sprintf("%s-reasoning-%d", callPrefix, chunkCount)),
					})
				}
				if chunk.Usage != nil {
					usage = chunk.Usage
				}
			}
		}
		<-sem
	case <-ctx.Done():
		streamErr = ctx.Err()
	}

	latencyMS := time.Since(t0).Milliseconds()

	if streamErr != nil {
		o.store.AddRunEvent(runID, runlog.EventOpts{
			AgentID:   "multi-model-runner",
			EventType: runlog.EventModelRunError,
			Phase:     runlog.PhaseExecution,
			Content:   fmt.Sprintf("Error on %s rep %d: %v", model.Name, repIndex, streamErr),
			Model:     model.ID,
			ModelID:   model.ID,
			RepIndex:  &rep,
			Trace:     o.trace(traceID, callPrefix+"-error"),
		})
		result := runlog.Result{
			ModelID:   model.ID,
			RepIndex:  repIndex,
			Status:    runlog.ResultError,
			Error:     streamErr.Error(),
			Output:    text.String(),
			LatencyMS: latencyMS,
			Chunks:    chunkCount,
			TraceID:   traceID,
		}
		o.store.SetModelResult(runID, model.ID, repIndex, result)
		return result
	}

	if usage != nil {
		o.store.AddRunEvent(runID, runlog.EventOpts{
			AgentID:   "multi-model-runner",
			EventType: runlog.EventUsageFinal,
			Phase:     runlog.PhaseUsage,
			Model:     model.ID,
			ModelID:   model.ID,
			RepIndex:  &rep,
			Usage:     usage,
			Trace:     o.trace(traceID, callPrefix+"-usage"),
		})
	}

	o.store.AddRunEvent(runID, runlog.EventOpts{
		AgentID:   "multi-model-runner",
		EventType: runlog.EventModelRunCompleted,
		Phase:     runlog.PhaseExecution,
		Content:   fmt.Sprintf("Completed %s rep %d (%dms, %d chunks)", model.Name, repIndex, latencyMS, chunkCount),
		Model:     model.ID,
		ModelID:   model.ID,
		RepIndex:  &rep,
		Usage:     usage,
		Trace:     o.trace(traceID, callPrefix+"-done"),
	})

	result := runlog.Result{
		ModelID:   model.ID,
		RepIndex:  repIndex,
		Status:    runlog.ResultCompleted,
		Output:    text.String(),
		LatencyMS: latencyMS,
		Usage:     usage,
		Chunks:    chunkCount,
		TraceID:   traceID,
	}
	o.store.SetModelResult(runID, model.ID, repIndex, result)
	return result
}

func (o *Orchestrator) trace(traceID, callID string) runlog.TraceContext {
	return runlog.TraceContext{
		Project: o.traceProject,
		TraceID: traceID,
		CallID:  callID,
	}
}

// buildMessages renders the fixed two-message payload every task shares:
// the narration instruction plus the prompt, serialized input data, and
// rubric.
func buildMessages(spec *benchspec.Spec) ([]openrouter.Message, error) {
	input := spec.InputData
	if input == nil {
		input = map[string]any{}
	}
	data, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("swarm: marshal input data: %w", err)
	}
	return []openrouter.Message{
		{Role: "system", Content: narratorSystemPrompt},
		{
			Role: "user",
			Content: fmt.Sprintf("%s\n\nInput data:\n%s\n\nEvaluation rubric:\n%s",
				spec.Prompt, data, spec.Evaluation),
		},
	}, nil
}
