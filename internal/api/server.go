// Package api exposes the Swarmbench HTTP surface: planner sessions, run
// launch, event pagination, live SSE streaming, result export, and judging.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/hivemetrics/swarmbench/internal/benchspec"
	"github.com/hivemetrics/swarmbench/internal/export"
	"github.com/hivemetrics/swarmbench/internal/judge"
	"github.com/hivemetrics/swarmbench/internal/notify"
	"github.com/hivemetrics/swarmbench/internal/planner"
	"github.com/hivemetrics/swarmbench/internal/registry"
	"github.com/hivemetrics/swarmbench/internal/runlog"
	"github.com/hivemetrics/swarmbench/internal/swarm"
)

// Deps holds everything the handlers need. One instance is shared by all
// routes; the zero value of the unexported fields is completed by init.
type Deps struct {
	Store     *runlog.Store
	Swarm     *swarm.Orchestrator
	Planner   *planner.Planner
	Judge     *judge.Judge
	Exporter  *export.Exporter
	Notifiers []notify.Notifier

	// Models is the default roster; a request can narrow or extend it.
	Models []registry.ModelSpec
	// Reps is the default repetition count for launched runs.
	Reps int
	// ScenariosDir locates the built-in scenarios, used as the judge's
	// question-bank fallback.
	ScenariosDir string
	// Env is reported by the health endpoint.
	Env string

	runCtx context.Context

	mu        sync.Mutex
	questions map[string][]benchspec.Question
}

func (d *Deps) init() {
	if d.runCtx == nil {
		d.runCtx = context.Background()
	}
	if d.questions == nil {
		d.questions = make(map[string][]benchspec.Question)
	}
	if d.Reps <= 0 {
		d.Reps = swarm.DefaultReps
	}
}

// setRunQuestions retains a launched run's evaluation questions so the judge
// endpoint can score against the same bank the scenario declared.
func (d *Deps) setRunQuestions(runID string, questions []benchspec.Question) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.questions[runID] = questions
}

func (d *Deps) runQuestions(runID string) []benchspec.Question {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.questions[runID]
}

// launch drives one run to completion in the background: swarm fan-out, SSE
// sample, export, then notifications. Failures after the swarm settles are
// logged and never fail the run.
func (d *Deps) launch(runID string, models []registry.ModelSpec, reps int, spec *benchspec.Spec) {
	go func() {
		if _, err := d.Swarm.Run(d.runCtx, runID, models, reps, spec); err != nil {
			log.Printf("api: run %s: %v", runID, err)
			d.Store.SetRunFailed(runID)
			return
		}
		if _, err := d.Store.WriteSSESample(runID); err != nil {
			log.Printf("api: sse sample for run %s: %v", runID, err)
		}
		if _, err := d.Exporter.WriteResults(runID); err != nil {
			log.Printf("api: export run %s: %v", runID, err)
		}
		if len(d.Notifiers) == 0 {
			return
		}
		run, err := d.Store.Run(runID)
		if err != nil {
			return
		}
		results, err := d.Store.Results(runID)
		if err != nil {
			return
		}
		notify.Broadcast(d.runCtx, d.Notifiers, notify.RunFinished(run, results))
	}()
}

// StartOpts holds configuration for the API server.
type StartOpts struct {
	Deps *Deps
	Port int
	Out  io.Writer
}

// Start launches the HTTP server. It blocks until ctx is cancelled, then
// shuts down gracefully; runs launched through the server share ctx, so
// in-flight tasks settle as errors during shutdown.
func Start(ctx context.Context, opts StartOpts) error {
	deps := opts.Deps
	if deps == nil {
		return fmt.Errorf("api: deps are required")
	}
	if deps.Store == nil {
		return fmt.Errorf("api: store is required")
	}
	if deps.Swarm == nil {
		return fmt.Errorf("api: swarm orchestrator is required")
	}
	if deps.Planner == nil {
		return fmt.Errorf("api: planner is required")
	}
	if deps.Judge == nil {
		return fmt.Errorf("api: judge is required")
	}
	if deps.Exporter == nil {
		return fmt.Errorf("api: exporter is required")
	}
	if opts.Port <= 0 {
		opts.Port = 8080
	}
	deps.runCtx = ctx

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	registerRoutes(router, deps)

	addr := fmt.Sprintf(":%d", opts.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	// Graceful shutdown on context cancellation.
	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "Swarmbench API running at http://localhost:%d\n", opts.Port)
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api: %w", err)
	}
	return nil
}

// respondError maps store errors to HTTP: unknown ids are 404, anything else
// is a 500.
func respondError(c *gin.Context, err error, notFoundMsg string) {
	if errors.Is(err, runlog.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": notFoundMsg})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

// bindOptionalJSON decodes a JSON body into target, treating an absent or
// empty body as the zero value rather than an error.
func bindOptionalJSON(c *gin.Context, target any) error {
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return nil
	}
	if err := c.ShouldBindJSON(target); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
