package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/hivemetrics/swarmbench/internal/benchspec"
	"github.com/hivemetrics/swarmbench/internal/registry"
	"github.com/hivemetrics/swarmbench/internal/runlog"
	"github.com/hivemetrics/swarmbench/internal/swarm"
)

// handleStartRun launches a run without a planner conversation: an inline
// spec when the request carries one, otherwise the built-in default
// scenario. An implicit session backs the run.
func handleStartRun(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Spec   map[string]any `json:"spec"`
			Models []string       `json:"models"`
			Reps   int            `json:"reps"`
		}
		if err := bindOptionalJSON(c, &req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}

		var spec *benchspec.Spec
		if len(req.Spec) > 0 {
			var err error
			spec, err = benchspec.Normalize(req.Spec)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
		}

		models := resolveModels(deps.Models, req.Models)
		if len(models) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "no models configured"})
			return
		}
		reps := req.Reps
		if reps <= 0 {
			reps = deps.Reps
		}

		sess := deps.Store.CreateSession()
		run, err := deps.Store.CreateRun(sess.ID)
		if err != nil {
			respondError(c, err, "session not found")
			return
		}
		if spec != nil && len(spec.Questions) > 0 {
			deps.setRunQuestions(run.ID, spec.Questions)
		}
		deps.launch(run.ID, models, reps, spec)

		c.JSON(http.StatusOK, gin.H{
			"run_id":     run.ID,
			"session_id": sess.ID,
			"status":     runlog.RunRunning,
			"models":     models,
		})
	}
}

func handleGetRun(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		run, err := deps.Store.Run(c.Param("id"))
		if err != nil {
			respondError(c, err, "run not found")
			return
		}
		results, err := deps.Store.Results(run.ID)
		if err != nil {
			respondError(c, err, "run not found")
			return
		}

		completed := 0
		for _, res := range results {
			if res.Status == runlog.ResultCompleted {
				completed++
			}
		}
		progress := 0.0
		if len(results) > 0 {
			progress = float64(completed) / float64(len(results)) * 100
		}

		c.JSON(http.StatusOK, gin.H{
			"run_id":          run.ID,
			"session_id":      run.SessionID,
			"status":          run.Status,
			"progress":        progress,
			"total_tasks":     len(results),
			"completed_tasks": completed,
		})
	}
}

func handleRunEvents(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		cursor := 0
		if raw := c.Query("cursor"); raw != "" {
			var err error
			cursor, err = strconv.Atoi(raw)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "cursor must be an integer"})
				return
			}
		}

		events, err := deps.Store.Events(c.Param("id"), cursor, c.Query("model_id"))
		if err != nil {
			respondError(c, err, "run not found")
			return
		}

		nextCursor := c.Query("cursor")
		if len(events) > 0 {
			nextCursor = events[len(events)-1].Cursor
		}
		c.JSON(http.StatusOK, gin.H{"events": events, "next_cursor": nextCursor})
	}
}

func handleRunResults(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		run, err := deps.Store.Run(c.Param("id"))
		if err != nil {
			respondError(c, err, "run not found")
			return
		}
		results, err := deps.Store.Results(run.ID)
		if err != nil {
			respondError(c, err, "run not found")
			return
		}

		completed := 0
		for _, res := range results {
			if res.Status == runlog.ResultCompleted {
				completed++
			}
		}

		c.JSON(http.StatusOK, gin.H{
			"run_id":    run.ID,
			"status":    run.Status,
			"results":   results,
			"total":     len(results),
			"completed": completed,
			"errored":   len(results) - completed,
		})
	}
}

func handleRunExport(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		dir, err := deps.Exporter.WriteResults(c.Param("id"))
		if err != nil {
			respondError(c, err, "run not found")
			return
		}
		c.JSON(http.StatusOK, gin.H{"output_dir": dir})
	}
}

// handleRunJudge scores one representative completed output per model
// against the run's question bank, falling back to the default scenario's
// bank when the run declared none.
func handleRunJudge(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		run, err := deps.Store.Run(c.Param("id"))
		if err != nil {
			respondError(c, err, "run not found")
			return
		}
		if run.Status == runlog.RunRunning {
			c.JSON(http.StatusConflict, gin.H{"error": "run is still running"})
			return
		}

		results, err := deps.Store.Results(run.ID)
		if err != nil {
			respondError(c, err, "run not found")
			return
		}
		outputs := representativeOutputs(results)
		if len(outputs) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "no completed results to judge"})
			return
		}

		questions := deps.runQuestions(run.ID)
		if len(questions) == 0 {
			scenario, err := swarm.DefaultScenario(deps.ScenariosDir)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			questions = scenario.Questions
		}
		if len(questions) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "no evaluation questions available"})
			return
		}

		c.JSON(http.StatusOK, deps.Judge.ScoreRun(c.Request.Context(), outputs, questions))
	}
}

// representativeOutputs picks one completed output per model, preferring the
// lowest repetition index so repeated judging stays deterministic.
func representativeOutputs(results map[string]runlog.Result) map[string]string {
	lowest := make(map[string]int)
	outputs := make(map[string]string)
	for _, res := range results {
		if res.Status != runlog.ResultCompleted {
			continue
		}
		if rep, ok := lowest[res.ModelID]; ok && rep <= res.RepIndex {
			continue
		}
		lowest[res.ModelID] = res.RepIndex
		outputs[res.ModelID] = res.Output
	}
	return outputs
}

// resolveModels picks the requested roster entries, keeping request order.
// Ids missing from the roster still run, with metadata derived on the fly.
// An empty request selects the whole roster.
func resolveModels(roster []registry.ModelSpec, ids []string) []registry.ModelSpec {
	if len(ids) == 0 {
		return roster
	}
	byID := make(map[string]registry.ModelSpec, len(roster))
	for _, m := range roster {
		byID[m.ID] = m
	}
	models := make([]registry.ModelSpec, 0, len(ids))
	for _, id := range ids {
		if m, ok := byID[id]; ok {
			models = append(models, m)
			continue
		}
		models = append(models, registry.Default(id)[0])
	}
	return models
}
