package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/hivemetrics/swarmbench/internal/benchspec"
	"github.com/hivemetrics/swarmbench/internal/openrouter"
	"github.com/hivemetrics/swarmbench/internal/runlog"
)

// registerRoutes sets up all API routes on the Gin router.
func registerRoutes(router *gin.Engine, deps *Deps) {
	deps.init()

	router.GET("/health", handleHealth(deps))
	router.GET("/api/models", handleModels(deps))

	router.POST("/api/planner/sessions", handleCreateSession(deps))
	router.GET("/api/planner/sessions/:id", handleGetSession(deps))
	router.POST("/api/planner/sessions/:id/messages", handleSessionMessage(deps))
	router.POST("/api/planner/sessions/:id/confirm", handleConfirmSession(deps))
	router.POST("/api/planner/validate", handleValidateSpec(deps))

	router.POST("/api/runs/start", handleStartRun(deps))
	router.GET("/api/runs/:id", handleGetRun(deps))
	router.GET("/api/runs/:id/events", handleRunEvents(deps))
	router.GET("/api/runs/:id/stream", handleRunStream(deps))
	router.GET("/api/runs/:id/results", handleRunResults(deps))
	router.POST("/api/runs/:id/export", handleRunExport(deps))
	router.POST("/api/runs/:id/judge", handleRunJudge(deps))
}

func handleHealth(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "env": deps.Env})
	}
}

func handleModels(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"models": deps.Models})
	}
}

func handleCreateSession(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, deps.Store.CreateSession())
	}
}

func handleGetSession(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, err := deps.Store.Session(c.Param("id"))
		if err != nil {
			respondError(c, err, "session not found")
			return
		}
		c.JSON(http.StatusOK, sess)
	}
}

// handleSessionMessage runs one planner turn: the new user message plus the
// session history go to the planner, and both sides of the exchange are
// appended to the session along with any extracted draft spec.
func handleSessionMessage(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		var req struct {
			Message string `json:"message"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if strings.TrimSpace(req.Message) == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "message is required"})
			return
		}

		sess, err := deps.Store.Session(id)
		if err != nil {
			respondError(c, err, "session not found")
			return
		}

		turn, err := deps.Planner.Turn(c.Request.Context(), chatHistory(sess.Messages), req.Message)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		deps.Store.AddSessionMessage(id, "user", req.Message)
		deps.Store.AddSessionMessage(id, "assistant", turn.AssistantMessage)
		ready := turn.DraftSpec != nil
		deps.Store.SetSessionDraft(id, turn.DraftPrompt, turn.DraftSpec, ready)

		c.JSON(http.StatusOK, gin.H{
			"session_id":        id,
			"assistant_message": turn.AssistantMessage,
			"draft_spec":        turn.DraftSpec,
			"ready_to_confirm":  ready,
		})
	}
}

// handleConfirmSession normalizes the session's draft spec and launches a
// run from it. A session without a draft runs the built-in default scenario.
// Validation failures return 400 and no run is created.
func handleConfirmSession(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		var req struct {
			Models []string `json:"models"`
			Reps   int      `json:"reps"`
		}
		if err := bindOptionalJSON(c, &req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}

		sess, err := deps.Store.Session(id)
		if err != nil {
			respondError(c, err, "session not found")
			return
		}

		var spec *benchspec.Spec
		if len(sess.DraftSpec) > 0 {
			spec, err = benchspec.Normalize(sess.DraftSpec)
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

		deps.Store.ConfirmSession(id)
		run, err := deps.Store.CreateRun(id)
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
			"session_id": id,
			"status":     runlog.RunRunning,
		})
	}
}

func handleValidateSpec(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Spec map[string]any `json:"spec"`
		}
		if err := c.ShouldBindJSON(&req); err != nil || req.Spec == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "spec is required"})
			return
		}
		if _, err := benchspec.Normalize(req.Spec); err != nil {
			c.JSON(http.StatusOK, gin.H{"valid": false, "errors": []string{err.Error()}})
			return
		}
		c.JSON(http.StatusOK, gin.H{"valid": true, "errors": []string{}})
	}
}

func chatHistory(messages []runlog.SessionMessage) []openrouter.Message {
	history := make([]openrouter.Message, 0, len(messages))
	for _, m := range messages {
		history = append(history, openrouter.Message{Role: m.Role, Content: m.Content})
	}
	return history
}
