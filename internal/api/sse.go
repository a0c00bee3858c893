package api

import (
	"fmt"
	"log"

	"github.com/gin-gonic/gin"

	"github.com/hivemetrics/swarmbench/internal/runlog"
)

// handleRunStream serves the run's live event feed as Server-Sent Events.
// Events buffered before the client connected are delivered first; the
// stream ends when the run's completion sentinel is reached or the client
// disconnects. The store supports one streaming reader per run.
func handleRunStream(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		runID := c.Param("id")
		if _, err := deps.Store.Run(runID); err != nil {
			respondError(c, err, "run not found")
			return
		}

		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Header("X-Accel-Buffering", "no")
		c.Writer.Flush()

		ctx := c.Request.Context()
		for {
			e, ok, err := deps.Store.NextEvent(ctx, runID)
			if err != nil || !ok {
				return
			}
			block, err := runlog.SSEBlock(e)
			if err != nil {
				log.Printf("api: stream run %s: %v", runID, err)
				continue
			}
			fmt.Fprint(c.Writer, block)
			c.Writer.Flush()
		}
	}
}
