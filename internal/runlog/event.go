package runlog

import "strconv"

// TraceContext is the opaque tracing-correlation bag attached to every
// event. The store passes it through untouched.
type TraceContext struct {
	Project      string `json:"project"`
	TraceID      string `json:"trace_id"`
	CallID       string `json:"call_id"`
	ParentCallID string `json:"parent_call_id"`
}

// Event is one immutable, cursor-ordered record in a run's log. Cursor is
// the stringified sequence number; EventID is derived from it. The optional
// fields are only set on the event types that carry them.
type Event struct {
	EventID   string       `json:"event_id"`
	Cursor    string       `json:"cursor"`
	RunID     string       `json:"run_id"`
	SessionID string       `json:"session_id"`
	AgentID   string       `json:"agent_id"`
	EventType string       `json:"event_type"`
	Phase     string       `json:"phase"`
	Content   string       `json:"content"`
	Model     string       `json:"model"`
	Timestamp string       `json:"timestamp"`
	Trace     TraceContext `json:"trace"`

	ModelID          string           `json:"model_id,omitempty"`
	RepIndex         *int             `json:"rep_index,omitempty"`
	ChunkIndex       int              `json:"chunk_index,omitempty"`
	ContentDelta     string           `json:"content_delta,omitempty"`
	ReasoningDetails []map[string]any `json:"reasoning_details,omitempty"`
	Usage            map[string]any   `json:"usage,omitempty"`

	// seq mirrors Cursor as an int for cheap pagination filtering.
	seq int
}

// EventOpts carries the caller-supplied fields for AddRunEvent. The store
// fills in identity, cursor, and timestamp.
type EventOpts struct {
	AgentID   string
	EventType string
	Phase     string
	Content   string
	Model     string
	Trace     TraceContext

	ModelID          string
	RepIndex         *int
	ChunkIndex       int
	ContentDelta     string
	ReasoningDetails []map[string]any
	Usage            map[string]any
}

// Event type names emitted by the fan-out executor.
const (
	EventRunStarted        = "run_started"
	EventModelRunStarted   = "model_run_started"
	EventNarrationDelta    = "narration_delta"
	EventReasoningDelta    = "llm_reasoning_delta"
	EventUsageFinal        = "llm_usage_final"
	EventModelRunCompleted = "model_run_completed"
	EventModelRunError     = "model_run_error"
	EventRunCompleted      = "run_completed"
)

// Lifecycle phases.
const (
	PhaseBootstrap = "bootstrap"
	PhaseExecution = "execution"
	PhaseUsage     = "usage"
	PhaseDone      = "done"
)

// Result is the finalized outcome of one (model, repetition) task. Usage is
// nil when the stream never reported token counts; Error is set only for
// status "error".
type Result struct {
	ModelID   string         `json:"model_id"`
	RepIndex  int            `json:"rep_index"`
	Status    string         `json:"status"`
	Output    string         `json:"output"`
	LatencyMS int64          `json:"latency_ms"`
	Chunks    int            `json:"chunks"`
	Usage     map[string]any `json:"usage"`
	TraceID   string         `json:"trace_id,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// Result statuses.
const (
	ResultCompleted = "completed"
	ResultError     = "error"
)

// ResultKey builds the composite upsert key for a (model, repetition) pair.
func ResultKey(modelID string, repIndex int) string {
	return modelID + "::" + strconv.Itoa(repIndex)
}
