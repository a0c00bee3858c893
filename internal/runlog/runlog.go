// Package runlog owns all in-memory session and run state: the append-only
// per-run event log with monotonic cursors, cursor-based pagination, the
// per-run live subscription queue, and per-(model, repetition) results.
//
// The store is created once at process start and injected into everything
// that needs it. Nothing survives a restart; completed runs can be
// externalized through the archive package.
package runlog

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound reports an unknown session or run id.
var ErrNotFound = errors.New("not found")

// ErrRunActive reports an attempt to drop a run that has not finished.
var ErrRunActive = errors.New("run still active")

// Session statuses.
const (
	SessionActive    = "active"
	SessionConfirmed = "confirmed"
)

// Run statuses.
const (
	RunRunning   = "running"
	RunCompleted = "completed"
	RunFailed    = "failed"
)

// SessionMessage is one turn of the authoring conversation.
type SessionMessage struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

// Session is a conversational context used to author a benchmark spec.
type Session struct {
	ID             string           `json:"session_id"`
	Status         string           `json:"status"`
	Messages       []SessionMessage `json:"messages"`
	DraftPrompt    string           `json:"draft_prompt"`
	DraftSpec      map[string]any   `json:"draft_spec,omitempty"`
	ReadyToConfirm bool             `json:"ready_to_confirm"`
	CreatedAt      string           `json:"created_at"`
}

// Run is the public snapshot of a run's scalar state.
type Run struct {
	ID            string `json:"run_id"`
	SessionID     string `json:"session_id"`
	Status        string `json:"status"`
	Cursor        int    `json:"cursor"`
	SSESamplePath string `json:"sse_sample_path,omitempty"`
	ExportPath    string `json:"export_path,omitempty"`
}

// run is the mutable internal record. Its mutex serializes cursor increment,
// log append, and queue push so events never reach a consumer out of cursor
// order, and makes result upserts and status transitions atomic.
type run struct {
	mu            sync.Mutex
	id            string
	sessionID     string
	status        string
	cursor        int
	events        []*Event
	results       map[string]Result
	queue         *eventQueue
	sseSamplePath string
	exportPath    string
}

// Store is the run registry / event log. One instance per process, injected
// by the hosting application.
type Store struct {
	artifactsDir string

	mu       sync.RWMutex
	sessions map[string]*Session
	runs     map[string]*run
}

// New creates an empty store. artifactsDir is the root under which SSE
// sample files are written.
func New(artifactsDir string) *Store {
	return &Store{
		artifactsDir: artifactsDir,
		sessions:     make(map[string]*Session),
		runs:         make(map[string]*run),
	}
}

func nowISO() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// CreateSession allocates a fresh session in the active state.
func (s *Store) CreateSession() *Session {
	sess := &Session{
		ID:        uuid.NewString(),
		Status:    SessionActive,
		Messages:  []SessionMessage{},
		CreatedAt: nowISO(),
	}
	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()
	return sess
}

// Session returns a copy of the session, or ErrNotFound.
func (s *Store) Session(id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("runlog: session %s: %w", id, ErrNotFound)
	}
	cp := *sess
	cp.Messages = append([]SessionMessage(nil), sess.Messages...)
	return &cp, nil
}

// AddSessionMessage appends a conversation turn with the current timestamp.
func (s *Store) AddSessionMessage(id, role, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return fmt.Errorf("runlog: session %s: %w", id, ErrNotFound)
	}
	sess.Messages = append(sess.Messages, SessionMessage{
		Role:      role,
		Content:   content,
		Timestamp: nowISO(),
	})
	return nil
}

// SetSessionDraft updates the mutable draft fields written by the planner.
// The draft spec is retained as-is and treated as read-only from here on.
func (s *Store) SetSessionDraft(id, draftPrompt string, draftSpec map[string]any, ready bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return fmt.Errorf("runlog: session %s: %w", id, ErrNotFound)
	}
	sess.DraftPrompt = draftPrompt
	if draftSpec != nil {
		sess.DraftSpec = draftSpec
	}
	sess.ReadyToConfirm = ready
	return nil
}

// ConfirmSession transitions a session to its terminal confirmed state.
func (s *Store) ConfirmSession(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return fmt.Errorf("runlog: session %s: %w", id, ErrNotFound)
	}
	sess.Status = SessionConfirmed
	return nil
}

// CreateRun allocates a run bound to an existing session: status running,
// cursor 0, empty log and result map, and a fresh live queue.
func (s *Store) CreateRun(sessionID string) (Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return Run{}, fmt.Errorf("runlog: session %s: %w", sessionID, ErrNotFound)
	}
	r := &run{
		id:        uuid.NewString(),
		sessionID: sessionID,
		status:    RunRunning,
		results:   make(map[string]Result),
		queue:     newEventQueue(),
	}
	s.runs[r.id] = r
	return r.snapshot(), nil
}

// Run returns the scalar snapshot of a run.
func (s *Store) Run(id string) (Run, error) {
	r, err := s.getRun(id)
	if err != nil {
		return Run{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshot(), nil
}

func (r *run) snapshot() Run {
	return Run{
		ID:            r.id,
		SessionID:     r.sessionID,
		Status:        r.status,
		Cursor:        r.cursor,
		SSESamplePath: r.sseSamplePath,
		ExportPath:    r.exportPath,
	}
}

func (s *Store) getRun(id string) (*run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.runs[id]
	if !ok {
		return nil, fmt.Errorf("runlog: run %s: %w", id, ErrNotFound)
	}
	return r, nil
}

// AddRunEvent assigns the next cursor, appends the event to the run's log,
// and pushes it onto the live queue. The three steps are atomic under the
// run's mutex, so every consumer observes cursor order.
func (s *Store) AddRunEvent(runID string, opts EventOpts) (*Event, error) {
	r, err := s.getRun(runID)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.cursor++
	e := &Event{
		EventID:   fmt.Sprintf("evt_%04d", r.cursor),
		Cursor:    strconv.Itoa(r.cursor),
		RunID:     r.id,
		SessionID: r.sessionID,
		AgentID:   opts.AgentID,
		EventType: opts.EventType,
		Phase:     opts.Phase,
		Content:   opts.Content,
		Model:     opts.Model,
		Timestamp: nowISO(),
		Trace:     opts.Trace,

		ModelID:          opts.ModelID,
		RepIndex:         opts.RepIndex,
		ChunkIndex:       opts.ChunkIndex,
		ContentDelta:     opts.ContentDelta,
		ReasoningDetails: opts.ReasoningDetails,
		Usage:            opts.Usage,

		seq: r.cursor,
	}
	r.events = append(r.events, e)
	r.queue.push(e)
	return e, nil
}

// Events returns the events with cursor strictly greater than sinceCursor
// (0 returns everything), optionally filtered to one model_id, in original
// order. Repeated calls with the same cursor return the same page.
func (s *Store) Events(runID string, sinceCursor int, modelID string) ([]*Event, error) {
	r, err := s.getRun(runID)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Event, 0, len(r.events))
	for _, e := range r.events {
		if e.seq <= sinceCursor {
			continue
		}
		if modelID != "" && e.ModelID != modelID {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// SetModelResult upserts the result for a (model, repetition) key. The last
// write for a key wins, which absorbs an executor republishing after an
// internal retry.
func (s *Store) SetModelResult(runID, modelID string, repIndex int, res Result) error {
	r, err := s.getRun(runID)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results[ResultKey(modelID, repIndex)] = res
	return nil
}

// Results returns a snapshot copy of the run's result map.
func (s *Store) Results(runID string) (map[string]Result, error) {
	r, err := s.getRun(runID)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]Result, len(r.results))
	for k, v := range r.results {
		out[k] = v
	}
	return out, nil
}

// SetRunComplete transitions running → completed and closes the live queue,
// which is the stream-termination sentinel. Safe to call more than once;
// only the first call transitions.
func (s *Store) SetRunComplete(runID string) error {
	return s.finishRun(runID, RunCompleted)
}

// SetRunFailed marks a run failed before any task produced results
// (aggregate failures such as a scenario that cannot be loaded). The queue
// closes so stream consumers terminate.
func (s *Store) SetRunFailed(runID string) error {
	return s.finishRun(runID, RunFailed)
}

func (s *Store) finishRun(runID, status string) error {
	r, err := s.getRun(runID)
	if err != nil {
		return err
	}
	r.mu.Lock()
	if r.status == RunRunning {
		r.status = status
	}
	queue := r.queue
	r.mu.Unlock()
	queue.close()
	return nil
}

// NextEvent blocks until the run's next live event. ok=false means the
// completion sentinel was reached and the stream is over. Exactly one
// concurrent subscriber per run is supported; a second one would split
// delivery between the readers.
func (s *Store) NextEvent(ctx context.Context, runID string) (*Event, bool, error) {
	r, err := s.getRun(runID)
	if err != nil {
		return nil, false, err
	}
	return r.queue.next(ctx)
}

// SetExportPath records where the exporter wrote the run's artifacts.
func (s *Store) SetExportPath(runID, dir string) error {
	r, err := s.getRun(runID)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exportPath = dir
	return nil
}

// DropRun removes a terminal run from memory. Used by the archive sweeper's
// opt-in eviction; refuses to drop a run that is still running.
func (s *Store) DropRun(runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[runID]
	if !ok {
		return fmt.Errorf("runlog: run %s: %w", runID, ErrNotFound)
	}
	r.mu.Lock()
	status := r.status
	r.mu.Unlock()
	if status == RunRunning {
		return fmt.Errorf("runlog: run %s: %w", runID, ErrRunActive)
	}
	delete(s.runs, runID)
	return nil
}

// Runs returns snapshots of every run, newest cursor state included. Used
// by the archive sweeper to find terminal runs.
func (s *Store) Runs() []Run {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Run, 0, len(s.runs))
	for _, r := range s.runs {
		r.mu.Lock()
		out = append(out, r.snapshot())
		r.mu.Unlock()
	}
	return out
}
