package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hivemetrics/swarmbench/internal/export"
	"github.com/hivemetrics/swarmbench/internal/judge"
	"github.com/hivemetrics/swarmbench/internal/notify"
	"github.com/hivemetrics/swarmbench/internal/openrouter"
	"github.com/hivemetrics/swarmbench/internal/planner"
	"github.com/hivemetrics/swarmbench/internal/registry"
	"github.com/hivemetrics/swarmbench/internal/runlog"
	"github.com/hivemetrics/swarmbench/internal/swarm"
)

// ---------------------------------------------------------------------------
// Test doubles and fixtures
// ---------------------------------------------------------------------------

// scriptedStreamer replays a fixed chunk sequence for every task.
type scriptedStreamer struct {
	chunks []openrouter.StreamChunk
}

func (s *scriptedStreamer) Stream(ctx context.Context, model string, messages []openrouter.Message) (<-chan openrouter.StreamChunk, error) {
	out := make(chan openrouter.StreamChunk, len(s.chunks))
	for _, chunk := range s.chunks {
		out <- chunk
	}
	close(out)
	return out, nil
}

// fakeCompleter answers every completion with a canned reply.
type fakeCompleter struct {
	mu    sync.Mutex
	reply string
	err   error
	calls int
}

func (f *fakeCompleter) Complete(ctx context.Context, model string, messages []openrouter.Message) (*openrouter.Completion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &openrouter.Completion{
		Model: model,
		Choices: []openrouter.Choice{
			{Message: openrouter.Message{Role: "assistant", Content: f.reply}},
		},
		Usage: map[string]any{"prompt_tokens": float64(10), "completion_tokens": float64(5)},
	}, nil
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notify.Notification
}

func (r *recordingNotifier) Name() string { return "recording" }

func (r *recordingNotifier) Send(ctx context.Context, n notify.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return nil
}

func (r *recordingNotifier) notifications() []notify.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Notification(nil), r.sent...)
}

const plannerDraftReply = "Here is a draft you can confirm:\n```json\n" +
	"{\n" +
	"  \"prompt_template\": \"Rank the emails by priority.\",\n" +
	"  \"input_data\": {\"items\": [\"a\", \"b\"]},\n" +
	"  \"evaluation\": \"Score strictly.\"\n" +
	"}\n```"

func testRoster() []registry.ModelSpec {
	return []registry.ModelSpec{
		{ID: "alpha/fast", Name: "Alpha-Fast", Provider: "Alpha", Color: "#10b981"},
		{ID: "beta/deep", Name: "Beta-Deep", Provider: "Beta", Color: "#f97316"},
	}
}

func writeScenario(t *testing.T, dir string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("mkdir scenario: %v", err)
	}
	files := map[string]string{
		"prompt.md":     "Triage the inbox.",
		"evaluation.md": "Score strictly.",
		"emails.json":   `[{"from": "ceo@corp.com", "priority": "important"}]`,
		"eval_questions.json": `[
  {"id": "c1", "category": "accuracy", "question": "Is the ranking correct?"},
  {"id": "c2", "category": "clarity", "question": "Is the answer clear?"}
]`,
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
}

// newTestDeps wires a full dependency set against stub collaborators: a
// 3-chunk streamer, a planner that always proposes the same draft, and a
// judge that answers c1 yes / c2 no.
func newTestDeps(t *testing.T) (*Deps, string) {
	t.Helper()
	artifacts := t.TempDir()
	scenarios := t.TempDir()
	writeScenario(t, filepath.Join(scenarios, swarm.DefaultScenarioName))

	store := runlog.New(artifacts)

	streamer := &scriptedStreamer{chunks: []openrouter.StreamChunk{
		{ContentDelta: "Hello "},
		{ContentDelta: "world"},
		{Usage: map[string]any{"total_tokens": float64(42)}},
		{Done: true},
	}}
	orchestrator, err := swarm.New(swarm.Opts{
		Store:        store,
		Streamer:     streamer,
		TraceProject: "swarmbench-test",
		ScenariosDir: scenarios,
	})
	if err != nil {
		t.Fatalf("swarm.New: %v", err)
	}

	plannerAgent, err := planner.New(planner.Opts{Client: &fakeCompleter{reply: plannerDraftReply}})
	if err != nil {
		t.Fatalf("planner.New: %v", err)
	}
	judgeAgent, err := judge.New(judge.Opts{Client: &fakeCompleter{reply: `{"answers": {"c1": "yes", "c2": "no"}}`}})
	if err != nil {
		t.Fatalf("judge.New: %v", err)
	}

	deps := &Deps{
		Store:        store,
		Swarm:        orchestrator,
		Planner:      plannerAgent,
		Judge:        judgeAgent,
		Exporter:     export.New(store, artifacts),
		Models:       testRoster(),
		Reps:         1,
		ScenariosDir: scenarios,
		Env:          "test",
	}
	return deps, artifacts
}

func startTestServer(t *testing.T, deps *Deps) (string, func()) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(gin.Recovery())
	registerRoutes(router, deps)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: router}
	done := make(chan struct{})
	go func() {
		srv.Serve(ln)
		close(done)
	}()

	baseURL := "http://" + ln.Addr().String()
	return baseURL, func() {
		srv.Shutdown(context.Background())
		<-done
	}
}

// doJSON performs one request and decodes the JSON response body, which may
// be empty.
func doJSON(t *testing.T, method, url string, payload any) (int, map[string]any) {
	t.Helper()
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, url, body)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	out := map[string]any{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &out); err != nil {
			t.Fatalf("decode response %q: %v", data, err)
		}
	}
	return resp.StatusCode, out
}

func waitForRunStatus(t *testing.T, baseURL, runID, want string) map[string]any {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		status, body := doJSON(t, http.MethodGet, baseURL+"/api/runs/"+runID, nil)
		if status == http.StatusOK && body["status"] == want {
			return body
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("run %s never reached status %q", runID, want)
	return nil
}

func waitForFile(t *testing.T, path string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(path); err == nil {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("file %s never appeared", path)
}

// ---------------------------------------------------------------------------
// Server lifecycle
// ---------------------------------------------------------------------------

func TestStart_MissingDeps(t *testing.T) {
	full, _ := newTestDeps(t)
	tests := []struct {
		name string
		deps *Deps
		want string
	}{
		{"nil deps", nil, "deps are required"},
		{"no store", &Deps{}, "store is required"},
		{"no swarm", &Deps{Store: full.Store}, "swarm orchestrator is required"},
		{"no planner", &Deps{Store: full.Store, Swarm: full.Swarm}, "planner is required"},
		{"no judge", &Deps{Store: full.Store, Swarm: full.Swarm, Planner: full.Planner}, "judge is required"},
		{"no exporter", &Deps{Store: full.Store, Swarm: full.Swarm, Planner: full.Planner, Judge: full.Judge}, "exporter is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Start(context.Background(), StartOpts{Deps: tt.deps})
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want to contain %q", err.Error(), tt.want)
			}
		})
	}
}

func TestHealth(t *testing.T) {
	deps, _ := newTestDeps(t)
	baseURL, cleanup := startTestServer(t, deps)
	defer cleanup()

	status, body := doJSON(t, http.MethodGet, baseURL+"/health", nil)
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	if body["status"] != "ok" || body["env"] != "test" {
		t.Errorf("body = %v, want status ok and env test", body)
	}
}

func TestModels(t *testing.T) {
	deps, _ := newTestDeps(t)
	baseURL, cleanup := startTestServer(t, deps)
	defer cleanup()

	status, body := doJSON(t, http.MethodGet, baseURL+"/api/models", nil)
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	models := body["models"].([]any)
	if len(models) != 2 {
		t.Fatalf("len(models) = %d, want 2", len(models))
	}
	first := models[0].(map[string]any)
	if first["id"] != "alpha/fast" || first["color"] != "#10b981" {
		t.Errorf("first model = %v", first)
	}
}

// ---------------------------------------------------------------------------
// Planner sessions
// ---------------------------------------------------------------------------

func TestCreateAndGetSession(t *testing.T) {
	deps, _ := newTestDeps(t)
	baseURL, cleanup := startTestServer(t, deps)
	defer cleanup()

	status, created := doJSON(t, http.MethodPost, baseURL+"/api/planner/sessions", nil)
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	sessionID, _ := created["session_id"].(string)
	if sessionID == "" {
		t.Fatal("session_id missing")
	}
	if created["status"] != "active" {
		t.Errorf("status = %v, want active", created["status"])
	}

	status, fetched := doJSON(t, http.MethodGet, baseURL+"/api/planner/sessions/"+sessionID, nil)
	if status != http.StatusOK {
		t.Fatalf("get status = %d, want 200", status)
	}
	if fetched["session_id"] != sessionID {
		t.Errorf("fetched id = %v, want %s", fetched["session_id"], sessionID)
	}

	status, body := doJSON(t, http.MethodGet, baseURL+"/api/planner/sessions/nope", nil)
	if status != http.StatusNotFound {
		t.Fatalf("unknown session status = %d, want 404", status)
	}
	if body["error"] != "session not found" {
		t.Errorf("error = %v, want session not found", body["error"])
	}
}

func TestSessionMessage_RunsPlannerTurn(t *testing.T) {
	deps, _ := newTestDeps(t)
	baseURL, cleanup := startTestServer(t, deps)
	defer cleanup()

	_, created := doJSON(t, http.MethodPost, baseURL+"/api/planner/sessions", nil)
	sessionID := created["session_id"].(string)

	status, reply := doJSON(t, http.MethodPost, baseURL+"/api/planner/sessions/"+sessionID+"/messages",
		map[string]any{"message": "Benchmark email triage."})
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	if !strings.Contains(reply["assistant_message"].(string), "draft you can confirm") {
		t.Errorf("assistant_message = %v", reply["assistant_message"])
	}
	if reply["ready_to_confirm"] != true {
		t.Error("ready_to_confirm = false, want true")
	}
	draft := reply["draft_spec"].(map[string]any)
	if draft["prompt_template"] != "Rank the emails by priority." {
		t.Errorf("draft prompt_template = %v", draft["prompt_template"])
	}

	_, sess := doJSON(t, http.MethodGet, baseURL+"/api/planner/sessions/"+sessionID, nil)
	messages := sess["messages"].([]any)
	if len(messages) != 2 {
		t.Fatalf("len(messages) = %d, want 2", len(messages))
	}
	userMsg := messages[0].(map[string]any)
	assistantMsg := messages[1].(map[string]any)
	if userMsg["role"] != "user" || assistantMsg["role"] != "assistant" {
		t.Errorf("roles = %v, %v", userMsg["role"], assistantMsg["role"])
	}
	if sess["draft_prompt"] != "Rank the emails by priority." {
		t.Errorf("draft_prompt = %v", sess["draft_prompt"])
	}
	if sess["ready_to_confirm"] != true {
		t.Error("session ready_to_confirm = false, want true")
	}
}

func TestSessionMessage_Validation(t *testing.T) {
	deps, _ := newTestDeps(t)
	baseURL, cleanup := startTestServer(t, deps)
	defer cleanup()

	_, created := doJSON(t, http.MethodPost, baseURL+"/api/planner/sessions", nil)
	sessionID := created["session_id"].(string)

	status, _ := doJSON(t, http.MethodPost, baseURL+"/api/planner/sessions/"+sessionID+"/messages",
		map[string]any{"message": "   "})
	if status != http.StatusBadRequest {
		t.Errorf("blank message status = %d, want 400", status)
	}

	status, _ = doJSON(t, http.MethodPost, baseURL+"/api/planner/sessions/nope/messages",
		map[string]any{"message": "hello"})
	if status != http.StatusNotFound {
		t.Errorf("unknown session status = %d, want 404", status)
	}
}

func TestSessionMessage_PlannerFailureLeavesSessionUntouched(t *testing.T) {
	deps, _ := newTestDeps(t)
	broken, err := planner.New(planner.Opts{Client: &fakeCompleter{err: fmt.Errorf("upstream down")}})
	if err != nil {
		t.Fatalf("planner.New: %v", err)
	}
	deps.Planner = broken
	baseURL, cleanup := startTestServer(t, deps)
	defer cleanup()

	_, created := doJSON(t, http.MethodPost, baseURL+"/api/planner/sessions", nil)
	sessionID := created["session_id"].(string)

	status, body := doJSON(t, http.MethodPost, baseURL+"/api/planner/sessions/"+sessionID+"/messages",
		map[string]any{"message": "hello"})
	if status != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", status)
	}
	if !strings.Contains(body["error"].(string), "upstream down") {
		t.Errorf("error = %v", body["error"])
	}

	_, sess := doJSON(t, http.MethodGet, baseURL+"/api/planner/sessions/"+sessionID, nil)
	if messages := sess["messages"].([]any); len(messages) != 0 {
		t.Errorf("len(messages) = %d, want 0 after failed turn", len(messages))
	}
}

func TestValidateSpec(t *testing.T) {
	deps, _ := newTestDeps(t)
	baseURL, cleanup := startTestServer(t, deps)
	defer cleanup()

	status, body := doJSON(t, http.MethodPost, baseURL+"/api/planner/validate",
		map[string]any{"spec": map[string]any{"prompt_template": "Do X", "input_data": map[string]any{"a": 1}}})
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	if body["valid"] != true {
		t.Errorf("valid = %v, want true", body["valid"])
	}
	if errs := body["errors"].([]any); len(errs) != 0 {
		t.Errorf("errors = %v, want empty", errs)
	}

	status, body = doJSON(t, http.MethodPost, baseURL+"/api/planner/validate",
		map[string]any{"spec": map[string]any{"input_data": map[string]any{"a": 1}}})
	if status != http.StatusOK {
		t.Fatalf("invalid spec status = %d, want 200", status)
	}
	if body["valid"] != false {
		t.Errorf("valid = %v, want false", body["valid"])
	}
	errs := body["errors"].([]any)
	if len(errs) != 1 || !strings.Contains(errs[0].(string), "prompt_template") {
		t.Errorf("errors = %v", errs)
	}

	status, _ = doJSON(t, http.MethodPost, baseURL+"/api/planner/validate", nil)
	if status != http.StatusBadRequest {
		t.Errorf("missing body status = %d, want 400", status)
	}
}

// ---------------------------------------------------------------------------
// Run launch and lifecycle
// ---------------------------------------------------------------------------

func TestConfirmSession_LaunchesRunToCompletion(t *testing.T) {
	deps, _ := newTestDeps(t)
	baseURL, cleanup := startTestServer(t, deps)
	defer cleanup()

	_, created := doJSON(t, http.MethodPost, baseURL+"/api/planner/sessions", nil)
	sessionID := created["session_id"].(string)
	doJSON(t, http.MethodPost, baseURL+"/api/planner/sessions/"+sessionID+"/messages",
		map[string]any{"message": "Benchmark email triage."})

	status, confirmed := doJSON(t, http.MethodPost, baseURL+"/api/planner/sessions/"+sessionID+"/confirm",
		map[string]any{"reps": 1})
	if status != http.StatusOK {
		t.Fatalf("confirm status = %d, want 200", status)
	}
	if confirmed["status"] != "running" || confirmed["session_id"] != sessionID {
		t.Errorf("confirm body = %v", confirmed)
	}
	runID := confirmed["run_id"].(string)

	final := waitForRunStatus(t, baseURL, runID, "completed")
	if final["total_tasks"].(float64) != 2 || final["completed_tasks"].(float64) != 2 {
		t.Errorf("tasks = %v/%v, want 2/2", final["completed_tasks"], final["total_tasks"])
	}
	if final["progress"].(float64) != 100 {
		t.Errorf("progress = %v, want 100", final["progress"])
	}

	_, sess := doJSON(t, http.MethodGet, baseURL+"/api/planner/sessions/"+sessionID, nil)
	if sess["status"] != "confirmed" {
		t.Errorf("session status = %v, want confirmed", sess["status"])
	}

	_, page := doJSON(t, http.MethodGet, baseURL+"/api/runs/"+runID+"/events", nil)
	events := page["events"].([]any)
	if len(events) < 10 {
		t.Fatalf("len(events) = %d, want >= 10", len(events))
	}
	first := events[0].(map[string]any)
	if first["event_type"] != "run_started" {
		t.Errorf("first event = %v, want run_started", first["event_type"])
	}
	if !strings.Contains(first["content"].(string), "2 models x 1 reps = 2 tasks") {
		t.Errorf("first content = %v", first["content"])
	}
	last := events[len(events)-1].(map[string]any)
	if last["event_type"] != "run_completed" {
		t.Errorf("last event = %v, want run_completed", last["event_type"])
	}
	if !strings.Contains(last["content"].(string), "2/2 succeeded, 0 errors") {
		t.Errorf("last content = %v", last["content"])
	}
	if page["next_cursor"] != last["cursor"] {
		t.Errorf("next_cursor = %v, want %v", page["next_cursor"], last["cursor"])
	}
}

func TestConfirmSession_InvalidDraftReturns400(t *testing.T) {
	deps, _ := newTestDeps(t)
	noPrompt, err := planner.New(planner.Opts{
		Client: &fakeCompleter{reply: "```json\n{\"input_data\": {\"a\": 1}}\n```"},
	})
	if err != nil {
		t.Fatalf("planner.New: %v", err)
	}
	deps.Planner = noPrompt
	baseURL, cleanup := startTestServer(t, deps)
	defer cleanup()

	_, created := doJSON(t, http.MethodPost, baseURL+"/api/planner/sessions", nil)
	sessionID := created["session_id"].(string)
	doJSON(t, http.MethodPost, baseURL+"/api/planner/sessions/"+sessionID+"/messages",
		map[string]any{"message": "draft something"})

	status, body := doJSON(t, http.MethodPost, baseURL+"/api/planner/sessions/"+sessionID+"/confirm", nil)
	if status != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", status)
	}
	if !strings.Contains(body["error"].(string), "prompt_template") {
		t.Errorf("error = %v", body["error"])
	}
}

func TestConfirmSession_UnknownSession(t *testing.T) {
	deps, _ := newTestDeps(t)
	baseURL, cleanup := startTestServer(t, deps)
	defer cleanup()

	status, _ := doJSON(t, http.MethodPost, baseURL+"/api/planner/sessions/nope/confirm", nil)
	if status != http.StatusNotFound {
		t.Errorf("status = %d, want 404", status)
	}
}

func TestStartRun_WithInlineSpec(t *testing.T) {
	deps, _ := newTestDeps(t)
	baseURL, cleanup := startTestServer(t, deps)
	defer cleanup()

	status, started := doJSON(t, http.MethodPost, baseURL+"/api/runs/start", map[string]any{
		"spec":   map[string]any{"prompt_template": "Rank.", "input_data": map[string]any{"a": 1}},
		"models": []string{"alpha/fast"},
		"reps":   1,
	})
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	runID := started["run_id"].(string)
	if started["session_id"] == "" {
		t.Error("session_id missing")
	}
	models := started["models"].([]any)
	if len(models) != 1 {
		t.Fatalf("len(models) = %d, want 1", len(models))
	}

	waitForRunStatus(t, baseURL, runID, "completed")

	_, results := doJSON(t, http.MethodGet, baseURL+"/api/runs/"+runID+"/results", nil)
	if results["total"].(float64) != 1 || results["completed"].(float64) != 1 || results["errored"].(float64) != 0 {
		t.Errorf("counts = %v", results)
	}
	byKey := results["results"].(map[string]any)
	res := byKey["alpha/fast::0"].(map[string]any)
	if res["output"] != "Hello world" || res["chunks"].(float64) != 3 {
		t.Errorf("result = %v", res)
	}
}

func TestStartRun_DefaultScenarioAndRoster(t *testing.T) {
	deps, _ := newTestDeps(t)
	baseURL, cleanup := startTestServer(t, deps)
	defer cleanup()

	status, started := doJSON(t, http.MethodPost, baseURL+"/api/runs/start", nil)
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	runID := started["run_id"].(string)

	final := waitForRunStatus(t, baseURL, runID, "completed")
	if final["total_tasks"].(float64) != 2 {
		t.Errorf("total_tasks = %v, want 2 (full roster x 1 rep)", final["total_tasks"])
	}
}

func TestStartRun_InvalidSpecReturns400(t *testing.T) {
	deps, _ := newTestDeps(t)
	baseURL, cleanup := startTestServer(t, deps)
	defer cleanup()

	status, body := doJSON(t, http.MethodPost, baseURL+"/api/runs/start",
		map[string]any{"spec": map[string]any{"emails": []any{"a"}}})
	if status != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", status)
	}
	if !strings.Contains(body["error"].(string), "prompt_template") {
		t.Errorf("error = %v", body["error"])
	}
}

func TestGetRun_Unknown(t *testing.T) {
	deps, _ := newTestDeps(t)
	baseURL, cleanup := startTestServer(t, deps)
	defer cleanup()

	status, body := doJSON(t, http.MethodGet, baseURL+"/api/runs/nope", nil)
	if status != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", status)
	}
	if body["error"] != "run not found" {
		t.Errorf("error = %v, want run not found", body["error"])
	}
}

func TestLaunch_WritesArtifactsAndNotifies(t *testing.T) {
	deps, artifacts := newTestDeps(t)
	rec := &recordingNotifier{}
	deps.Notifiers = []notify.Notifier{rec}
	baseURL, cleanup := startTestServer(t, deps)
	defer cleanup()

	_, started := doJSON(t, http.MethodPost, baseURL+"/api/runs/start", map[string]any{
		"spec":   map[string]any{"prompt_template": "Rank.", "input_data": map[string]any{"a": 1}},
		"models": []string{"alpha/fast"},
		"reps":   1,
	})
	runID := started["run_id"].(string)
	waitForRunStatus(t, baseURL, runID, "completed")

	waitForFile(t, filepath.Join(artifacts, "sse", "run_"+runID+".txt"))
	waitForFile(t, filepath.Join(artifacts, "sse", "sample_output.txt"))
	waitForFile(t, filepath.Join(artifacts, "runs", runID, "summary.json"))

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) && len(rec.notifications()) == 0 {
		time.Sleep(10 * time.Millisecond)
	}
	sent := rec.notifications()
	if len(sent) != 1 {
		t.Fatalf("len(notifications) = %d, want 1", len(sent))
	}
	if !strings.Contains(sent[0].Body, "1/1 tasks succeeded") {
		t.Errorf("notification body = %q", sent[0].Body)
	}
}

// ---------------------------------------------------------------------------
// Events pagination
// ---------------------------------------------------------------------------

func TestRunEvents_CursorAndModelFilter(t *testing.T) {
	deps, _ := newTestDeps(t)
	baseURL, cleanup := startTestServer(t, deps)
	defer cleanup()

	sess := deps.Store.CreateSession()
	run, err := deps.Store.CreateRun(sess.ID)
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	for i, modelID := range []string{"", "alpha/fast", "beta/deep", "alpha/fast"} {
		opts := runlog.EventOpts{
			AgentID:   "swarm",
			EventType: runlog.EventNarrationDelta,
			Phase:     runlog.PhaseExecution,
			Content:   fmt.Sprintf("event %d", i),
			Model:     "swarm",
		}
		if modelID != "" {
			opts.Model = modelID
			opts.ModelID = modelID
		}
		if _, err := deps.Store.AddRunEvent(run.ID, opts); err != nil {
			t.Fatalf("AddRunEvent: %v", err)
		}
	}

	_, all := doJSON(t, http.MethodGet, baseURL+"/api/runs/"+run.ID+"/events", nil)
	if events := all["events"].([]any); len(events) != 4 {
		t.Fatalf("len(events) = %d, want 4", len(events))
	}
	if all["next_cursor"] != "4" {
		t.Errorf("next_cursor = %v, want 4", all["next_cursor"])
	}

	_, page := doJSON(t, http.MethodGet, baseURL+"/api/runs/"+run.ID+"/events?cursor=2", nil)
	events := page["events"].([]any)
	if len(events) != 2 {
		t.Fatalf("len(page) = %d, want 2", len(events))
	}
	if first := events[0].(map[string]any); first["cursor"] != "3" {
		t.Errorf("first cursor = %v, want 3", first["cursor"])
	}

	_, empty := doJSON(t, http.MethodGet, baseURL+"/api/runs/"+run.ID+"/events?cursor=4", nil)
	if events := empty["events"].([]any); len(events) != 0 {
		t.Errorf("len(events past end) = %d, want 0", len(events))
	}
	if empty["next_cursor"] != "4" {
		t.Errorf("echoed next_cursor = %v, want 4", empty["next_cursor"])
	}

	_, filtered := doJSON(t, http.MethodGet, baseURL+"/api/runs/"+run.ID+"/events?model_id=alpha/fast", nil)
	events = filtered["events"].([]any)
	if len(events) != 2 {
		t.Fatalf("len(filtered) = %d, want 2", len(events))
	}
	for _, raw := range events {
		e := raw.(map[string]any)
		if e["model_id"] != "alpha/fast" {
			t.Errorf("filtered event model_id = %v", e["model_id"])
		}
	}
	if got := events[0].(map[string]any)["cursor"]; got != "2" {
		t.Errorf("filtered first cursor = %v, want original 2", got)
	}

	status, _ := doJSON(t, http.MethodGet, baseURL+"/api/runs/"+run.ID+"/events?cursor=abc", nil)
	if status != http.StatusBadRequest {
		t.Errorf("bad cursor status = %d, want 400", status)
	}
}

// ---------------------------------------------------------------------------
// SSE streaming
// ---------------------------------------------------------------------------

func TestRunStream_DeliversBufferedEventsAndTerminates(t *testing.T) {
	deps, _ := newTestDeps(t)
	baseURL, cleanup := startTestServer(t, deps)
	defer cleanup()

	sess := deps.Store.CreateSession()
	run, err := deps.Store.CreateRun(sess.ID)
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	deps.Store.AddRunEvent(run.ID, runlog.EventOpts{
		AgentID:   "swarm",
		EventType: runlog.EventRunStarted,
		Phase:     runlog.PhaseBootstrap,
		Content:   "Swarm started",
		Model:     "swarm",
	})
	deps.Store.AddRunEvent(run.ID, runlog.EventOpts{
		AgentID:   "multi-model-runner",
		EventType: runlog.EventNarrationDelta,
		Phase:     runlog.PhaseExecution,
		Content:   "chunk",
		Model:     "alpha/fast",
		ModelID:   "alpha/fast",
	})
	deps.Store.SetRunComplete(run.ID)

	resp, err := http.Get(baseURL + "/api/runs/" + run.ID + "/stream")
	if err != nil {
		t.Fatalf("GET stream: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "text/event-stream") {
		t.Errorf("content-type = %q, want text/event-stream", ct)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read stream: %v", err)
	}
	text := string(body)
	for _, want := range []string{
		"id: 1\nevent: run_started\ndata: {",
		"id: 2\nevent: narration_delta\ndata: {",
		`"event_id":"evt_0001"`,
	} {
		if !strings.Contains(text, want) {
			t.Errorf("stream missing %q in:\n%s", want, text)
		}
	}
	if !strings.HasSuffix(text, "\n\n") {
		t.Error("stream does not end with a blank separator line")
	}
}

func TestRunStream_EndToEndFlow(t *testing.T) {
	deps, _ := newTestDeps(t)
	baseURL, cleanup := startTestServer(t, deps)
	defer cleanup()

	_, started := doJSON(t, http.MethodPost, baseURL+"/api/runs/start", map[string]any{
		"spec":   map[string]any{"prompt_template": "Rank.", "input_data": map[string]any{"a": 1}},
		"models": []string{"alpha/fast"},
		"reps":   1,
	})
	runID := started["run_id"].(string)

	resp, err := http.Get(baseURL + "/api/runs/" + runID + "/stream")
	if err != nil {
		t.Fatalf("GET stream: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read stream: %v", err)
	}
	text := string(body)
	for _, want := range []string{
		"event: run_started",
		"event: model_run_started",
		"event: narration_delta",
		"event: llm_usage_final",
		"event: model_run_completed",
		"event: run_completed",
		"data: {",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("stream missing %q", want)
		}
	}
}

func TestRunStream_UnknownRun(t *testing.T) {
	deps, _ := newTestDeps(t)
	baseURL, cleanup := startTestServer(t, deps)
	defer cleanup()

	status, _ := doJSON(t, http.MethodGet, baseURL+"/api/runs/nope/stream", nil)
	if status != http.StatusNotFound {
		t.Errorf("status = %d, want 404", status)
	}
}

// ---------------------------------------------------------------------------
// Export and judge
// ---------------------------------------------------------------------------

func TestRunExport_Endpoint(t *testing.T) {
	deps, artifacts := newTestDeps(t)
	baseURL, cleanup := startTestServer(t, deps)
	defer cleanup()

	_, started := doJSON(t, http.MethodPost, baseURL+"/api/runs/start", map[string]any{
		"spec":   map[string]any{"prompt_template": "Rank.", "input_data": map[string]any{"a": 1}},
		"models": []string{"alpha/fast"},
		"reps":   1,
	})
	runID := started["run_id"].(string)
	waitForRunStatus(t, baseURL, runID, "completed")

	status, exported := doJSON(t, http.MethodPost, baseURL+"/api/runs/"+runID+"/export", nil)
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	dir := exported["output_dir"].(string)
	if dir != filepath.Join(artifacts, "runs", runID) {
		t.Errorf("output_dir = %q", dir)
	}
	if _, err := os.Stat(filepath.Join(dir, "summary.json")); err != nil {
		t.Errorf("summary.json: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "alpha_fast_rep0.json")); err != nil {
		t.Errorf("per-task file: %v", err)
	}

	status, _ = doJSON(t, http.MethodPost, baseURL+"/api/runs/nope/export", nil)
	if status != http.StatusNotFound {
		t.Errorf("unknown run status = %d, want 404", status)
	}
}

func TestRunJudge_UsesRetainedQuestions(t *testing.T) {
	deps, _ := newTestDeps(t)
	baseURL, cleanup := startTestServer(t, deps)
	defer cleanup()

	spec := map[string]any{
		"prompt_template": "Rank the emails.",
		"input_data":      map[string]any{"items": []any{"a"}},
		"eval_questions": []any{
			map[string]any{"id": "c1", "category": "accuracy", "question": "Is the ranking correct?"},
			map[string]any{"id": "c2", "category": "clarity", "question": "Is the answer clear?"},
		},
	}
	_, started := doJSON(t, http.MethodPost, baseURL+"/api/runs/start",
		map[string]any{"spec": spec, "models": []string{"alpha/fast"}, "reps": 1})
	runID := started["run_id"].(string)
	waitForRunStatus(t, baseURL, runID, "completed")

	status, sweep := doJSON(t, http.MethodPost, baseURL+"/api/runs/"+runID+"/judge", nil)
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	models := sweep["models"].(map[string]any)
	score := models["alpha/fast"].(map[string]any)
	scores := score["scores"].(map[string]any)
	if scores["overall"].(float64) != 0.5 {
		t.Errorf("overall = %v, want 0.5", scores["overall"])
	}
	if scores["accuracy"].(float64) != 1.0 || scores["clarity"].(float64) != 0.0 {
		t.Errorf("category scores = %v", scores)
	}
	if sweep["best_model"] != "alpha/fast" {
		t.Errorf("best_model = %v", sweep["best_model"])
	}
}

func TestRunJudge_FallsBackToScenarioQuestions(t *testing.T) {
	deps, _ := newTestDeps(t)
	baseURL, cleanup := startTestServer(t, deps)
	defer cleanup()

	sess := deps.Store.CreateSession()
	run, err := deps.Store.CreateRun(sess.ID)
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	deps.Store.SetModelResult(run.ID, "alpha/fast", 0, runlog.Result{
		ModelID: "alpha/fast", RepIndex: 0, Status: runlog.ResultCompleted, Output: "ranked",
	})
	deps.Store.SetRunComplete(run.ID)

	status, sweep := doJSON(t, http.MethodPost, baseURL+"/api/runs/"+run.ID+"/judge", nil)
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	if sweep["best_model"] != "alpha/fast" {
		t.Errorf("best_model = %v", sweep["best_model"])
	}
}

func TestRunJudge_Conflicts(t *testing.T) {
	deps, _ := newTestDeps(t)
	baseURL, cleanup := startTestServer(t, deps)
	defer cleanup()

	sess := deps.Store.CreateSession()
	running, err := deps.Store.CreateRun(sess.ID)
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	status, body := doJSON(t, http.MethodPost, baseURL+"/api/runs/"+running.ID+"/judge", nil)
	if status != http.StatusConflict {
		t.Fatalf("running run status = %d, want 409", status)
	}
	if !strings.Contains(body["error"].(string), "still running") {
		t.Errorf("error = %v", body["error"])
	}

	empty, err := deps.Store.CreateRun(sess.ID)
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	deps.Store.SetRunComplete(empty.ID)
	status, body = doJSON(t, http.MethodPost, baseURL+"/api/runs/"+empty.ID+"/judge", nil)
	if status != http.StatusBadRequest {
		t.Fatalf("empty run status = %d, want 400", status)
	}
	if !strings.Contains(body["error"].(string), "no completed results") {
		t.Errorf("error = %v", body["error"])
	}

	status, _ = doJSON(t, http.MethodPost, baseURL+"/api/runs/nope/judge", nil)
	if status != http.StatusNotFound {
		t.Errorf("unknown run status = %d, want 404", status)
	}
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func TestResolveModels(t *testing.T) {
	roster := testRoster()

	if got := resolveModels(roster, nil); len(got) != 2 {
		t.Errorf("empty request len = %d, want full roster", len(got))
	}

	got := resolveModels(roster, []string{"beta/deep"})
	if len(got) != 1 || got[0].Name != "Beta-Deep" {
		t.Errorf("roster pick = %v", got)
	}

	got = resolveModels(roster, []string{"gamma/new-model"})
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
	if got[0].ID != "gamma/new-model" || got[0].Name != "New-Model" || got[0].Provider != "Gamma" {
		t.Errorf("derived model = %+v", got[0])
	}
}

func TestRepresentativeOutputs(t *testing.T) {
	results := map[string]runlog.Result{
		"alpha/fast::1": {ModelID: "alpha/fast", RepIndex: 1, Status: runlog.ResultCompleted, Output: "second"},
		"alpha/fast::0": {ModelID: "alpha/fast", RepIndex: 0, Status: runlog.ResultCompleted, Output: "first"},
		"beta/deep::0":  {ModelID: "beta/deep", RepIndex: 0, Status: runlog.ResultError, Output: "broken"},
	}
	outputs := representativeOutputs(results)
	if len(outputs) != 1 {
		t.Fatalf("len(outputs) = %d, want 1", len(outputs))
	}
	if outputs["alpha/fast"] != "first" {
		t.Errorf("output = %q, want lowest rep", outputs["alpha/fast"])
	}
}
