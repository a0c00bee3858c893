// Package planner drives the conversational authoring loop: each turn sends
// the brainstorming instruction plus the session history to a chat model and
// best-effort extracts a draft benchmark spec from the reply.
package planner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/hivemetrics/swarmbench/internal/openrouter"
)

// FallbackSystemPrompt is used when no skill file is configured or the
// configured file is missing or empty.
const FallbackSystemPrompt = "You are a brainstorming agent that helps users turn ideas into implementation-ready designs. " +
	"Ask one clarifying question at a time, prefer multiple choice, propose alternatives with trade-offs, " +
	"and keep outputs concrete and testable."

// Completer is the one-shot chat-completion dependency.
type Completer interface {
	Complete(ctx context.Context, model string, messages []openrouter.Message) (*openrouter.Completion, error)
}

// Opts configures a Planner.
type Opts struct {
	Client    Completer
	Model     string // planner model id; empty lets the client default apply
	SkillPath string // optional path to a brainstorming skill file
}

// Planner is a stateless chat agent; the caller owns session persistence.
type Planner struct {
	client    Completer
	model     string
	skillPath string
}

// New builds a Planner.
func New(opts Opts) (*Planner, error) {
	if opts.Client == nil {
		return nil, errors.New("planner: client is required")
	}
	return &Planner{
		client:    opts.Client,
		model:     opts.Model,
		skillPath: opts.SkillPath,
	}, nil
}

// SystemPrompt returns the brainstorming instruction: the skill file's
// content when present and non-empty, otherwise FallbackSystemPrompt.
func (p *Planner) SystemPrompt() string {
	if p.skillPath != "" {
		if data, err := os.ReadFile(p.skillPath); err == nil {
			if text := strings.TrimSpace(string(data)); text != "" {
				return text
			}
		}
	}
	return FallbackSystemPrompt
}

// TurnResult is one planner exchange. DraftSpec is nil when the reply
// contained no extractable spec.
type TurnResult struct {
	AssistantMessage string
	DraftSpec        map[string]any
	DraftPrompt      string
}

// Turn runs one exchange: system instruction, prior history, then the new
// user message.
func (p *Planner) Turn(ctx context.Context, history []openrouter.Message, userMessage string) (*TurnResult, error) {
	messages := make([]openrouter.Message, 0, len(history)+2)
	messages = append(messages, openrouter.Message{Role: "system", Content: p.SystemPrompt()})
	messages = append(messages, history...)
	messages = append(messages, openrouter.Message{Role: "user", Content: userMessage})

	completion, err := p.client.Complete(ctx, p.model, messages)
	if err != nil {
		return nil, fmt.Errorf("planner: chat turn: %w", err)
	}
	text := completion.Text()
	spec := ExtractDraftSpec(text)

	return &TurnResult{
		AssistantMessage: text,
		DraftSpec:        spec,
		DraftPrompt:      DraftSpecToPrompt(spec),
	}, nil
}

// DraftSpecToPrompt derives the session's draft_prompt string: the spec's
// prompt_template or prompt field, else the whole spec pretty-printed, else
// "" for no spec.
func DraftSpecToPrompt(spec map[string]any) string {
	if len(spec) == 0 {
		return ""
	}
	if s, ok := spec["prompt_template"].(string); ok && s != "" {
		return s
	}
	if s, ok := spec["prompt"].(string); ok && s != "" {
		return s
	}
	pretty, err := json.MarshalIndent(spec, "", "  ")
	if err != nil {
		return ""
	}
	return string(pretty)
}
