package swarm

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hivemetrics/swarmbench/internal/benchspec"
)

// DefaultScenarioName is the built-in scenario used for runs without an
// authored spec.
const DefaultScenarioName = "email_priority"

// DefaultScenario loads the built-in scenario from root.
func DefaultScenario(root string) (*benchspec.Spec, error) {
	return LoadScenario(root, DefaultScenarioName)
}

// LoadScenario reads a scenario directory into a spec. A scenario is a
// directory holding prompt.md, evaluation.md, and emails.json, plus an
// optional eval_questions.json with the judge's question bank. File contents
// are used verbatim.
func LoadScenario(root, name string) (*benchspec.Spec, error) {
	dir := filepath.Join(root, name)

	prompt, err := os.ReadFile(filepath.Join(dir, "prompt.md"))
	if err != nil {
		return nil, fmt.Errorf("swarm: load scenario %s: %w", name, err)
	}
	evaluation, err := os.ReadFile(filepath.Join(dir, "evaluation.md"))
	if err != nil {
		return nil, fmt.Errorf("swarm: load scenario %s: %w", name, err)
	}
	rawEmails, err := os.ReadFile(filepath.Join(dir, "emails.json"))
	if err != nil {
		return nil, fmt.Errorf("swarm: load scenario %s: %w", name, err)
	}
	var emails any
	if err := json.Unmarshal(rawEmails, &emails); err != nil {
		return nil, fmt.Errorf("swarm: load scenario %s: parse emails.json: %w", name, err)
	}

	spec := &benchspec.Spec{
		Prompt:     string(prompt),
		InputData:  emails,
		Evaluation: string(evaluation),
	}

	rawQuestions, err := os.ReadFile(filepath.Join(dir, "eval_questions.json"))
	switch {
	case errors.Is(err, os.ErrNotExist):
		return spec, nil
	case err != nil:
		return nil, fmt.Errorf("swarm: load scenario %s: %w", name, err)
	}
	var questions []benchspec.Question
	if err := json.Unmarshal(rawQuestions, &questions); err != nil {
		return nil, fmt.Errorf("swarm: load scenario %s: parse eval_questions.json: %w", name, err)
	}
	spec.Questions = questions
	return spec, nil
}
