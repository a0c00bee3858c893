// Package benchspec turns loosely-structured planner output into the
// canonical benchmark scenario shape and validates yes/no evaluation
// questions.
package benchspec

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// DefaultEvaluation is used when a spec carries neither an evaluation text
// nor questions to render one from.
const DefaultEvaluation = "Evaluate the output for correctness, relevance, and quality."

// yes/no questions start with one of these auxiliary verbs.
var yesNoPrefixes = []string{
	"is ", "are ", "does ", "do ", "did ",
	"can ", "could ", "should ", "would ", "will ",
	"has ", "have ", "had ", "was ", "were ",
}

// Question is one yes/no rubric item.
type Question struct {
	ID       string `json:"id"`
	Category string `json:"category"`
	Question string `json:"question"`
}

// Spec is the normalized benchmark definition handed to the fan-out.
type Spec struct {
	Prompt     string     `json:"prompt"`
	InputData  any        `json:"input_data"`
	Evaluation string     `json:"evaluation"`
	Questions  []Question `json:"eval_questions,omitempty"`
}

// Normalize converts arbitrary planner JSON into a canonical Spec. The
// prompt comes from prompt_template or prompt and is required. Input data
// falls back through input_data, emails, data, then an empty object; a bare
// array is wrapped as {"items": ...}. The evaluation text falls back
// through evaluation, rubric, a markdown rendering of eval_questions, then
// DefaultEvaluation.
func Normalize(raw map[string]any) (*Spec, error) {
	prompt := stringOf(firstSet(raw, "prompt_template", "prompt"))
	if prompt == "" {
		return nil, errors.New("spec must contain 'prompt_template' or 'prompt'")
	}

	input := firstSet(raw, "input_data", "emails", "data")
	if input == nil {
		input = map[string]any{}
	}
	if arr, ok := input.([]any); ok {
		input = map[string]any{"items": arr}
	}

	var questions []Question
	if rawQuestions, ok := raw["eval_questions"]; ok && rawQuestions != nil {
		var err error
		questions, err = ValidateQuestions(rawQuestions)
		if err != nil {
			return nil, err
		}
	}

	evaluation := stringOf(firstSet(raw, "evaluation", "rubric"))
	if evaluation == "" && len(questions) > 0 {
		evaluation = QuestionsToMarkdown(questions)
	}
	if evaluation == "" {
		evaluation = DefaultEvaluation
	}

	return &Spec{
		Prompt:     prompt,
		InputData:  input,
		Evaluation: evaluation,
		Questions:  questions,
	}, nil
}

// firstSet returns the first key whose value is present and non-empty.
// Empty strings, arrays, and objects count as absent so a later fallback
// key can still win.
func firstSet(raw map[string]any, keys ...string) any {
	for _, k := range keys {
		v, ok := raw[k]
		if !ok || v == nil {
			continue
		}
		switch t := v.(type) {
		case string:
			if t != "" {
				return t
			}
		case []any:
			if len(t) > 0 {
				return t
			}
		case map[string]any:
			if len(t) > 0 {
				return t
			}
		default:
			return v
		}
	}
	return nil
}

func stringOf(v any) string {
	s, _ := v.(string)
	return s
}

// ValidateQuestions checks that raw is a non-empty list of well-formed
// yes/no question objects and returns the cleaned list. Validation is
// all-or-nothing; the first violation fails the whole input.
func ValidateQuestions(raw any) ([]Question, error) {
	list, ok := raw.([]any)
	if !ok {
		return nil, errors.New("eval_questions must be a list")
	}
	if len(list) == 0 {
		return nil, errors.New("eval_questions must contain at least one question")
	}

	out := make([]Question, 0, len(list))
	seen := make(map[string]bool, len(list))
	for i, item := range list {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("eval_questions[%d]: expected object, got %T", i, item)
		}

		for _, key := range []string{"id", "category", "question"} {
			if _, ok := obj[key]; !ok {
				return nil, fmt.Errorf("eval_questions[%d]: missing required key '%s'", i, key)
			}
		}
		if len(obj) > 3 {
			var extra []string
			for k := range obj {
				if k != "id" && k != "category" && k != "question" {
					extra = append(extra, k)
				}
			}
			sort.Strings(extra)
			return nil, fmt.Errorf("eval_questions[%d]: unexpected keys %v", i, extra)
		}

		id, _ := obj["id"].(string)
		category, _ := obj["category"].(string)
		question, _ := obj["question"].(string)
		if strings.TrimSpace(id) == "" {
			return nil, fmt.Errorf("eval_questions[%d]: 'id' must be a non-empty string", i)
		}
		if strings.TrimSpace(category) == "" {
			return nil, fmt.Errorf("eval_questions[%d]: 'category' must be a non-empty string", i)
		}
		if strings.TrimSpace(question) == "" {
			return nil, fmt.Errorf("eval_questions[%d]: 'question' must be a non-empty string", i)
		}
		if !looksLikeYesNoQuestion(question) {
			return nil, fmt.Errorf("eval_questions[%d]: 'question' must be a yes/no question (e.g. starts with Is/Does/Can and ends with '?')", i)
		}

		if seen[id] {
			return nil, fmt.Errorf("eval_questions[%d]: duplicate id '%s'", i, id)
		}
		seen[id] = true

		out = append(out, Question{ID: id, Category: category, Question: question})
	}
	return out, nil
}

func looksLikeYesNoQuestion(question string) bool {
	normalized := strings.ToLower(strings.TrimSpace(question))
	if !strings.HasSuffix(normalized, "?") {
		return false
	}
	for _, prefix := range yesNoPrefixes {
		if strings.HasPrefix(normalized, prefix) {
			return true
		}
	}
	return false
}

// QuestionsToMarkdown renders questions as a markdown rubric: one section
// per category in first-seen order, bullet items per question, and a fixed
// pass-condition footer.
func QuestionsToMarkdown(questions []Question) string {
	var order []string
	byCategory := make(map[string][]Question)
	for _, q := range questions {
		if _, ok := byCategory[q.Category]; !ok {
			order = append(order, q.Category)
		}
		byCategory[q.Category] = append(byCategory[q.Category], q)
	}

	var b strings.Builder
	b.WriteString("# Evaluation Criteria\n\nUse these yes/no questions to evaluate the output.\n")
	for _, category := range order {
		label := titleCase(strings.ReplaceAll(category, "_", " "))
		b.WriteString("## ")
		b.WriteString(label)
		b.WriteString("\n\n")
		for _, q := range byCategory[category] {
			b.WriteString("- **")
			b.WriteString(q.ID)
			b.WriteString("**: ")
			b.WriteString(q.Question)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	b.WriteString("\n## Pass Condition\n\n- Weighted score >= 0.80")
	return b.String()
}

// titleCase uppercases the first letter of every word and lowercases the
// rest, treating any non-letter as a word boundary.
func titleCase(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	prevLetter := false
	for _, r := range s {
		isLetter := ('a' <= r && r <= 'z') || ('A' <= r && r <= 'Z')
		switch {
		case isLetter && !prevLetter:
			if 'a' <= r && r <= 'z' {
				r -= 'a' - 'A'
			}
			b.WriteRune(r)
		case isLetter:
			if 'A' <= r && r <= 'Z' {
				r += 'a' - 'A'
			}
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
		prevLetter = isLetter
	}
	return b.String()
}
