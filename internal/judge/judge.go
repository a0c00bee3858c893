// Package judge runs LLM-as-judge scoring: each model output is graded
// against the scenario's yes/no question bank by a lightweight judge model,
// producing per-category scores and a cross-model ranking.
package judge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hivemetrics/swarmbench/internal/benchspec"
	"github.com/hivemetrics/swarmbench/internal/openrouter"
)

// DefaultModel is the judge model when the config names none.
const DefaultModel = "google/gemini-2.5-flash"

const systemPrompt = `You are an expert evaluation judge. You will be given a model's response to a benchmark task, along with a list of yes/no evaluation questions.

For EACH question, answer strictly "yes" or "no" based on the model's response.

You MUST respond with valid JSON only — no explanation, no markdown fences, no extra text.

The JSON format must be:
{"answers": {"c1": "yes", "c2": "no", ...}}

Use the exact question IDs provided. Answer every question.`

// Completer is the one-shot chat-completion dependency.
type Completer interface {
	Complete(ctx context.Context, model string, messages []openrouter.Message) (*openrouter.Completion, error)
}

// Opts configures a Judge.
type Opts struct {
	Client Completer
	Model  string
}

// Judge grades model outputs with a chat model.
type Judge struct {
	client Completer
	model  string
}

// New builds a Judge.
func New(opts Opts) (*Judge, error) {
	if opts.Client == nil {
		return nil, errors.New("judge: client is required")
	}
	model := opts.Model
	if model == "" {
		model = DefaultModel
	}
	return &Judge{client: opts.Client, model: model}, nil
}

// Score is the grading of one model output.
type Score struct {
	ModelID    string             `json:"model_id"`
	Answers    map[string]string  `json:"answers"`
	Scores     map[string]float64 `json:"scores"`
	LatencyMS  int64              `json:"latency_ms"`
	TokensIn   int                `json:"tokens_in"`
	TokensOut  int                `json:"tokens_out"`
	JudgeModel string             `json:"judge_model"`
}

// SweepResult aggregates Scores across models.
type SweepResult struct {
	Models    map[string]*Score `json:"models"`
	Ranking   []string          `json:"ranking"`
	BestModel string            `json:"best_model,omitempty"`
}

// ScoreOutput grades one output against the question bank. Per-category
// scores are the fraction of yes answers in that category, rounded to three
// decimals; "overall" is the yes fraction across the whole bank.
func (j *Judge) ScoreOutput(ctx context.Context, modelID, output string, questions []benchspec.Question) (*Score, error) {
	if len(questions) == 0 {
		return nil, errors.New("judge: no questions to score against")
	}

	var block strings.Builder
	for i, q := range questions {
		if i > 0 {
			block.WriteString("\n")
		}
		fmt.Fprintf(&block, "- [%s] (%s): %s", q.ID, q.Category, q.Question)
	}

	userPrompt := fmt.Sprintf(`## Model Response to Evaluate

%s

---

## Evaluation Questions

%s

Respond with JSON only: {"answers": {"c1": "yes", ...}}`, output, block.String())

	start := time.Now()
	completion, err := j.client.Complete(ctx, j.model, []openrouter.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: userPrompt},
	})
	if err != nil {
		return nil, fmt.Errorf("judge: completion: %w", err)
	}
	latencyMS := time.Since(start).Milliseconds()

	var parsed struct {
		Answers map[string]string `json:"answers"`
	}
	content := stripFences(completion.Text())
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return nil, fmt.Errorf("judge: parse answers: %w", err)
	}
	if parsed.Answers == nil {
		return nil, errors.New("judge: response missing answers")
	}

	scores := categoryScores(parsed.Answers, questions)

	usage := completion.Usage
	return &Score{
		ModelID:    modelID,
		Answers:    parsed.Answers,
		Scores:     scores,
		LatencyMS:  latencyMS,
		TokensIn:   usageInt(usage, "prompt_tokens"),
		TokensOut:  usageInt(usage, "completion_tokens"),
		JudgeModel: j.model,
	}, nil
}

// ScoreRun grades one representative output per model concurrently. A model
// whose judge call fails is logged and excluded rather than failing the
// sweep. Ranking is by overall score descending, model id breaking ties.
func (j *Judge) ScoreRun(ctx context.Context, outputs map[string]string, questions []benchspec.Question) *SweepResult {
	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		models = make(map[string]*Score, len(outputs))
	)
	for modelID, output := range outputs {
		wg.Add(1)
		go func(modelID, output string) {
			defer wg.Done()
			score, err := j.ScoreOutput(ctx, modelID, output, questions)
			if err != nil {
				log.Printf("judge: score %s: %v", modelID, err)
				return
			}
			mu.Lock()
			models[modelID] = score
			mu.Unlock()
		}(modelID, output)
	}
	wg.Wait()

	ranking := make([]string, 0, len(models))
	for modelID := range models {
		ranking = append(ranking, modelID)
	}
	sort.Slice(ranking, func(a, b int) bool {
		sa, sb := models[ranking[a]].Scores["overall"], models[ranking[b]].Scores["overall"]
		if sa != sb {
			return sa > sb
		}
		return ranking[a] < ranking[b]
	})

	result := &SweepResult{Models: models, Ranking: ranking}
	if len(ranking) > 0 {
		result.BestModel = ranking[0]
	}
	return result
}

// categoryScores computes the yes fraction per category (first-seen order
// defines which categories exist) plus the overall yes fraction.
func categoryScores(answers map[string]string, questions []benchspec.Question) map[string]float64 {
	perCategory := make(map[string][2]int) // yes, total
	for _, q := range questions {
		counts := perCategory[q.Category]
		counts[1]++
		if isYes(answers[q.ID]) {
			counts[0]++
		}
		perCategory[q.Category] = counts
	}

	scores := make(map[string]float64, len(perCategory)+1)
	for category, counts := range perCategory {
		scores[category] = round3(float64(counts[0]) / float64(counts[1]))
	}

	totalYes := 0
	for _, answer := range answers {
		if isYes(answer) {
			totalYes++
		}
	}
	scores["overall"] = round3(float64(totalYes) / float64(len(questions)))
	return scores
}

func isYes(answer string) bool {
	return strings.HasPrefix(strings.ToLower(answer), "y")
}

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}

func usageInt(usage map[string]any, key string) int {
	if f, ok := usage[key].(float64); ok {
		return int(f)
	}
	return 0
}

// stripFences removes a surrounding markdown code fence, which some judge
// models add despite the JSON-only instruction.
func stripFences(content string) string {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "```") {
		return content
	}
	if idx := strings.Index(content, "\n"); idx >= 0 {
		content = content[idx+1:]
	} else {
		content = content[3:]
	}
	content = strings.TrimSuffix(content, "```")
	return strings.TrimSpace(content)
}
