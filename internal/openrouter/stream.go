package openrouter

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// StreamChunk is one parsed frame from a streaming completion. Exactly one
// of three shapes arrives: a content/reasoning/usage delta, the terminal
// Done marker, or an Err when the underlying read failed mid-stream.
type StreamChunk struct {
	Done             bool
	ContentDelta     string
	ReasoningDetails []map[string]any
	Usage            map[string]any
	Raw              map[string]any
	Err              error
}

// maxLineBytes bounds a single SSE data line. Usage frames from large
// models have been observed over 64KiB.
const maxLineBytes = 1024 * 1024

// Stream performs a streaming chat completion and returns a channel of
// parsed chunks. The channel closes after the Done marker, an Err chunk,
// or context cancellation. The sequence is finite and non-restartable.
func (c *Client) Stream(ctx context.Context, model string, messages []Message) (<-chan StreamChunk, error) {
	if model == "" {
		model = c.opts.Model
	}
	payload := map[string]any{
		"model":       model,
		"messages":    messages,
		"temperature": temperature,
		"stream":      true,
	}
	if c.opts.ReasoningEffort != "" {
		payload["reasoning"] = map[string]any{"effort": c.opts.ReasoningEffort}
	}

	resp, err := c.post(ctx, payload)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, statusError("stream", resp)
	}

	ch := make(chan StreamChunk)
	go func() {
		defer close(ch)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
		for scanner.Scan() {
			chunk, ok := parseSSELine(scanner.Text())
			if !ok {
				continue
			}
			select {
			case ch <- chunk:
			case <-ctx.Done():
				return
			}
			if chunk.Done {
				return
			}
		}
		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			select {
			case ch <- StreamChunk{Err: fmt.Errorf("openrouter: read stream: %w", err)}:
			case <-ctx.Done():
			}
		}
	}()
	return ch, nil
}

// streamFrame is the partial shape of one OpenRouter data frame; only the
// fields the swarm consumes are decoded.
type streamFrame struct {
	Choices []struct {
		Delta struct {
			Content          string           `json:"content"`
			ReasoningDetails []map[string]any `json:"reasoning_details"`
		} `json:"delta"`
	} `json:"choices"`
	Usage map[string]any `json:"usage"`
}

// parseSSELine parses one line of an OpenRouter SSE stream. Comment lines,
// event lines, blank lines, and malformed JSON are dropped (ok=false);
// "data: [DONE]" yields the terminal marker.
func parseSSELine(line string) (StreamChunk, bool) {
	if !strings.HasPrefix(line, "data:") {
		return StreamChunk{}, false
	}
	payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
	if payload == "[DONE]" {
		return StreamChunk{Done: true}, true
	}

	var frame streamFrame
	if err := json.Unmarshal([]byte(payload), &frame); err != nil {
		return StreamChunk{}, false
	}
	var raw map[string]any
	json.Unmarshal([]byte(payload), &raw)

	chunk := StreamChunk{Raw: raw, Usage: frame.Usage}
	if len(frame.Choices) > 0 {
		chunk.ContentDelta = frame.Choices[0].Delta.Content
		chunk.ReasoningDetails = frame.Choices[0].Delta.ReasoningDetails
	}
	return chunk, true
}
