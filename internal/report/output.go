package report

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/fakeyudi/headless/internal/stream"
)

// Sentinel separates human-readable progress from the JSON Summary.
const Sentinel = "---CLAUDE-RUNNER-RESULT---"

// ErrNoSummary is returned by Extract when data holds no Summary.
var ErrNoSummary = errors.New("no summary found")

// Emit prints the completion banner through p, then the sentinel and the
// indented Summary to w.
func Emit(p *stream.Printer, w io.Writer, s Summary) error {
	p.Blank()
	p.Linef("Done. %d tool calls, %d commits, %d tokens, $%.2f, %ds",
		s.ToolCalls, len(s.Git.Commits), s.Tokens.Total(), s.CostUSD, s.DurationSeconds)
	if s.ContextWarning {
		p.Warnf("WARNING: Context usage at %d%%, consider starting a new session for the next batch", s.Tokens.ContextUsedPct)
	}
	p.Blank()
	return EmitPayload(w, s)
}

// EmitPayload writes only the sentinel and the Summary. Used on fatal
// errors where there is no banner to print.
func EmitPayload(w io.Writer, s Summary) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	_, err = fmt.Fprintf(w, "%s\n%s\n", Sentinel, data)
	return err
}

// Extract finds the Summary in captured supervisor output. The last
// sentinel wins; without one, data must itself be a JSON Summary.
func Extract(data []byte) (*Summary, error) {
	payload := data
	if i := bytes.LastIndex(data, []byte(Sentinel)); i >= 0 {
		payload = data[i+len(Sentinel):]
	}
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 || payload[0] != '{' {
		return nil, ErrNoSummary
	}
	var s Summary
	dec := json.NewDecoder(bytes.NewReader(payload))
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoSummary, err)
	}
	return &s, nil
}
