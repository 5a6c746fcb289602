package stream

import (
	"bufio"
	"io"
	"log/slog"

	"github.com/fakeyudi/headless/internal/logging"
)

const (
	initialLineBuffer = 64 * 1024
	maxLineBuffer     = 64 * 1024 * 1024
)

// SessionState accumulates what the stream has told us about a session.
type SessionState struct {
	SessionID  string
	Model      string
	ToolCalls  int
	Errors     []string
	Result     *Record // last result record seen
	Incomplete bool    // true until a result record arrives
}

// Aggregator folds records into a SessionState. It is not safe for
// concurrent use: one goroutine owns it for the lifetime of the session.
type Aggregator struct {
	printer *Printer
	logger  *slog.Logger
	state   SessionState
}

// NewAggregator returns an Aggregator printing progress through p. A nil
// printer prints nothing.
func NewAggregator(p *Printer, logger *slog.Logger) *Aggregator {
	return &Aggregator{
		printer: p,
		logger:  logging.OrNop(logger),
		state:   SessionState{Errors: []string{}, Incomplete: true},
	}
}

// Consume reads r line by line until EOF. Lines that do not decode are
// skipped. If reading fails, the rest of r is discarded so the writer
// never blocks on a full pipe.
func (a *Aggregator) Consume(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, initialLineBuffer), maxLineBuffer)
	for scanner.Scan() {
		if rec, ok := Decode(scanner.Bytes()); ok {
			a.Handle(rec)
		}
	}
	if err := scanner.Err(); err != nil {
		a.logger.Warn("agent output unreadable, discarding remainder", "error", err)
		_, _ = io.Copy(io.Discard, r)
	}
}

// Handle applies one record to the state.
func (a *Aggregator) Handle(rec Record) {
	if rec.SessionID != "" && a.state.SessionID == "" {
		a.state.SessionID = rec.SessionID
		a.printf("Session: %s", rec.SessionID)
	}

	if rec.Type == TypeAssistant && rec.Message != nil {
		if rec.Message.Model != "" && a.state.Model == "" {
			a.state.Model = rec.Message.Model
		}
		for _, item := range rec.Message.Content {
			a.handleContent(item)
		}
	}

	if rec.Type == TypeResult {
		r := rec
		a.state.Result = &r
		a.state.Incomplete = false
		if rec.IsError {
			subtype := rec.Subtype
			if subtype == "" {
				subtype = "error"
			}
			a.state.Errors = append(a.state.Errors, "agent reported "+subtype)
		}
		a.logger.Debug("result record received", "subtype", rec.Subtype, "turns", rec.NumTurns)
	}
}

func (a *Aggregator) handleContent(item ContentItem) {
	switch item.Type {
	case ContentToolUse:
		a.state.ToolCalls++
		line := FormatToolUse(item)
		if line == "" {
			return
		}
		a.printf("%s", line)
		if msg := CommitMessage(item); msg != "" {
			a.printf("Commit: %s", msg)
		}
	case ContentText:
		if line := FormatText(item); line != "" {
			a.printf("%s", line)
		}
	}
}

func (a *Aggregator) printf(format string, args ...any) {
	if a.printer != nil {
		a.printer.Linef(format, args...)
	}
}

// State returns a copy of the accumulated state. Call it only after
// Consume has returned.
func (a *Aggregator) State() SessionState {
	s := a.state
	s.Errors = append([]string{}, a.state.Errors...)
	return s
}
