package stream

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/term"
)

var (
	timestampStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	warningStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
)

// Printer writes timestamped progress lines. It is safe for concurrent use
// so the timeout path can report while the aggregator is printing.
type Printer struct {
	w      io.Writer
	now    func() time.Time
	styled bool
	mu     sync.Mutex
}

// NewPrinter returns a Printer writing to w. Styling is enabled only when w
// is a terminal.
func NewPrinter(w io.Writer) *Printer {
	styled := false
	if f, ok := w.(*os.File); ok {
		styled = term.IsTerminal(f.Fd())
	}
	return &Printer{w: w, now: time.Now, styled: styled}
}

// WithClock replaces the time source. Used by tests.
func (p *Printer) WithClock(now func() time.Time) *Printer {
	p.now = now
	return p
}

// Linef prints "[HH:MM:SS] " followed by the formatted message.
func (p *Printer) Linef(format string, args ...any) {
	p.line(fmt.Sprintf(format, args...), false)
}

// Warnf is Linef with the message highlighted on a terminal.
func (p *Printer) Warnf(format string, args ...any) {
	p.line(fmt.Sprintf(format, args...), true)
}

// Detailf prints an indented continuation line without a timestamp.
func (p *Printer) Detailf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, "           "+format+"\n", args...)
}

// Blank prints an empty line.
func (p *Printer) Blank() {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.w)
}

func (p *Printer) line(msg string, warn bool) {
	ts := "[" + p.now().Format("15:04:05") + "]"
	if p.styled {
		ts = timestampStyle.Render(ts)
		if warn {
			msg = warningStyle.Render(msg)
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.w, ts+" "+msg)
}
