// Package tui provides a Bubble Tea viewer for session Summaries.
package tui

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/fakeyudi/headless/internal/report"
)

// ── Styles ────────────

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("62")).
			Padding(0, 2)

	activeTabStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)

	inactiveTabStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("245")).
				Background(lipgloss.Color("235")).
				Padding(0, 1)

	tabSepStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("238")).
			Background(lipgloss.Color("235"))

	sectionHeader = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("86"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("33")).
			Bold(true)

	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	bulletStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))

	addStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("82"))
	delStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))

	barFullStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("62"))
	barWarnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	barEmptyStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("238"))

	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("235")).
			Foreground(lipgloss.Color("245")).
			Padding(0, 1)
)

// ── Tabs ─────────────────

type tabID int

const (
	tabSummary tabID = iota
	tabTokens
	tabGit
	tabFiles
	tabErrors
	tabCount
)

var tabNames = [tabCount]string{"Summary", "Tokens", "Git", "Files", "Errors"}

// barWidth is the width of the context usage bar.
const barWidth = 40

// ── Model ────────────────────

// Model is the root Bubble Tea model for the viewer.
type Model struct {
	summary   *report.Summary
	filename  string
	activeTab tabID
	viewports [tabCount]viewport.Model
	width     int
	height    int
	ready     bool
	// Files tab groups paths by directory when set.
	grouped bool
}

// New creates a viewer for s read from filename.
func New(s *report.Summary, filename string) Model {
	return Model{
		summary:  s,
		filename: filepath.Base(filename),
	}
}

func (m Model) Init() tea.Cmd { return nil }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "tab", "l", "right":
			m.activeTab = (m.activeTab + 1) % tabCount
			return m, nil
		case "shift+tab", "h", "left":
			m.activeTab = (m.activeTab - 1 + tabCount) % tabCount
			return m, nil
		case "1", "2", "3", "4", "5":
			m.activeTab = tabID(msg.String()[0] - '1')
			return m, nil
		case "g":
			if m.activeTab == tabFiles {
				m.grouped = !m.grouped
				if m.ready {
					m.viewports[tabFiles].SetContent(m.renderTab(tabFiles))
					m.viewports[tabFiles].GotoTop()
				}
				return m, nil
			}
		}
		if !m.ready {
			return m, nil
		}
		var cmd tea.Cmd
		m.viewports[m.activeTab], cmd = m.viewports[m.activeTab].Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ready = true
		m.initViewports()
		return m, nil
	}
	return m, nil
}

func (m Model) View() string {
	if !m.ready {
		return "Loading…"
	}

	name := "headless  " + m.filename
	if m.summary.SessionID != nil {
		name += "  " + *m.summary.SessionID
	}
	title := titleStyle.Width(m.width).Render(name)

	var tabParts []string
	for i := tabID(0); i < tabCount; i++ {
		label := fmt.Sprintf(" %d %s ", i+1, tabNames[i])
		if i == tabErrors && len(m.summary.Errors) > 0 {
			label = fmt.Sprintf(" %d %s (%d) ", i+1, tabNames[i], len(m.summary.Errors))
		}
		if i == m.activeTab {
			tabParts = append(tabParts, activeTabStyle.Render(label))
		} else {
			tabParts = append(tabParts, inactiveTabStyle.Render(label))
		}
		if i < tabCount-1 {
			tabParts = append(tabParts, tabSepStyle.Render("│"))
		}
	}
	tabRow := lipgloss.NewStyle().
		Background(lipgloss.Color("235")).
		Width(m.width).
		Render(lipgloss.JoinHorizontal(lipgloss.Top, tabParts...))

	content := m.viewports[m.activeTab].View()

	hint := "  ←/→ tab  ↑/↓ scroll  1-5 jump  q quit"
	if m.activeTab == tabFiles {
		hint += "  g group by directory"
	}
	pct := fmt.Sprintf("%3.0f%%", m.viewports[m.activeTab].ScrollPercent()*100)
	pad := m.width - lipgloss.Width(hint) - len(pct) - 2
	if pad < 1 {
		pad = 1
	}
	statusBar := statusBarStyle.Width(m.width).Render(hint + strings.Repeat(" ", pad) + pct)

	return lipgloss.JoinVertical(lipgloss.Left, title, tabRow, content, statusBar)
}

func (m *Model) initViewports() {
	// title, tab row and status bar
	vpHeight := m.height - 3
	if vpHeight < 1 {
		vpHeight = 1
	}
	for i := tabID(0); i < tabCount; i++ {
		vp := viewport.New(m.width, vpHeight)
		vp.SetContent(m.renderTab(i))
		m.viewports[i] = vp
	}
}

// ── Tab renderers ─────────────────

func (m *Model) renderTab(t tabID) string {
	switch t {
	case tabSummary:
		return m.renderSummary()
	case tabTokens:
		return m.renderTokens()
	case tabGit:
		return m.renderGit()
	case tabFiles:
		return m.renderFiles()
	case tabErrors:
		return m.renderErrors()
	}
	return ""
}

func heading(s string) string {
	return "\n" + sectionHeader.Render("  "+s) + "\n\n"
}

func bullet(text string) string {
	return bulletStyle.Render("  •") + "  " + text + "\n"
}

func row(sb *strings.Builder, label, value string) {
	sb.WriteString(labelStyle.Render(fmt.Sprintf("  %-14s", label)) + "  " + value + "\n")
}

func orDash(p *string) string {
	if p == nil || *p == "" {
		return "-"
	}
	return *p
}

func (m *Model) renderSummary() string {
	s := m.summary
	var sb strings.Builder
	sb.WriteString(heading("Session"))
	row(&sb, "Session:", orDash(s.SessionID))
	row(&sb, "Run:", s.RunID)
	row(&sb, "Model:", orDash(s.Model))
	row(&sb, "Exit code:", fmt.Sprintf("%d", s.ExitCode))
	row(&sb, "Duration:", fmt.Sprintf("%ds", s.DurationSeconds))
	row(&sb, "Cost:", fmt.Sprintf("$%.2f", s.CostUSD))
	row(&sb, "Tool calls:", humanize.Comma(int64(s.ToolCalls)))
	if s.Turns != nil {
		row(&sb, "Turns:", fmt.Sprintf("%d", *s.Turns))
	}
	if s.ResultSubtype != "" {
		row(&sb, "Result:", s.ResultSubtype)
	}
	if flags := report.Flags(s); flags != "" {
		row(&sb, "Flags:", warnStyle.Render(flags))
	}
	if s.ResumeCommand != nil {
		sb.WriteString(heading("Resume"))
		sb.WriteString("  " + *s.ResumeCommand + "\n")
	}
	return sb.String()
}

func (m *Model) renderTokens() string {
	t := m.summary.Tokens
	var sb strings.Builder
	sb.WriteString(heading("Token Usage"))
	row(&sb, "Input:", humanize.Comma(t.Input))
	row(&sb, "Output:", humanize.Comma(t.Output))
	row(&sb, "Cache read:", humanize.Comma(t.CacheRead))
	row(&sb, "Cache create:", humanize.Comma(t.CacheCreation))
	row(&sb, "Total:", humanize.Comma(t.Total()))

	sb.WriteString(heading("Context Window"))
	row(&sb, "Window:", humanize.Comma(t.ContextWindow))
	row(&sb, "Used:", fmt.Sprintf("%d%%", t.ContextUsedPct))
	sb.WriteString("  " + usageBar(t.ContextUsedPct, m.summary.ContextWarning) + "\n")
	if m.summary.ContextWarning {
		sb.WriteString("\n" + warnStyle.Render("  Consider starting a new session for the next batch.") + "\n")
	}
	return sb.String()
}

// usageBar draws pct of barWidth cells, clamped to the bar.
func usageBar(pct int, warn bool) string {
	filled := pct * barWidth / 100
	if filled > barWidth {
		filled = barWidth
	}
	if filled < 0 {
		filled = 0
	}
	style := barFullStyle
	if warn {
		style = barWarnStyle
	}
	return style.Render(strings.Repeat("█", filled)) + barEmptyStyle.Render(strings.Repeat("░", barWidth-filled))
}

func (m *Model) renderGit() string {
	g := m.summary.Git
	var sb strings.Builder
	sb.WriteString(heading("Git Changes"))
	if g.StartSHA == nil && g.EndSHA == nil {
		sb.WriteString(dimStyle.Render("  (not a git repository or git data unavailable)") + "\n")
		return sb.String()
	}
	row(&sb, "Start:", orDash(g.StartSHA))
	row(&sb, "End:", orDash(g.EndSHA))
	row(&sb, "Changed files:", fmt.Sprintf("%d", g.ChangedFiles))
	row(&sb, "Lines:", addStyle.Render(fmt.Sprintf("+%d", g.Insertions))+" "+delStyle.Render(fmt.Sprintf("-%d", g.Deletions)))
	row(&sb, "Uncommitted:", fmt.Sprintf("%d", g.UncommittedChanges))

	sb.WriteString(heading(fmt.Sprintf("Commits (%d)", len(g.Commits))))
	if len(g.Commits) == 0 {
		sb.WriteString(dimStyle.Render("  (none)") + "\n")
	}
	for _, c := range g.Commits {
		sb.WriteString(bullet(c))
	}
	return sb.String()
}

func (m *Model) renderFiles() string {
	files := m.summary.FilesTouched
	var sb strings.Builder
	sb.WriteString(heading(fmt.Sprintf("Files Touched (%d)", len(files))))
	if files == nil {
		sb.WriteString(dimStyle.Render("  (file watching was not enabled for this session)") + "\n")
		return sb.String()
	}
	if len(files) == 0 {
		sb.WriteString(dimStyle.Render("  (none)") + "\n")
		return sb.String()
	}
	if !m.grouped {
		for i, f := range files {
			sb.WriteString(dimStyle.Render(fmt.Sprintf("  %3d.", i+1)) + "  " + f + "\n")
		}
		return sb.String()
	}
	// files are sorted, so each directory's entries are contiguous
	current := "\x00"
	for _, f := range files {
		dir, base := splitDir(f)
		if dir != current {
			current = dir
			sb.WriteString(labelStyle.Render("  "+dir) + "\n")
		}
		sb.WriteString(bullet(base))
	}
	return sb.String()
}

func splitDir(p string) (string, string) {
	i := strings.LastIndex(p, "/")
	if i < 0 {
		return "./", p
	}
	return p[:i+1], p[i+1:]
}

func (m *Model) renderErrors() string {
	var sb strings.Builder
	sb.WriteString(heading(fmt.Sprintf("Errors (%d)", len(m.summary.Errors))))
	if len(m.summary.Errors) == 0 {
		sb.WriteString(dimStyle.Render("  (none)") + "\n")
		return sb.String()
	}
	for i, e := range m.summary.Errors {
		sb.WriteString(dimStyle.Render(fmt.Sprintf("  %3d.", i+1)) + "\n")
		sb.WriteString(errorStyle.Render(indent(e, "    ")) + "\n\n")
	}
	return sb.String()
}

func indent(s, prefix string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		if l != "" {
			lines[i] = prefix + l
		}
	}
	return strings.Join(lines, "\n")
}

// Run starts the viewer for s in the alternate screen.
func Run(s *report.Summary, filename string) error {
	p := tea.NewProgram(New(s, filename), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
