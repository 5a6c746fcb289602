package report

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// Renderer serializes a Summary to bytes.
type Renderer interface {
	Render(s *Summary) ([]byte, error)
}

// RendererFor returns the renderer registered under format.
func RendererFor(format string) (Renderer, error) {
	switch strings.ToLower(format) {
	case "json":
		return &JSONRenderer{}, nil
	case "yaml", "yml":
		return &YAMLRenderer{}, nil
	case "markdown", "md":
		return &MarkdownRenderer{}, nil
	case "plain", "text":
		return &PlainRenderer{}, nil
	}
	return nil, fmt.Errorf("unknown format %q (want json, yaml, markdown or plain)", format)
}

// JSONRenderer renders a Summary as indented JSON.
type JSONRenderer struct{}

func (r *JSONRenderer) Render(s *Summary) ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}

// YAMLRenderer renders a Summary as YAML.
type YAMLRenderer struct{}

func (r *YAMLRenderer) Render(s *Summary) ([]byte, error) {
	return yaml.Marshal(s)
}

const (
	markdownVersion = "<!-- headless-summary-version: 1 -->"
	markdownPrefix  = "<!-- headless-data: "
	markdownSuffix  = " -->"
)

// MarkdownRenderer renders a Summary as Markdown with an embedded base64
// JSON payload, so the file can be viewed again later.
type MarkdownRenderer struct{}

func (r *MarkdownRenderer) Render(s *Summary) ([]byte, error) {
	jsonBytes, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal summary: %w", err)
	}

	var sb strings.Builder
	sb.WriteString(markdownVersion + "\n")
	fmt.Fprintf(&sb, "%s%s%s\n\n", markdownPrefix, base64.StdEncoding.EncodeToString(jsonBytes), markdownSuffix)

	fmt.Fprintf(&sb, "# Session %s\n\n", deref(s.SessionID, "(no session)"))

	sb.WriteString("## Summary\n\n")
	fmt.Fprintf(&sb, "- Model: %s\n", deref(s.Model, "unknown"))
	fmt.Fprintf(&sb, "- Exit code: %d\n", s.ExitCode)
	fmt.Fprintf(&sb, "- Duration: %ds\n", s.DurationSeconds)
	fmt.Fprintf(&sb, "- Cost: $%.2f\n", s.CostUSD)
	fmt.Fprintf(&sb, "- Tool calls: %s\n", humanize.Comma(int64(s.ToolCalls)))
	if s.Turns != nil {
		fmt.Fprintf(&sb, "- Turns: %d\n", *s.Turns)
	}
	if flags := Flags(s); flags != "" {
		fmt.Fprintf(&sb, "- Flags: %s\n", flags)
	}
	sb.WriteString("\n")

	sb.WriteString("## Tokens\n\n")
	sb.WriteString("| Input | Output | Cache read | Cache creation | Context used |\n")
	sb.WriteString("|-------|--------|------------|----------------|--------------|\n")
	fmt.Fprintf(&sb, "| %s | %s | %s | %s | %d%% of %s |\n\n",
		humanize.Comma(s.Tokens.Input),
		humanize.Comma(s.Tokens.Output),
		humanize.Comma(s.Tokens.CacheRead),
		humanize.Comma(s.Tokens.CacheCreation),
		s.Tokens.ContextUsedPct,
		humanize.Comma(s.Tokens.ContextWindow),
	)

	sb.WriteString("## Git\n\n")
	if s.Git.StartSHA == nil && s.Git.EndSHA == nil {
		sb.WriteString("_Not a git repository._\n")
	} else {
		fmt.Fprintf(&sb, "- Range: %s..%s\n", deref(s.Git.StartSHA, "?"), deref(s.Git.EndSHA, "?"))
		fmt.Fprintf(&sb, "- Diff: %d files, +%d -%d\n", s.Git.ChangedFiles, s.Git.Insertions, s.Git.Deletions)
		fmt.Fprintf(&sb, "- Uncommitted changes: %d\n\n", s.Git.UncommittedChanges)
		sb.WriteString("### Commits\n\n")
		if len(s.Git.Commits) == 0 {
			sb.WriteString("_No commits._\n")
		}
		for _, c := range s.Git.Commits {
			fmt.Fprintf(&sb, "- %s\n", c)
		}
	}
	sb.WriteString("\n")

	if s.FilesTouched != nil {
		sb.WriteString("## Files Touched\n\n")
		if len(s.FilesTouched) == 0 {
			sb.WriteString("_No files touched._\n")
		}
		for _, f := range s.FilesTouched {
			fmt.Fprintf(&sb, "- `%s`\n", f)
		}
		sb.WriteString("\n")
	}

	sb.WriteString("## Errors\n\n")
	if len(s.Errors) == 0 {
		sb.WriteString("_No errors._\n")
	} else {
		for _, e := range s.Errors {
			sb.WriteString("```\n" + e + "\n```\n")
		}
	}
	sb.WriteString("\n")

	if s.ResumeCommand != nil {
		sb.WriteString("## Resume\n\n")
		fmt.Fprintf(&sb, "```sh\n%s\n```\n", *s.ResumeCommand)
	}
	return []byte(sb.String()), nil
}

// PlainRenderer renders a Summary as indented plain text for terminals
// without a TUI.
type PlainRenderer struct{}

func (r *PlainRenderer) Render(s *Summary) ([]byte, error) {
	var sb strings.Builder
	sb.WriteString("## Session\n")
	fmt.Fprintf(&sb, "  Session:    %s\n", deref(s.SessionID, "(none)"))
	fmt.Fprintf(&sb, "  Run:        %s\n", s.RunID)
	fmt.Fprintf(&sb, "  Model:      %s\n", deref(s.Model, "unknown"))
	fmt.Fprintf(&sb, "  Exit code:  %d\n", s.ExitCode)
	fmt.Fprintf(&sb, "  Duration:   %ds\n", s.DurationSeconds)
	fmt.Fprintf(&sb, "  Cost:       $%.2f\n", s.CostUSD)
	fmt.Fprintf(&sb, "  Tool calls: %d\n", s.ToolCalls)
	if flags := Flags(s); flags != "" {
		fmt.Fprintf(&sb, "  Flags:      %s\n", flags)
	}
	sb.WriteString("\n## Tokens\n")
	fmt.Fprintf(&sb, "  Input %s, output %s, cache read %s, cache creation %s\n",
		humanize.Comma(s.Tokens.Input), humanize.Comma(s.Tokens.Output),
		humanize.Comma(s.Tokens.CacheRead), humanize.Comma(s.Tokens.CacheCreation))
	fmt.Fprintf(&sb, "  Context:    %d%% of %s\n", s.Tokens.ContextUsedPct, humanize.Comma(s.Tokens.ContextWindow))

	sb.WriteString("\n## Git\n")
	if s.Git.StartSHA == nil && s.Git.EndSHA == nil {
		sb.WriteString("  (not a git repository)\n")
	} else {
		fmt.Fprintf(&sb, "  %s..%s  %d files, +%d -%d, %d uncommitted\n",
			deref(s.Git.StartSHA, "?"), deref(s.Git.EndSHA, "?"),
			s.Git.ChangedFiles, s.Git.Insertions, s.Git.Deletions, s.Git.UncommittedChanges)
		for _, c := range s.Git.Commits {
			fmt.Fprintf(&sb, "    %s\n", c)
		}
	}
	if len(s.FilesTouched) > 0 {
		sb.WriteString("\n## Files Touched\n")
		for _, f := range s.FilesTouched {
			fmt.Fprintf(&sb, "  %s\n", f)
		}
	}
	sb.WriteString("\n## Errors\n")
	if len(s.Errors) == 0 {
		sb.WriteString("  (none)\n")
	}
	for _, e := range s.Errors {
		sb.WriteString(indent(e, "  ") + "\n")
	}
	if s.ResumeCommand != nil {
		fmt.Fprintf(&sb, "\n## Resume\n  %s\n", *s.ResumeCommand)
	}
	return []byte(sb.String()), nil
}

// Flags lists the set boolean markers of s, e.g. "killed, incomplete".
func Flags(s *Summary) string {
	var flags []string
	if s.Killed {
		flags = append(flags, "killed")
	}
	if s.Incomplete {
		flags = append(flags, "incomplete")
	}
	if s.ContextWarning {
		flags = append(flags, "context warning")
	}
	return strings.Join(flags, ", ")
}

func deref(p *string, fallback string) string {
	if p == nil || *p == "" {
		return fallback
	}
	return *p
}

func indent(s, prefix string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		if line != "" {
			lines[i] = prefix + line
		}
	}
	return strings.Join(lines, "\n")
}
