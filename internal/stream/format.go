package stream

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"
)

const (
	bashPreview    = 80
	subtaskPreview = 60
	inputPreview   = 60
	textPreview    = 200
	// Text fragments at or below this length are streaming noise.
	minTextLen = 20
)

var commitMessageRe = regexp.MustCompile(`-m\s+["']([^"']+)["']`)

// FormatToolUse renders a tool invocation as a one-line progress message.
// An item without a name renders as "".
func FormatToolUse(item ContentItem) string {
	if item.Name == "" {
		return ""
	}
	switch item.Name {
	case "Read", "Edit", "Write":
		return item.Name + ": " + orUnknown(inputString(item.Input, "file_path"))
	case "Bash":
		return "Bash: " + truncate(inputString(item.Input, "command"), bashPreview)
	case "Grep", "Glob":
		return "Search: " + orUnknown(inputString(item.Input, "pattern"))
	case "Task":
		desc := inputString(item.Input, "description")
		if desc == "" {
			desc = "task"
		}
		return "Subagent: " + prefix(desc, subtaskPreview)
	default:
		return item.Name + ": " + prefix(compactInput(item.Input), inputPreview)
	}
}

// CommitMessage returns the message of a `git commit -m` invocation in a
// shell tool's command, or "" when the command is not a commit or the
// message is not a simple quoted argument.
func CommitMessage(item ContentItem) string {
	if item.Name != "Bash" {
		return ""
	}
	cmd := inputString(item.Input, "command")
	if !strings.Contains(cmd, "git commit") {
		return ""
	}
	m := commitMessageRe.FindStringSubmatch(cmd)
	if m == nil {
		return ""
	}
	return m[1]
}

// FormatText renders a text fragment, or "" when it is too short to be
// worth printing.
func FormatText(item ContentItem) string {
	text := strings.TrimSpace(item.Text)
	if len([]rune(text)) <= minTextLen {
		return ""
	}
	return "Text: " + truncate(text, textPreview)
}

func compactInput(input json.RawMessage) string {
	if len(input) == 0 {
		return "{}"
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, input); err != nil {
		return string(input)
	}
	return buf.String()
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

// prefix returns the first n runes of s.
func prefix(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// truncate is prefix with a trailing "..." when anything was cut.
func truncate(s string, n int) string {
	if p := prefix(s, n); p != s {
		return p + "..."
	}
	return s
}
